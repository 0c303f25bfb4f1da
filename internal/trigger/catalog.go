package trigger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kingrea/tollgate/internal/pipeline"
)

// Catalog holds the pipelines loaded from a directory and can reload them
// when the directory changes.
type Catalog struct {
	dir    string
	logger *slog.Logger

	mu   sync.RWMutex
	defs []pipeline.Definition
}

// NewCatalog creates an empty catalog for dir. Call Reload to populate it.
func NewCatalog(dir string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Catalog{dir: dir, logger: logger}
}

// Dir returns the watched directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// Reload reads every pipeline in the directory. On error the previous set
// stays active.
func (c *Catalog) Reload() error {
	defs, err := pipeline.LoadDir(c.dir)
	if err != nil {
		return err
	}
	normalized := make([]pipeline.Definition, 0, len(defs))
	for _, def := range defs {
		n, err := def.Normalized()
		if err != nil {
			return err
		}
		n.Source = def.Source
		normalized = append(normalized, n)
	}
	c.mu.Lock()
	c.defs = normalized
	c.mu.Unlock()
	return nil
}

// Definitions returns a snapshot of the loaded pipelines.
func (c *Catalog) Definitions() []pipeline.Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]pipeline.Definition, len(c.defs))
	for i, def := range c.defs {
		out[i] = def.Clone()
	}
	return out
}

// Find looks a pipeline up by ID.
func (c *Catalog) Find(id string) (pipeline.Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := pipeline.Find(c.defs, id)
	if !ok {
		return pipeline.Definition{}, false
	}
	return def.Clone(), true
}

// Watch reloads the catalog whenever a pipeline file changes, until ctx is
// done. Bursts of events are coalesced over settle.
func (c *Catalog) Watch(ctx context.Context, settle time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("trigger: watch %s: %w", c.dir, err)
	}
	defer watcher.Close()
	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("trigger: watch %s: %w", c.dir, err)
	}
	if settle <= 0 {
		settle = 200 * time.Millisecond
	}
	timer := time.NewTimer(settle)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			timer.Reset(settle)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("pipeline watcher error", "dir", c.dir, "error", err)
		case <-timer.C:
			if err := c.Reload(); err != nil {
				c.logger.Error("reload pipelines", "dir", c.dir, "error", err)
				continue
			}
			c.logger.Info("pipelines reloaded", "dir", c.dir, "count", len(c.Definitions()))
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	_, ok := pipeline.FormatForPath(filepath.Base(event.Name))
	return ok
}
