package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kingrea/tollgate/internal/artifact"
	"github.com/kingrea/tollgate/internal/logbook"
	"github.com/kingrea/tollgate/internal/release"
	"github.com/kingrea/tollgate/internal/report"
)

// ErrRunNotFound is returned when no persisted run exists for an ID.
var ErrRunNotFound = errors.New("engine: run not found")

// RunRecord is everything a finished run persists.
type RunRecord struct {
	Report report.Report
	// Logs maps instance IDs to captured tool output.
	Logs map[string]string
	// Notes is the rendered release notes body, if the run released.
	Notes string
}

// RunStore persists run results.
type RunStore interface {
	Journal(runID string) (*logbook.Logbook, error)
	Save(RunRecord) error
	Load(runID string) (report.Report, error)
	Discard(runID string) error
	Prune(keep int) ([]string, error)
}

// Repository stores runs under .tollgate/runs/<run-id>/.
type Repository struct {
	dir   string
	clock func() time.Time
}

// RepositoryOption customizes a Repository.
type RepositoryOption func(*Repository)

// WithRepositoryClock overrides metadata timestamps.
func WithRepositoryClock(clock func() time.Time) RepositoryOption {
	return func(r *Repository) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewRepository creates a repository rooted at the runs directory.
func NewRepository(runsDir string, opts ...RepositoryOption) *Repository {
	r := &Repository{dir: runsDir, clock: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunDir returns the directory of one run.
func (r *Repository) RunDir(runID string) string {
	return filepath.Join(r.dir, runID)
}

func (r *Repository) store(runID string) (*artifact.Store, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	return artifact.NewStore(r.RunDir(runID), artifact.WithClock(r.clock)), nil
}

// Journal opens the run's journal.
func (r *Repository) Journal(runID string) (*logbook.Logbook, error) {
	store, err := r.store(runID)
	if err != nil {
		return nil, err
	}
	return logbook.New(artifact.JournalText.Path(store.Dir()), logbook.WithClock(r.clock))
}

// Save writes the report, job logs and release artifacts.
func (r *Repository) Save(rec RunRecord) error {
	rep := rec.Report
	store, err := r.store(rep.RunID)
	if err != nil {
		return err
	}
	meta := artifact.Metadata{RunID: rep.RunID, Pipeline: rep.PipelineID, Ref: rep.Event.Ref}
	if rep.Release != nil && rep.Release.Error == "" {
		meta.Version = rep.Release.Decision.ComputedVersion.String()
	}
	var buf bytes.Buffer
	if err := rep.WriteJSON(&buf); err != nil {
		return fmt.Errorf("engine: encode report: %w", err)
	}
	if err := store.Write(artifact.ReportJSON, buf.Bytes(), meta); err != nil {
		return fmt.Errorf("engine: write report: %w", err)
	}
	for _, outcome := range rep.Outcomes {
		log := rec.Logs[outcome.InstanceID]
		if err := store.Write(artifact.JobLog(outcome.InstanceID), []byte(log), meta); err != nil {
			return fmt.Errorf("engine: write log for %s: %w", outcome.InstanceID, err)
		}
	}
	if rep.Release == nil || rep.Release.Error != "" {
		return nil
	}
	if err := store.Write(artifact.VersionText, []byte(meta.Version+"\n"), meta); err != nil {
		return fmt.Errorf("engine: write version: %w", err)
	}
	docMeta := meta
	docMeta.Notes = map[string]string{
		"bump": rep.Release.Decision.Bump.String(),
		"gate": gateLabel(rep.Release.Gate),
		"tag":  rep.Release.Tag,
	}
	if err := store.Write(artifact.ChangelogDoc, []byte(rec.Notes), docMeta); err != nil {
		return fmt.Errorf("engine: write changelog: %w", err)
	}
	return nil
}

// Load reads a persisted report.
func (r *Repository) Load(runID string) (report.Report, error) {
	store, err := r.store(runID)
	if err != nil {
		return report.Report{}, err
	}
	data, _, err := store.Read(artifact.ReportJSON)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return report.Report{}, ErrRunNotFound
		}
		return report.Report{}, err
	}
	return report.Decode(data)
}

// Discard removes everything a run wrote.
func (r *Repository) Discard(runID string) error {
	if err := validRunID(runID); err != nil {
		return err
	}
	return os.RemoveAll(r.RunDir(runID))
}

// List returns persisted run IDs, newest first.
func (r *Repository) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	type run struct {
		id  string
		mod time.Time
	}
	var runs []run
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		runs = append(runs, run{id: entry.Name(), mod: info.ModTime()})
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].mod.Equal(runs[j].mod) {
			return runs[i].id > runs[j].id
		}
		return runs[i].mod.After(runs[j].mod)
	})
	ids := make([]string, len(runs))
	for i, run := range runs {
		ids[i] = run.id
	}
	return ids, nil
}

// Prune keeps the newest keep runs and removes the rest. keep <= 0 disables
// pruning.
func (r *Repository) Prune(keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	ids, err := r.List()
	if err != nil || len(ids) <= keep {
		return nil, err
	}
	removed := ids[keep:]
	for _, id := range removed {
		if err := os.RemoveAll(r.RunDir(id)); err != nil {
			return nil, err
		}
	}
	return removed, nil
}

func validRunID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("engine: invalid run id %q", id)
	}
	return nil
}

func gateLabel(gate release.GateResult) string {
	if gate.Passed {
		return "passed"
	}
	return "blocked"
}
