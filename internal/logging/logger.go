// Package logging writes the process log to .tollgate/logs/tollgate.log so
// runs started by the trigger bridge can be inspected after the fact.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/kingrea/tollgate/internal/config"
)

// FileName is the process log inside the logs directory.
const FileName = "tollgate.log"

// Logger is a structured logger with a Printf shim for components that only
// need a line of text. A nil *Logger discards everything.
type Logger struct {
	file io.Closer
	slog *slog.Logger
}

// Options tune the handler.
type Options struct {
	Level   slog.Leveler
	NoColor bool
}

// New creates (or reuses) the log file for the current project directory.
func New(projectDir string) (*Logger, error) {
	logDir := filepath.Join(projectDir, config.Dir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	l := NewWriter(f, Options{NoColor: true, Level: slog.LevelDebug})
	l.file = f
	return l, nil
}

// NewWriter logs to w, typically stderr.
func NewWriter(w io.Writer, opts Options) *Logger {
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		NoColor:    opts.NoColor,
		TimeFormat: time.RFC3339,
	})
	return &Logger{slog: slog.New(handler)}
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Printf writes a single info line.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.slog == nil {
		return
	}
	l.slog.Info(strings.TrimRight(fmt.Sprintf(format, args...), "\n"))
}

// Slog exposes the structured logger. It never returns nil.
func (l *Logger) Slog() *slog.Logger {
	if l == nil || l.slog == nil {
		return discard
	}
	return l.slog
}

// With returns a logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	if l == nil || l.slog == nil {
		return l
	}
	return &Logger{slog: l.slog.With(args...)}
}

var discard = slog.New(tint.NewHandler(io.Discard, &tint.Options{Level: slog.Level(127)}))
