// Package applog provides the structured logger shared by the asset
// library's components. It wraps a slog.Logger behind a small
// Debug/Info/Warn/Error interface so that dbsession, filestore, and
// importer — each of which declares its own consumer-side Logger
// interface rather than importing this package's type — can be handed
// the same concrete logger without creating an import cycle.
package applog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// New creates a structured logger writing key=value lines to both
// logDir/assetstore.log and stderr, filtered at minLevel. Every line
// carries a fixed "op" attribute identifying the process invocation it
// belongs to (e.g. a CLI command's start timestamp), so lines from
// concurrent invocations sharing the same log file can be told apart.
// It returns the slog.Logger, the open log file (for cleanup), and any
// error.
func New(logDir string, opID string, minLevel slog.Level) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "assetstore.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	w := io.MultiWriter(f, os.Stderr)
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: minLevel})
	logger := slog.New(h).With("op", opID)
	return logger, f, nil
}

// Adapter wraps *slog.Logger to satisfy the Debug/Info/Warn/Error
// Logger interfaces declared independently by dbsession, filestore, and
// importer.
type Adapter struct {
	L *slog.Logger
}

func (a *Adapter) Debug(msg string, args ...any) { a.L.Debug(msg, args...) }
func (a *Adapter) Info(msg string, args ...any)  { a.L.Info(msg, args...) }
func (a *Adapter) Warn(msg string, args ...any)  { a.L.Warn(msg, args...) }
func (a *Adapter) Error(msg string, args ...any) { a.L.Error(msg, args...) }
