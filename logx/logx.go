// Package logx builds the slog loggers used across datascan.
package logx

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// ParseLevel converts debug|info|warn|error to a slog.Level. Unknown → info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a text logger writing to stderr.
func New(level string) *slog.Logger {
	return NewWriter(os.Stderr, level)
}

func NewWriter(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// Discard drops everything, for tests and dry runs.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithRun tags every record of a pass with a fresh run_id.
func WithRun(l *slog.Logger) (*slog.Logger, string) {
	id := uuid.NewString()
	return l.With("run_id", id), id
}
