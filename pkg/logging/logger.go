// Package logging provides the structured logger used across podium services.
// It is a thin layer over log/slog: text to stderr by default, optional JSON,
// and child loggers carrying a fixed label such as an entity or service name.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Level aliases slog.Level for configuration without importing slog at every
// call site.
type Level = slog.Level

// Log levels re-exported for config files and flags.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Config controls logger construction. The zero value logs Info+ as text to
// stderr.
type Config struct {
	Level   Level
	JSON    bool
	Service string
	// Writer overrides the destination, primarily for tests. Nil means
	// stderr.
	Writer io.Writer
}

// Logger wraps slog.Logger with label-scoped children.
type Logger struct {
	slog *slog.Logger
}

// New constructs a logger from config.
func New(cfg Config) *Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}
	return &Logger{slog: slog.New(handler)}
}

// Default returns an Info-level stderr logger labelled "podium".
func Default() *Logger {
	return New(Config{Service: "podium"})
}

// Discard returns a logger that drops everything, for tests.
func Discard() *Logger {
	return New(Config{Writer: io.Discard, Level: slog.LevelError + 4})
}

// With returns a child logger carrying additional attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

// Debug logs at debug level with key-value attributes.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// Slog exposes the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger { return l.slog }
