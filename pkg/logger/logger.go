// Package logger builds the structured JSON loggers shared by the server and the simulator.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// Config holds the configuration for the logger.
type Config struct {
	// Output is the primary log writer (defaults to os.Stdout).
	Output io.Writer
	// File, when set, receives a copy of every record. The file is appended to and created
	// along with its parent directory if missing.
	File string
	// Level is the minimum log level to output.
	Level slog.Level
	// AddSource adds source code position to log records.
	AddSource bool
}

// DefaultConfig returns a Config writing info and above to stdout.
func DefaultConfig() *Config {
	return &Config{
		Level:  slog.LevelInfo,
		Output: os.Stdout,
	}
}

// New creates a JSON logger. When cfg.File is set the records are fanned out to the primary
// output and the file; the returned closer releases the file and is never nil.
func New(cfg *Config) (*slog.Logger, io.Closer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	primary := slog.NewJSONHandler(out, opts)
	if cfg.File == "" {
		return slog.New(primary), nopCloser{}, nil
	}

	f, err := openLogFile(cfg.File)
	if err != nil {
		return nil, nil, err
	}

	handler := slogmulti.Fanout(primary, slog.NewJSONHandler(f, opts))
	return slog.New(handler), f, nil
}

// MustNew is like New for configurations without a file and panics on error.
func MustNew(cfg *Config) *slog.Logger {
	l, _, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return l
}

// NewWithLevel creates a stdout JSON logger with the specified log level.
func NewWithLevel(level slog.Level) *slog.Logger {
	cfg := DefaultConfig()
	cfg.Level = level
	return MustNew(cfg)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel converts a level name to a slog.Level. Supported values are "debug", "info",
// "warn" (or "warning") and "error" in any case; anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Component returns a logger tagging every record with the component name.
func Component(l *slog.Logger, name string) *slog.Logger {
	return l.With(slog.String("component", name))
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
