// Package log holds the daemon's process-wide slog logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Service is attached to every record of the process logger.
const Service = "tapemaintd"

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup installs the process logger on stdout and makes it the slog
// default. Only the first call has any effect.
func Setup(level, format string) {
	once.Do(func() {
		logger = New(os.Stdout, level, format).With(slog.String("service", Service))
		slog.SetDefault(logger)
	})
}

// New builds a standalone logger. Format "text" selects logfmt-style
// output; anything else is JSON.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel maps a config level name to a slog level, defaulting to INFO.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Get returns the process logger, installing a JSON/INFO one if Setup has
// not run.
func Get() *slog.Logger {
	Setup("INFO", "json")
	return logger
}

func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithRoutine scopes a maintenance logger to one routine.
func WithRoutine(name string) *slog.Logger {
	return WithComponent("maintenance").With(slog.String("routine", name))
}
