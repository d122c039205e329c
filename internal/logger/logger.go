// Package logger builds the zerolog logger shared by all binaries.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/hive-corporation/varonis-dsp/internal/config"
)

// New returns a logger writing to stdout, and to cfg.File when set. The
// returned closer releases the file and is safe to call when none was opened.
func New(cfg config.LoggingConfig, service string) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("opening log file: %w", err)
		}
		out = io.MultiWriter(out, f)
		closer = f
	}

	return build(out, level, service), closer, nil
}

func build(w io.Writer, level zerolog.Level, service string) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Bootstrap is the console logger used before the configuration is loaded.
func Bootstrap(service string) zerolog.Logger {
	return build(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, zerolog.InfoLevel, service)
}
