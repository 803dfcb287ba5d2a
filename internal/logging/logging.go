// Package logging builds the service logger and bridges request-scoped
// zerolog output into the collected request log.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/akave-ai/clockwork/internal/config"
)

// New returns a timestamped logger: a console writer in development, JSON
// otherwise.
func New(cfg *config.ObservabilityConfig) zerolog.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

// Output wraps w in a console writer unless cfg asks for JSON.
func Output(cfg *config.ObservabilityConfig, w io.Writer) io.Writer {
	if cfg != nil && cfg.IsProduction() {
		return w
	}
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
}

// NewWithWriter is New writing to w.
func NewWithWriter(cfg *config.ObservabilityConfig, w io.Writer) zerolog.Logger {
	if cfg == nil {
		cfg = config.DefaultObservabilityConfig()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	ctx := zerolog.New(Output(cfg, w)).Level(level).With().Timestamp()
	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		ctx = ctx.Str("env", cfg.Environment)
	}
	return ctx.Logger()
}
