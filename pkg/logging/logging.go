// Package logging provides the keeper's structured log sink.
package logging

import (
	"os"

	"github.com/rs/zerolog"

	"trading-core/pkg/config"
)

// New returns a configured zerolog.Logger. Development environments get a
// human-readable console writer and debug level; everything else gets
// level-gated JSON suitable for ingestion.
func New(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Env == "development" {
		out := zerolog.ConsoleWriter{Out: os.Stderr}
		return zerolog.New(out).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
