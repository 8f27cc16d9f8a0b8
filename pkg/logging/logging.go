// Package logging configures the zerolog logger shared by all beacon
// components. Interactive use gets the console writer; anything else
// gets plain JSON on stderr so logs stay machine-readable.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Setup returns the root logger. level is a zerolog level name
// ("debug", "info", "warn", ...); unknown names fall back to info.
func Setup(level string, pretty bool) zerolog.Logger {
	lvl := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil && parsed != zerolog.NoLevel {
		lvl = parsed
	}

	var logger zerolog.Logger
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(lvl).With().Timestamp().Str("service", "beacon").Logger()
}

func init() {
	zerolog.DurationFieldUnit = time.Millisecond
}
