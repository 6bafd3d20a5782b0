// Package logging wires the ambient structured logger used across every
// component. It is handed to the App at startup and threaded through
// constructors explicitly — no package-level logger variable.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing human-readable console output to
// stderr: colored at debug level in debug mode, uncolored at info level
// otherwise, matching the density the teacher's own console logger showed
// (verbose during development, terse in prod).
func New(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	var writer zerolog.ConsoleWriter
	writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if !debug {
		writer.NoColor = true
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// Nop returns a logger that discards everything, for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
