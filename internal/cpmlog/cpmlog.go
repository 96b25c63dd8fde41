// Package cpmlog sets up the process-wide structured log sink: a single
// zerolog.Logger injected into the engine and backing packages.
package cpmlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing to w (os.Stderr in production,
// a bytes.Buffer in tests). pretty selects the human-readable console
// writer over w; false keeps the default newline-delimited JSON, the
// shape a log aggregator expects from a long-running cmd/cpmsrv process.
func New(w io.Writer, level zerolog.Level, pretty bool) zerolog.Logger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Default returns a logger to os.Stderr at info level with console
// formatting, the shape cmd/cpmsrv and cmd/cpmtool use unless a caller
// asks for something else.
func Default() zerolog.Logger {
	return New(os.Stderr, zerolog.InfoLevel, true)
}

// ParseLevel resolves a level name (as might arrive via a -log-level flag),
// defaulting to info on an empty or unrecognized string.
func ParseLevel(name string) zerolog.Level {
	if name == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
