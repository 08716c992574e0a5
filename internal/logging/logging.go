// Package logging builds the process's root zerolog logger. One logger
// is constructed at boot and threaded through every constructor as an
// explicit argument — no process-wide mutable singleton, per the
// Design Notes' "avoid any process-wide mutable singleton beyond the
// logger sink".
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds a root logger at the given level, writing to w (typically
// os.Stderr). An unrecognized level falls back to info rather than
// erroring — logging must never be the reason boot fails.
func New(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// NewConsole builds a human-readable console logger writing to
// os.Stderr. cmd/rewindwatch uses it for every run; the background-mode
// flag is not consulted.
func NewConsole(level string) zerolog.Logger {
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return New(level, cw)
}
