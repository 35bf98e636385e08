package logger

import (
	"io"
	"log/slog"
	"os"
)

// New builds the *slog.Logger Shepherd hands to the reactor, child
// handles, and control server at construction — never a package-level
// global. With colorize set (cmd/shepherd sets it when stderr is a
// terminal) it uses the colorized handler; otherwise plain text, so log
// files stay grep-friendly.
func New(level slog.Level, w io.Writer, colorize bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if colorize {
		return slog.New(NewColorTextHandler(w, opts, true))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// IsTerminal reports whether f looks like an interactive terminal, used
// to decide whether New should colorize.
func IsTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
