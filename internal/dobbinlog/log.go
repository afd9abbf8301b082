// Package dobbinlog is a minimal leveled wrapper over the standard
// library's log.Logger. The teacher codebase carries no logging
// dependency of its own (its CLI commands report progress with plain
// fmt.Printf), so this ambient concern is built on the standard library
// rather than grafted onto a third-party logger with no home elsewhere
// in the stack --- see DESIGN.md.
package dobbinlog

import (
	"io"
	"log"
	"os"
)

// Logger reports database lifecycle and recovery events: commit-lock
// contention, log replay, and integrity findings during catch-up.
type Logger struct {
	std *log.Logger
}

// New returns a Logger writing to w, prefixed the way the standard
// library's default logger is.
func New(w io.Writer) *Logger {
	return &Logger{std: log.New(w, "", log.LstdFlags)}
}

// Default returns a Logger writing to stderr.
func Default() *Logger { return New(os.Stderr) }

// Null returns a Logger that discards everything, for tests and library
// callers that don't want dobbin writing to their stderr.
func Null() *Logger { return New(io.Discard) }

func (l *Logger) Infof(format string, args ...any) {
	l.std.Printf("INFO "+format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.std.Printf("WARN "+format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.std.Printf("ERROR "+format, args...)
}
