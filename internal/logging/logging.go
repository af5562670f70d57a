// Package logging provides the structured-ish line logger used outside of
// chi's middleware.Logger (which covers access logs). Retry/backoff/account
// decisions are frequent enough in the dispatcher and rate-limit coordinator
// that they need their own leveled lines; the project otherwise has no
// logging dependency, so this wraps the standard library logger rather than
// importing one (see DESIGN.md).
package logging

import (
	"fmt"
	"log"
	"os"
)

type Logger struct {
	prefix string
	std    *log.Logger
}

// New returns a Logger that prefixes every line with name, e.g. "dispatch".
func New(name string) *Logger {
	return &Logger{prefix: name, std: log.New(os.Stderr, "", log.LstdFlags)}
}

func (l *Logger) logf(level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.std.Printf("%s [%s] %s", level, l.prefix, msg)
}

func (l *Logger) Debug(format string, args ...any) { l.logf("DEBUG", format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.logf("INFO", format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.logf("WARN", format, args...) }
func (l *Logger) Error(format string, args ...any) { l.logf("ERROR", format, args...) }
