// Package logger provides component-tagged structured logging for the
// watchdog. Timestamping and formatting are sink concerns handled here;
// domain code only names the component and the event.
package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base = newLogger(os.Stderr)
)

func newLogger(w io.Writer) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}

// Init configures the global log level. Debug enables per-cell and
// per-event detail that is too chatty for normal operation.
func Init(debug bool) {
	mu.Lock()
	defer mu.Unlock()
	if debug {
		base = base.Level(zerolog.DebugLevel)
	} else {
		base = base.Level(zerolog.InfoLevel)
	}
}

// SetOutput redirects log output. Used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	lvl := base.GetLevel()
	base = newLogger(w).Level(lvl)
}

func emit(level zerolog.Level, component, msg string, fields map[string]any) {
	mu.RLock()
	l := base
	mu.RUnlock()

	e := l.WithLevel(level).Str("component", component)
	if len(fields) > 0 {
		e = e.Fields(fields)
	}
	e.Msg(msg)
}

// DebugCF logs a debug message for a component with optional fields.
func DebugCF(component, msg string, fields map[string]any) {
	emit(zerolog.DebugLevel, component, msg, fields)
}

// InfoCF logs an info message for a component with optional fields.
func InfoCF(component, msg string, fields map[string]any) {
	emit(zerolog.InfoLevel, component, msg, fields)
}

// WarnCF logs a warning for a component with optional fields.
func WarnCF(component, msg string, fields map[string]any) {
	emit(zerolog.WarnLevel, component, msg, fields)
}

// ErrorCF logs an error for a component with optional fields.
func ErrorCF(component, msg string, fields map[string]any) {
	emit(zerolog.ErrorLevel, component, msg, fields)
}
