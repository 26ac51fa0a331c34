// Package tracelog is the ambient logging dependency the tracing engine
// takes as a constructor argument. Logging is side-effect-only and must
// never influence engine semantics (spec §9) — the test suite runs with
// Sink and still satisfies every invariant.
package tracelog

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the small surface the engine depends on. It mirrors the
// Infof/Warningf/Debugf call sites used throughout the teacher's own
// logging package, but is backed by logrus rather than a hand-rolled
// emitter.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warningf(format string, args ...any)
}

// Verbosity mirrors the CLI's repeated -v flag (spec §6): 0 is
// warnings-only, rising through info and debug to trace (3+).
type Verbosity int

const (
	Warn Verbosity = iota
	Info
	Debug
	Trace
)

// logrusLogger adapts a *logrus.Logger to Logger.
type logrusLogger struct {
	l *logrus.Logger
}

// New builds a Logger backed by logrus, writing to w at the given
// verbosity.
func New(w io.Writer, v Verbosity) Logger {
	l := logrus.New()
	l.Out = w
	switch {
	case v >= Trace:
		l.Level = logrus.TraceLevel
	case v >= Debug:
		l.Level = logrus.DebugLevel
	case v >= Info:
		l.Level = logrus.InfoLevel
	default:
		l.Level = logrus.WarnLevel
	}
	return &logrusLogger{l: l}
}

func (g *logrusLogger) Debugf(format string, args ...any) {
	g.l.Debugf(format, args...)
}

func (g *logrusLogger) Infof(format string, args ...any) {
	g.l.Infof(format, args...)
}

func (g *logrusLogger) Warningf(format string, args ...any) {
	g.l.Warningf(format, args...)
}

type sink struct{}

func (sink) Debugf(string, ...any)   {}
func (sink) Infof(string, ...any)    {}
func (sink) Warningf(string, ...any) {}

// Sink discards everything. Used by tests and callers that don't want
// tracing diagnostics.
func Sink() Logger {
	return sink{}
}
