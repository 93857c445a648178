// Package h2log adapts logrus to the engine's http2.Logger interface.
//
// Grounded on distribution-distribution's use of github.com/sirupsen/logrus
// for leveled, structured logging (context.go, notifications/listener.go) -
// the teacher itself only reaches for the bare log package
// (serverConn.go's package-level logger), but this is the idiomatic way
// the rest of the retrieval pack does connection-lifecycle logging for a
// network service.
package h2log

import "github.com/sirupsen/logrus"

// Logger wraps a *logrus.Entry so every line carries whatever fields the
// caller seeded it with (e.g. remote address, connection id).
type Logger struct {
	entry *logrus.Entry
}

// New builds a Logger from a *logrus.Logger, seeding it with fields.
func New(base *logrus.Logger, fields logrus.Fields) *Logger {
	if base == nil {
		base = logrus.StandardLogger()
	}
	return &Logger{entry: base.WithFields(fields)}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// With returns a Logger with additional fields merged in, useful for
// per-stream loggers derived from a per-connection one.
func (l *Logger) With(fields logrus.Fields) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}
