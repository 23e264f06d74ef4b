// Package swlog is a thin wrapper around a zap logger: a small surface
// (Infof/Warnf/Errorf/Debugf/With/Sync) that call sites use instead of reaching for fmt or the
// standard log package directly.
package swlog

import (
	"go.uber.org/zap"
)

// Logger wraps a *zap.SugaredLogger with a few domain-scoped helpers.
type Logger struct {
	s *zap.SugaredLogger
}

// New builds a production-profile logger writing to stderr.
func New() *Logger {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	return &Logger{s: l.Sugar()}
}

// Nop returns a logger that discards everything, used in tests.
func Nop() *Logger {
	return &Logger{s: zap.NewNop().Sugar()}
}

// With returns a child logger carrying the given key/value pairs on every
// subsequent line, e.g. swlog.With("package", id.String()).
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{s: l.s.With(kv...)}
}

func (l *Logger) Infof(format string, args ...interface{})  { l.s.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.s.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }

// Sync flushes any buffered log entries; call on process exit.
func (l *Logger) Sync() error { return l.s.Sync() }
