package workflow

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// Logger routes Temporal SDK logs through zap. Keyvals are alternating
// key/value pairs, as the SDK passes them.
type Logger struct {
	sugar *zap.SugaredLogger
}

var (
	_ log.Logger     = (*Logger)(nil)
	_ log.WithLogger = (*Logger)(nil)
)

func NewLogger(l *zap.Logger) *Logger {
	return &Logger{sugar: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.sugar.Debugw(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...interface{})  { l.sugar.Infow(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...interface{})  { l.sugar.Warnw(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.sugar.Errorw(msg, keyvals...) }

func (l *Logger) With(keyvals ...interface{}) log.Logger {
	return &Logger{sugar: l.sugar.With(keyvals...)}
}

func (l *Logger) WithCallerSkip(depth int) log.Logger {
	return &Logger{sugar: l.sugar.WithOptions(zap.AddCallerSkip(depth))}
}
