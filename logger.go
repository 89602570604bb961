package identity

import (
	"go.uber.org/zap"
)

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger adapts a zap sugared logger to Logger
func NewZapLogger(l *zap.SugaredLogger) Logger {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	return zapLogger{sugar: l.Named("identity")}
}

func (z zapLogger) Debug(format string, args ...any) { z.sugar.Debugf(format, args...) }
func (z zapLogger) Info(format string, args ...any)  { z.sugar.Infof(format, args...) }
func (z zapLogger) Warn(format string, args ...any)  { z.sugar.Warnf(format, args...) }
func (z zapLogger) Error(format string, args ...any) { z.sugar.Errorf(format, args...) }

func defLogger() Logger {
	return NewZapLogger(zap.NewNop().Sugar())
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger()
	}
	return l
}
