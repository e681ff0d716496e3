package xraylog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	logger *zap.Logger
}

// NewZapLogger returns a Logger that writes into the zap logger.
func NewZapLogger(logger *zap.Logger) Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &zapLogger{
		logger: logger.WithOptions(zap.AddCallerSkip(2)),
	}
}

func (l *zapLogger) Log(level LogLevel, msg string) {
	var zl zapcore.Level
	switch level {
	case LogLevelDebug:
		zl = zapcore.DebugLevel
	case LogLevelInfo:
		zl = zapcore.InfoLevel
	case LogLevelWarn:
		zl = zapcore.WarnLevel
	case LogLevelError:
		zl = zapcore.ErrorLevel
	default:
		return
	}
	if ce := l.logger.Check(zl, msg); ce != nil {
		ce.Write()
	}
}
