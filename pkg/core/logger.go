package core

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging capabilities
// This abstraction allows swapping logging implementations
type Logger interface {
	// Error logs an error message
	Error(args ...interface{})

	// Errorf logs a formatted error message
	Errorf(format string, args ...interface{})

	// Warn logs a warning message
	Warn(args ...interface{})

	// Warnf logs a formatted warning message
	Warnf(format string, args ...interface{})

	// Info logs an informational message
	Info(args ...interface{})

	// Infof logs a formatted informational message
	Infof(format string, args ...interface{})

	// Debug logs a debug message
	Debug(args ...interface{})

	// Debugf logs a formatted debug message
	Debugf(format string, args ...interface{})
}

// zapLogger implements Logger on top of zap's SugaredLogger
type zapLogger struct {
	*zap.SugaredLogger
}

// NewDefaultLogger creates a production logger (JSON, info level)
func NewDefaultLogger() Logger {
	l, err := zap.NewProduction(zap.AddCallerSkip(1))
	if err != nil {
		return NewNopLogger()
	}
	return &zapLogger{SugaredLogger: l.Sugar()}
}

// NewLogger creates a logger at the given level ("debug", "info", "warn", "error").
// development switches to zap's console encoder with stack traces on warnings.
func NewLogger(level string, development bool) (Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &zapLogger{SugaredLogger: l.Sugar()}, nil
}

// NewZapLogger wraps an existing zap logger
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		return NewNopLogger()
	}
	return &zapLogger{SugaredLogger: l.Sugar()}
}

// NewNopLogger creates a logger that discards everything
func NewNopLogger() Logger {
	return &zapLogger{SugaredLogger: zap.NewNop().Sugar()}
}

// Named returns a child logger with the given name segment, when l supports it
func Named(l Logger, name string) Logger {
	if zl, ok := l.(*zapLogger); ok {
		return &zapLogger{SugaredLogger: zl.SugaredLogger.Named(name)}
	}
	return l
}

// With returns a child logger carrying the given key/value pairs, when l
// supports it
func With(l Logger, keysAndValues ...interface{}) Logger {
	if zl, ok := l.(*zapLogger); ok {
		return &zapLogger{SugaredLogger: zl.SugaredLogger.With(keysAndValues...)}
	}
	return l
}

// Sync flushes buffered log entries, when l supports it
func Sync(l Logger) error {
	if zl, ok := l.(*zapLogger); ok {
		return zl.SugaredLogger.Sync()
	}
	return nil
}
