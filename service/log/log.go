package log

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

var (
	level         = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	defaultLogger *zap.Logger
)

func init() {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	var err error
	if defaultLogger, err = cfg.Build(); err != nil {
		defaultLogger = zap.NewNop()
	}
}

// SetLevel changes the level of all the loggers
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// Logger returns the logger attached to the context, or the default logger
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
			return l
		}
	}
	return defaultLogger
}

// WithLogger returns a new context holding the logger
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// With returns a new context whose logger has the additional field key=value
func With(ctx context.Context, key string, value interface{}) context.Context {
	return WithLogger(ctx, Logger(ctx).With(zap.Any(key, value)))
}

// Fatal logs the message with the default logger and exits
func Fatal(msg string, fields ...zap.Field) {
	defaultLogger.Fatal(msg, fields...)
	os.Exit(1)
}

// Sync flushes the default logger
func Sync() {
	_ = defaultLogger.Sync()
}

// SetVerbosity sets the level of the loggers from the verbosity flags: warn by default,
// info if verbose, debug if veryVerbose
func SetVerbosity(verbose, veryVerbose bool) {
	switch {
	case veryVerbose:
		SetLevel(zapcore.DebugLevel)
	case verbose:
		SetLevel(zapcore.InfoLevel)
	default:
		SetLevel(zapcore.WarnLevel)
	}
}
