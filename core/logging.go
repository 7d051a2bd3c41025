package core

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type loggerKey struct{}

var (
	baseLogger *zap.Logger
	baseLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	baseOnce   sync.Once
)

func base() *zap.Logger {
	baseOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = baseLevel
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		l, err := cfg.Build()
		if err != nil {
			l = zap.NewNop()
		}
		baseLogger = l
	})
	return baseLogger
}

// SetLogLevel changes the level of the process logger. Unknown levels are ignored.
func SetLogLevel(level string) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return
	}
	baseLevel.SetLevel(lvl)
}

// WithDefaultLogger returns a context carrying a logger tagged with reqId
func WithDefaultLogger(parent context.Context, reqId string) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return WithLogger(parent, base().Sugar().With("req_id", reqId))
}

// WithLogger attaches l to the context
func WithLogger(parent context.Context, l *zap.SugaredLogger) context.Context {
	return context.WithValue(parent, loggerKey{}, l)
}

// Logger returns the context logger or the process logger
func Logger(ctx context.Context) *zap.SugaredLogger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*zap.SugaredLogger); ok && l != nil {
			return l
		}
	}
	return base().Sugar()
}

func Infof(ctx context.Context, tpl string, args ...any) {
	Logger(ctx).Infof(tpl, args...)
}

func Warnf(ctx context.Context, tpl string, args ...any) {
	Logger(ctx).Warnf(tpl, args...)
}

func Errorf(ctx context.Context, tpl string, args ...any) {
	Logger(ctx).Errorf(tpl, args...)
}

func Debugf(ctx context.Context, tpl string, args ...any) {
	Logger(ctx).Debugf(tpl, args...)
}

// Sync flushes buffered log entries
func Sync() {
	_ = base().Sync()
}
