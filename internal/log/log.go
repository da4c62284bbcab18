// Package log wraps zap with context-aware hooks so call sites never pass a
// *zap.Logger around; they pass a context.Context instead.
package log

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is the structured log field type callers build via String/Int/... below.
type Field = zapcore.Field

var (
	mu    sync.RWMutex
	base  = mustBuildDefault()
	hooks = []Hook{HookFunc(traceFields)}
)

func mustBuildDefault() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// Fall back to a no-op logger rather than panicking at import time.
		logger = zap.NewNop()
	}

	return logger
}

// SetLevel adjusts the global minimum level. Accepts "debug", "info", "warn", "error".
func SetLevel(level string) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	built, err := cfg.Build()
	if err != nil {
		return
	}

	mu.Lock()
	base = built
	mu.Unlock()
}

// AddHook registers an additional context-field hook applied to every log call.
func AddHook(h Hook) {
	mu.Lock()
	defer mu.Unlock()

	hooks = append(hooks, h)
}

func logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()

	return base
}

func withHooks(ctx context.Context, msg string, fields []zapcore.Field) []zapcore.Field {
	mu.RLock()
	hs := hooks
	mu.RUnlock()

	for _, h := range hs {
		fields = append(fields, h.Apply(ctx, msg)...)
	}

	return fields
}

func Debug(ctx context.Context, msg string, fields ...zapcore.Field) {
	logger().Debug(msg, withHooks(ctx, msg, fields)...)
}

func Info(ctx context.Context, msg string, fields ...zapcore.Field) {
	logger().Info(msg, withHooks(ctx, msg, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zapcore.Field) {
	logger().Warn(msg, withHooks(ctx, msg, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zapcore.Field) {
	logger().Error(msg, withHooks(ctx, msg, fields)...)
}

// DebugEnabled reports whether debug-level logging is currently active, so
// callers can skip building expensive debug-only fields.
func DebugEnabled(_ context.Context) bool {
	return logger().Core().Enabled(zapcore.DebugLevel)
}

func Any(key string, value any) zapcore.Field {
	return zap.Any(key, value)
}

func String(key, value string) zapcore.Field {
	return zap.String(key, value)
}

func Int(key string, value int) zapcore.Field {
	return zap.Int(key, value)
}

func Bool(key string, value bool) zapcore.Field {
	return zap.Bool(key, value)
}

func Duration(key string, value time.Duration) zapcore.Field {
	return zap.Duration(key, value)
}

func Strings(key string, value []string) zapcore.Field {
	return zap.Strings(key, value)
}

// Cause attaches err under the conventional "error" key.
func Cause(err error) zapcore.Field {
	return zap.Error(err)
}

func init() {
	if os.Getenv("M365GW_LOG_LEVEL") != "" {
		SetLevel(os.Getenv("M365GW_LOG_LEVEL"))
	}
}
