package log

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/looplj/m365gateway/internal/tracing"
)

// Hook derives extra structured fields from a request context before a log line is written.
type Hook interface {
	Apply(ctx context.Context, msg string) []zapcore.Field
}

// HookFunc adapts a plain function to Hook.
type HookFunc func(ctx context.Context, msg string) []zapcore.Field

func (f HookFunc) Apply(ctx context.Context, msg string) []zapcore.Field {
	return f(ctx, msg)
}

// traceFields is the default hook: it surfaces trace_id/operation_name when present on ctx.
func traceFields(ctx context.Context, _ string) []zapcore.Field {
	if ctx == nil {
		return nil
	}

	var fields []zapcore.Field

	if traceID, ok := tracing.TraceID(ctx); ok {
		fields = append(fields, zap.String("trace_id", traceID))
	}

	if op, ok := tracing.OperationName(ctx); ok {
		fields = append(fields, zap.String("operation_name", op))
	}

	return fields
}
