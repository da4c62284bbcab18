// Package tracing carries lightweight per-request identifiers through context.Context.
package tracing

import "context"

type traceIDKey struct{}

type operationNameKey struct{}

// WithTraceID attaches a trace id to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceID returns the trace id attached to ctx, if any.
func TraceID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	v, ok := ctx.Value(traceIDKey{}).(string)

	return v, ok
}

// WithOperationName attaches the current logical operation name to ctx.
func WithOperationName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, operationNameKey{}, name)
}

// OperationName returns the operation name attached to ctx, if any.
func OperationName(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	v, ok := ctx.Value(operationNameKey{}).(string)

	return v, ok
}
