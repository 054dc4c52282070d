package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type operationCtxKey struct{}
type collectionCtxKey struct{}
type requestCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if op, ok := ctx.Value(operationCtxKey{}).(string); ok && op != "" {
		fields = append(fields, zap.String("operation", op))
	}
	if name, ok := ctx.Value(collectionCtxKey{}).(string); ok && name != "" {
		fields = append(fields, zap.String("collection", name))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}

	return fields
}

// WithOperation tags the context with an operation name (ingest, query, ...).
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationCtxKey{}, op)
}

// WithCollection tags the context with the collection being worked on.
func WithCollection(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, collectionCtxKey{}, name)
}

// WithRequestID tags the context with a caller supplied request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}
