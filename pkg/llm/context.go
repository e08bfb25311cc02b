package llm

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const logFieldsKey contextKey = "llm_log_fields"

// WithLogFields attaches fields (session id, tier, attempt) that backends add
// to every log line written for calls made with ctx. Fields are appended to
// any already present.
func WithLogFields(ctx context.Context, fields ...zap.Field) context.Context {
	existing := LogFields(ctx)
	merged := make([]zap.Field, 0, len(existing)+len(fields))
	merged = append(merged, existing...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// LogFields returns a copy of the fields attached to ctx.
func LogFields(ctx context.Context) []zap.Field {
	fields, ok := ctx.Value(logFieldsKey).([]zap.Field)
	if !ok {
		return nil
	}
	out := make([]zap.Field, len(fields))
	copy(out, fields)
	return out
}

func loggerFor(ctx context.Context, base *zap.Logger) *zap.Logger {
	if fields := LogFields(ctx); len(fields) > 0 {
		return base.With(fields...)
	}
	return base
}
