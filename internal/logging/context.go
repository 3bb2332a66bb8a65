package logging

import (
	"context"

	"go.uber.org/zap"
)

// Standard structured field keys shared by every stage.
const (
	FieldStage      = "stage"
	FieldInvocation = "invocation"
	FieldBucket     = "bucket"
	FieldFilename   = "filename"
	FieldLanguage   = "lang"
	FieldTrigger    = "trigger"
)

type fieldsKey struct{}

// WithFields returns a context carrying fields that For appends to a logger.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(fields) == 0 {
		return ctx
	}
	existing := Fields(ctx)
	merged := make([]zap.Field, 0, len(existing)+len(fields))
	merged = append(merged, existing...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

func Fields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(fieldsKey{}).([]zap.Field)
	return fields
}

// For returns logger augmented with the fields stored on ctx.
func For(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := Fields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
