package logging

import (
	"context"
	"log/slog"

	"inkstone/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldItemID is the standardized structured logging key for queue item identifiers.
	FieldItemID = "item_id"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldCategory is the standardized structured logging key for queue category names.
	FieldCategory = "category"
	// FieldCharacter is the standardized structured logging key for the character being enriched.
	FieldCharacter = "character"
	// FieldProvider is the standardized structured logging key for external provider names.
	FieldProvider = "provider"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType is the standardized structured logging key for event classification.
	FieldEventType = "event_type"
	// FieldErrorHint is the standardized structured logging key for operator guidance on errors.
	FieldErrorHint = "error_hint"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.ItemIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldItemID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if character, ok := services.CharacterFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCharacter, character))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
