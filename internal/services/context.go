package services

import "context"

type contextKey string

const (
	itemIDKey    contextKey = "item_id"
	stageKey     contextKey = "stage"
	characterKey contextKey = "character"
	requestIDKey contextKey = "request_id"
)

// WithItemID annotates context with the queue item identifier.
func WithItemID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, itemIDKey, id)
}

// ItemIDFromContext extracts the queue item identifier if present.
func ItemIDFromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(itemIDKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stageKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithCharacter annotates context with the character being enriched.
func WithCharacter(ctx context.Context, character string) context.Context {
	if character == "" {
		return ctx
	}
	return context.WithValue(ctx, characterKey, character)
}

// CharacterFromContext returns the character if present.
func CharacterFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(characterKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
