package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProviderUnavailable marks configuration or connectivity failures that
	// exhaust an entire provider fallback chain.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrLowQuality marks a provider response that technically succeeded but
	// returned a placeholder or degenerate answer.
	ErrLowQuality = errors.New("low quality result")
	// ErrValidationRejected marks an image that failed artifact checks.
	ErrValidationRejected = errors.New("validation rejected")
	// ErrStorage marks media cache or database failures.
	ErrStorage = errors.New("storage failure")
	// ErrMalformedInput marks empty or non-character input.
	ErrMalformedInput = errors.New("malformed input")
	// ErrTimeout marks an external call that exceeded its deadline.
	ErrTimeout = errors.New("timeout")
)

// FailureClass partitions job failures for the queue layer.
type FailureClass string

const (
	// FailureTransient failures are scheduled for a delayed re-attempt.
	FailureTransient FailureClass = "transient"
	// FailurePermanent failures go straight to the failed terminal state.
	FailurePermanent FailureClass = "permanent"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later failure classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrProviderUnavailable
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps a job error to the failure class the queue should apply.
// Malformed input never retries; everything else is assumed transient so
// provider or storage hiccups get one delayed re-attempt before failing.
func Classify(err error) FailureClass {
	switch {
	case err == nil:
		return FailurePermanent
	case errors.Is(err, ErrMalformedInput):
		return FailurePermanent
	case errors.Is(err, context.Canceled):
		return FailureTransient
	default:
		return FailureTransient
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
