package queue

import (
	"fmt"
	"strings"
	"time"
)

// Status tracks an item through the enrichment pipeline. Processing statuses
// mirror the pipeline stages so queue observers see exactly where a worker
// is.
type Status string

const (
	StatusPending            Status = "pending"
	StatusLookingUp          Status = "looking_up"
	StatusInterpreting       Status = "interpreting"
	StatusAnalyzing          Status = "analyzing"
	StatusGeneratingAudio    Status = "generating_audio"
	StatusGeneratingImage    Status = "generating_image"
	StatusPersisting         Status = "persisting"
	StatusCompleted          Status = "completed"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusDelayed            Status = "delayed"
	StatusFailed             Status = "failed"
)

var statusSet = map[Status]struct{}{
	StatusPending:            {},
	StatusLookingUp:          {},
	StatusInterpreting:       {},
	StatusAnalyzing:          {},
	StatusGeneratingAudio:    {},
	StatusGeneratingImage:    {},
	StatusPersisting:         {},
	StatusCompleted:          {},
	StatusPartiallyCompleted: {},
	StatusDelayed:            {},
	StatusFailed:             {},
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	status := Status(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := statusSet[status]; !ok {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return status, nil
}

// ProcessingStatuses are the states held by an active worker.
func ProcessingStatuses() []Status {
	return []Status{
		StatusLookingUp,
		StatusInterpreting,
		StatusAnalyzing,
		StatusGeneratingAudio,
		StatusGeneratingImage,
		StatusPersisting,
	}
}

// IsProcessing reports whether the status belongs to an active worker.
func (s Status) IsProcessing() bool {
	for _, status := range ProcessingStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the item will receive no further work.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusPartiallyCompleted || s == StatusFailed
}

// Category partitions the queue into independently sized worker pools.
type Category string

const (
	CategoryCardEnrichment Category = "card_enrichment"
	CategoryDeckEnrichment Category = "deck_enrichment"
	CategoryDeckImport     Category = "deck_import"
	CategoryBulkImport     Category = "bulk_import"
)

// Categories lists every queue category in display order.
func Categories() []Category {
	return []Category{
		CategoryCardEnrichment,
		CategoryDeckEnrichment,
		CategoryDeckImport,
		CategoryBulkImport,
	}
}

// ParseCategory validates a raw category string.
func ParseCategory(raw string) (Category, error) {
	category := Category(strings.TrimSpace(strings.ToLower(raw)))
	for _, known := range Categories() {
		if category == known {
			return category, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", raw)
}

// Item is one queued enrichment job.
type Item struct {
	ID              int64
	Character       string
	Category        Category
	DeckID          string
	MeaningHint     string
	PinyinHint      string
	ForceRegen      bool
	Status          Status
	Attempts        int
	NextAttemptAt   *time.Time
	ErrorMessage    string
	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string
	ResultJSON      string
	RequestID       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastHeartbeat   *time.Time
}
