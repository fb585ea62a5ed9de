package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"inkstone/internal/enrich"
	"inkstone/internal/logging"
	"inkstone/internal/queue"
	"inkstone/internal/services"
)

// runWorker claims and processes items of a single category until the
// context is cancelled. A nil claim means the queue is idle; the worker
// sleeps one poll interval before looking again.
func (m *Manager) runWorker(ctx context.Context, category queue.Category, index int) {
	defer m.wg.Done()
	logger := m.logger.With(
		logging.String(logging.FieldCategory, string(category)),
		logging.Int("worker", index))

	for {
		if ctx.Err() != nil {
			return
		}
		item, err := m.store.Claim(ctx, category)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("claim failed", logging.Error(err))
			if !sleepCtx(ctx, m.errorRetryWait) {
				return
			}
			continue
		}
		if item == nil {
			if !sleepCtx(ctx, m.pollInterval) {
				return
			}
			continue
		}
		m.markBusy(category, 1)
		m.processItem(ctx, logger, item)
		m.markBusy(category, -1)
	}
}

// processItem runs one item through the pipeline under a job timeout,
// heartbeating in the background, then records the terminal state.
func (m *Manager) processItem(ctx context.Context, logger *slog.Logger, item *queue.Item) {
	logger = logger.With(
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String(logging.FieldCharacter, item.Character))
	logger.Info("processing item", logging.Int("attempts", item.Attempts))

	jobCtx, cancel := context.WithTimeout(ctx, m.jobTimeout)
	defer cancel()

	stopHeartbeat := m.startHeartbeat(jobCtx, item.ID)
	defer stopHeartbeat()

	req := enrich.Request{
		Character:   item.Character,
		MeaningHint: item.MeaningHint,
		PinyinHint:  item.PinyinHint,
		DeckID:      item.DeckID,
		Policy:      enrich.GenerationPolicy{Force: item.ForceRegen},
		Progress: func(stage string, percent float64, message string) {
			status, err := queue.ParseStatus(stage)
			if err != nil {
				return
			}
			if err := m.store.UpdateProgress(ctx, item.ID, status, percent, message); err != nil {
				logger.Warn("progress update failed", logging.Error(err))
			}
		},
	}

	result, err := m.enricher.Enrich(jobCtx, req)
	stopHeartbeat()
	if err != nil {
		m.handleFailure(ctx, logger, item, err)
		m.markDone(item.Category, true)
		return
	}

	status := queue.StatusCompleted
	if result.Outcome == enrich.OutcomePartiallyCompleted {
		status = queue.StatusPartiallyCompleted
	}
	payload, err := json.Marshal(result)
	if err != nil {
		payload = []byte("{}")
	}
	if err := m.store.MarkCompleted(ctx, item.ID, status, string(payload)); err != nil {
		logger.Error("completion update failed", logging.Error(err))
		m.markDone(item.Category, true)
		return
	}
	logger.Info("item finished",
		logging.String("status", string(status)),
		logging.Int("field_errors", len(result.FieldErrors)))
	m.markDone(item.Category, false)
}

// handleFailure decides between a delayed redelivery and a terminal failure.
// Permanent errors and exhausted redelivery budgets fail the item; everything
// else is parked with a retry timestamp.
func (m *Manager) handleFailure(ctx context.Context, logger *slog.Logger, item *queue.Item, cause error) {
	message := cause.Error()
	attempts := item.Attempts + 1

	if services.Classify(cause) == services.FailurePermanent {
		logger.Warn("item failed permanently", logging.Error(cause))
		if err := m.store.MarkFailed(ctx, item.ID, message); err != nil {
			logger.Error("failure update failed", logging.Error(err))
		}
		return
	}
	if attempts > m.maxRedeliveries {
		logger.Warn("item failed after exhausting redeliveries",
			logging.Int("attempts", attempts),
			logging.Error(cause))
		if err := m.store.MarkFailed(ctx, item.ID, fmt.Sprintf("after %d attempts: %s", attempts, message)); err != nil {
			logger.Error("failure update failed", logging.Error(err))
		}
		return
	}
	retryAt := time.Now().UTC().Add(m.errorRetryBackoff)
	logger.Warn("item delayed for retry",
		logging.Int("attempts", attempts),
		logging.String("retry_at", retryAt.Format(time.RFC3339)),
		logging.Error(cause))
	if err := m.store.MarkDelayed(ctx, item.ID, retryAt, attempts, message); err != nil {
		logger.Error("delay update failed", logging.Error(err))
	}
}

// startHeartbeat stamps the item's heartbeat until the returned stop
// function is called or the context ends. Stop is safe to call twice.
func (m *Manager) startHeartbeat(ctx context.Context, itemID int64) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(m.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := m.store.UpdateHeartbeat(context.Background(), itemID); err != nil {
					m.logger.Warn("heartbeat update failed",
						logging.Int64(logging.FieldItemID, itemID),
						logging.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
