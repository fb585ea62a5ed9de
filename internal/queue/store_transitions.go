package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Claim atomically takes the oldest runnable item in the category: a pending
// item, or a delayed item whose retry time has arrived. The claimed item
// moves to looking_up with a fresh heartbeat so no other worker can take it.
// Returns nil when nothing is runnable.
func (s *Store) Claim(ctx context.Context, category Category) (*Item, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var item *Item
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `
UPDATE queue_items SET status = ?, updated_at = ?, last_heartbeat = ?, next_attempt_at = NULL
WHERE id = (
    SELECT id FROM queue_items
    WHERE category = ?
      AND (status = ? OR (status = ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?))
    ORDER BY id
    LIMIT 1
)
RETURNING `+itemColumns,
			string(StatusLookingUp), now, now,
			string(category),
			string(StatusPending), string(StatusDelayed), now,
		)
		claimed, scanErr := scanItem(row)
		if errors.Is(scanErr, sql.ErrNoRows) {
			item = nil
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		item = claimed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue claim %s: %w", category, err)
	}
	return item, nil
}

// MarkCompleted finishes the item with its serialized result.
func (s *Store) MarkCompleted(ctx context.Context, id int64, status Status, resultJSON string) error {
	if status != StatusCompleted && status != StatusPartiallyCompleted {
		return fmt.Errorf("queue complete %d: %q is not a completion status", id, status)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(ctx, `
UPDATE queue_items SET status = ?, result_json = ?, error_message = NULL, progress_percent = 100, updated_at = ?
WHERE id = ?`,
		string(status), nullableString(resultJSON), now, id)
	if err != nil {
		return fmt.Errorf("queue complete %d: %w", id, err)
	}
	return nil
}

// MarkDelayed parks the item for a later retry and records the failure.
func (s *Store) MarkDelayed(ctx context.Context, id int64, retryAt time.Time, attempts int, message string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(ctx, `
UPDATE queue_items SET status = ?, next_attempt_at = ?, attempts = ?, error_message = ?, updated_at = ?, last_heartbeat = NULL
WHERE id = ?`,
		string(StatusDelayed), retryAt.UTC().Format(time.RFC3339Nano), attempts, nullableString(message), now, id)
	if err != nil {
		return fmt.Errorf("queue delay %d: %w", id, err)
	}
	return nil
}

// MarkFailed terminally fails the item.
func (s *Store) MarkFailed(ctx context.Context, id int64, message string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(ctx, `
UPDATE queue_items SET status = ?, error_message = ?, updated_at = ?, last_heartbeat = NULL
WHERE id = ?`,
		string(StatusFailed), nullableString(message), now, id)
	if err != nil {
		return fmt.Errorf("queue fail %d: %w", id, err)
	}
	return nil
}

// ReclaimStaleProcessing returns items whose worker stopped heartbeating to
// pending so another worker can pick them up. Items with no heartbeat at all
// are judged by updated_at.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, timeout time.Duration) (int, error) {
	ctx = ensureContext(ctx)
	cutoff := time.Now().UTC().Add(-timeout).Format(time.RFC3339Nano)
	statuses := ProcessingStatuses()
	args := make([]any, 0, len(statuses)+4)
	args = append(args, string(StatusPending), time.Now().UTC().Format(time.RFC3339Nano))
	for _, status := range statuses {
		args = append(args, string(status))
	}
	args = append(args, cutoff, cutoff)

	res, err := s.execWithRetry(ctx, `
UPDATE queue_items SET status = ?, last_heartbeat = NULL, updated_at = ?
WHERE status IN (`+makePlaceholders(len(statuses))+`)
  AND ((last_heartbeat IS NOT NULL AND last_heartbeat < ?) OR (last_heartbeat IS NULL AND updated_at < ?))`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("queue reclaim stale: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue reclaim stale: rows affected: %w", err)
	}
	return int(affected), nil
}

// RetryFailed moves failed items (optionally scoped to a category) back to
// pending with a fresh attempt budget.
func (s *Store) RetryFailed(ctx context.Context, category Category) (int, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	query := `
UPDATE queue_items SET status = ?, attempts = 0, next_attempt_at = NULL, error_message = NULL, updated_at = ?
WHERE status = ?`
	args := []any{string(StatusPending), now, string(StatusFailed)}
	if category != "" {
		query += " AND category = ?"
		args = append(args, string(category))
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("queue retry failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue retry failed: rows affected: %w", err)
	}
	return int(affected), nil
}

// RetryItem moves one failed item back to pending. Items in any other state
// are rejected so a retry can never interrupt active work.
func (s *Store) RetryItem(ctx context.Context, id int64) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(ctx, `
UPDATE queue_items SET status = ?, attempts = 0, next_attempt_at = NULL, error_message = NULL, updated_at = ?
WHERE id = ? AND status = ?`,
		string(StatusPending), now, id, string(StatusFailed))
	if err != nil {
		return fmt.Errorf("queue retry %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue retry %d: rows affected: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("queue retry %d: item is not in the failed state", id)
	}
	return nil
}

// Clear deletes items in the given statuses, scoped to a category when one
// is supplied. Processing statuses are always excluded: an item a worker is
// actively running is never removed, whatever the caller asks for.
func (s *Store) Clear(ctx context.Context, category Category, statuses []Status) (int, error) {
	ctx = ensureContext(ctx)
	if len(statuses) == 0 {
		statuses = []Status{StatusCompleted, StatusPartiallyCompleted, StatusFailed}
	}
	filtered := make([]Status, 0, len(statuses))
	for _, status := range statuses {
		if status.IsProcessing() {
			continue
		}
		filtered = append(filtered, status)
	}
	if len(filtered) == 0 {
		return 0, nil
	}

	query := "DELETE FROM queue_items WHERE status IN (" + makePlaceholders(len(filtered)) + ")"
	args := make([]any, 0, len(filtered)+1)
	for _, status := range filtered {
		args = append(args, string(status))
	}
	if category != "" {
		query += " AND category = ?"
		args = append(args, string(category))
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("queue clear: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue clear: rows affected: %w", err)
	}
	return int(affected), nil
}

// Stats summarizes the queue by status and category.
type Stats struct {
	Total      int
	ByStatus   map[Status]int
	ByCategory map[Category]int
}

// Stats counts items grouped by status and category.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	stats := Stats{
		ByStatus:   make(map[Status]int),
		ByCategory: make(map[Category]int),
	}
	rows, err := s.db.QueryContext(ctx, "SELECT status, category, COUNT(1) FROM queue_items GROUP BY status, category")
	if err != nil {
		return stats, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var statusStr, categoryStr string
		var count int
		if err := rows.Scan(&statusStr, &categoryStr, &count); err != nil {
			return stats, fmt.Errorf("queue stats scan: %w", err)
		}
		stats.ByStatus[Status(strings.TrimSpace(statusStr))] += count
		stats.ByCategory[Category(strings.TrimSpace(categoryStr))] += count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("queue stats rows: %w", err)
	}
	return stats, nil
}
