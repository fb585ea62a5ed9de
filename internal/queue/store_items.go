package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// EnqueueOptions carries the optional fields of a new queue item.
type EnqueueOptions struct {
	DeckID      string
	MeaningHint string
	PinyinHint  string
	ForceRegen  bool
	RequestID   string
}

// Enqueue inserts a new pending item. An already-pending item for the same
// character and category is returned instead of inserting a duplicate,
// unless the new request forces regeneration.
func (s *Store) Enqueue(ctx context.Context, character string, category Category, opts EnqueueOptions) (*Item, error) {
	ctx = ensureContext(ctx)
	character = norm.NFC.String(strings.TrimSpace(character))
	if character == "" {
		return nil, errors.New("queue enqueue: character required")
	}
	if _, err := ParseCategory(string(category)); err != nil {
		return nil, fmt.Errorf("queue enqueue: %w", err)
	}

	if !opts.ForceRegen {
		existing, err := s.findPending(ctx, character, category)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(ctx, `
INSERT INTO queue_items (character, category, deck_id, meaning_hint, pinyin_hint, force_regen, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		character,
		string(category),
		nullableString(strings.TrimSpace(opts.DeckID)),
		nullableString(strings.TrimSpace(opts.MeaningHint)),
		nullableString(strings.TrimSpace(opts.PinyinHint)),
		boolToInt(opts.ForceRegen),
		string(StatusPending),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("queue enqueue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("queue enqueue: last insert id: %w", err)
	}
	if opts.RequestID != "" {
		if _, err := s.execWithRetry(ctx, "UPDATE queue_items SET request_id = ? WHERE id = ?", opts.RequestID, id); err != nil {
			return nil, fmt.Errorf("queue enqueue: set request id: %w", err)
		}
	}
	return s.GetByID(ctx, id)
}

func (s *Store) findPending(ctx context.Context, character string, category Category) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM queue_items WHERE character = ? AND category = ? AND status = ? ORDER BY id LIMIT 1",
		character, string(category), string(StatusPending),
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue find pending: %w", err)
	}
	return item, nil
}

// GetByID loads one item.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM queue_items WHERE id = ?", id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("queue item %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("queue get %d: %w", id, err)
	}
	return item, nil
}

// Update writes the item's mutable fields back to the database.
func (s *Store) Update(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("queue update: nil item")
	}
	ctx = ensureContext(ctx)
	item.UpdatedAt = time.Now().UTC()
	_, err := s.execWithRetry(ctx, `
UPDATE queue_items SET
    status = ?,
    attempts = ?,
    next_attempt_at = ?,
    error_message = ?,
    progress_stage = ?,
    progress_percent = ?,
    progress_message = ?,
    result_json = ?,
    updated_at = ?,
    last_heartbeat = ?
WHERE id = ?`,
		string(item.Status),
		item.Attempts,
		nullableTime(item.NextAttemptAt),
		nullableString(item.ErrorMessage),
		nullableString(item.ProgressStage),
		item.ProgressPercent,
		nullableString(item.ProgressMessage),
		nullableString(item.ResultJSON),
		item.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(item.LastHeartbeat),
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("queue update %d: %w", item.ID, err)
	}
	return nil
}

// UpdateHeartbeat stamps the item's liveness marker.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(ctx, "UPDATE queue_items SET last_heartbeat = ? WHERE id = ?", now, id)
	if err != nil {
		return fmt.Errorf("queue heartbeat %d: %w", id, err)
	}
	return nil
}

// UpdateProgress records the current pipeline stage without touching the
// rest of the item.
func (s *Store) UpdateProgress(ctx context.Context, id int64, status Status, percent float64, message string) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(ctx, `
UPDATE queue_items SET status = ?, progress_stage = ?, progress_percent = ?, progress_message = ?, updated_at = ?, last_heartbeat = ?
WHERE id = ?`,
		string(status), string(status), percent, nullableString(message), now, now, id)
	if err != nil {
		return fmt.Errorf("queue progress %d: %w", id, err)
	}
	return nil
}

// List returns items, optionally filtered by category and statuses, newest
// first. limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, category Category, statuses []Status, limit int) ([]*Item, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + itemColumns + " FROM queue_items"
	var (
		clauses []string
		args    []any
	)
	if category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, string(category))
	}
	if len(statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(statuses))+")")
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("queue list: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("queue list scan: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue list rows: %w", err)
	}
	return items, nil
}
