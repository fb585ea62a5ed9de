package queue

import (
	"database/sql"
	"errors"
	"time"
)

const itemColumns = "id, character, category, deck_id, meaning_hint, pinyin_hint, force_regen, status, attempts, next_attempt_at, error_message, progress_stage, progress_percent, progress_message, result_json, request_id, created_at, updated_at, last_heartbeat"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id               int64
		character        string
		category         string
		deckID           sql.NullString
		meaningHint      sql.NullString
		pinyinHint       sql.NullString
		forceRegen       sql.NullInt64
		statusStr        string
		attempts         sql.NullInt64
		nextAttemptRaw   sql.NullString
		errorMessage     sql.NullString
		progressStage    sql.NullString
		progressPercent  sql.NullFloat64
		progressMessage  sql.NullString
		resultJSON       sql.NullString
		requestID        sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
		lastHeartbeatRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&character,
		&category,
		&deckID,
		&meaningHint,
		&pinyinHint,
		&forceRegen,
		&statusStr,
		&attempts,
		&nextAttemptRaw,
		&errorMessage,
		&progressStage,
		&progressPercent,
		&progressMessage,
		&resultJSON,
		&requestID,
		&createdRaw,
		&updatedRaw,
		&lastHeartbeatRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:              id,
		Character:       character,
		Category:        Category(category),
		DeckID:          deckID.String,
		MeaningHint:     meaningHint.String,
		PinyinHint:      pinyinHint.String,
		ForceRegen:      forceRegen.Valid && forceRegen.Int64 != 0,
		Status:          Status(statusStr),
		Attempts:        int(attempts.Int64),
		ErrorMessage:    errorMessage.String,
		ProgressStage:   progressStage.String,
		ProgressPercent: progressPercent.Float64,
		ProgressMessage: progressMessage.String,
		ResultJSON:      resultJSON.String,
		RequestID:       requestID.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	if nextAttemptRaw.Valid {
		if next, err := parseTimeString(nextAttemptRaw.String); err == nil {
			item.NextAttemptAt = &next
		}
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			item.LastHeartbeat = &heartbeat
		}
	}
	return item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
