// Package cards persists enrichment results to the study card database.
// Upserts are partial-field tolerant: a rerun that produced only some assets
// never blanks fields an earlier run filled in.
package cards

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"golang.org/x/text/unicode/norm"
)

// Card is the persisted enrichment state for one character.
type Card struct {
	ID           int64
	Character    string
	Meaning      string
	Pinyin       string
	AudioURL     string
	ImageURL     string
	// ImageValidated records whether the current image passed validation or
	// was accepted best-effort.
	ImageValidated bool
	AnalysisJSON   string
	DeckID         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Enrichment is the subset of fields an enrichment run may produce. Empty
// fields are left untouched on upsert.
type Enrichment struct {
	Character string
	Meaning   string
	Pinyin    string
	AudioURL  string
	ImageURL  string
	// ImageValidated applies only when ImageURL is set.
	ImageValidated bool
	Analysis       any
	DeckID         string
}

// ErrNotFound indicates no card exists for the character.
var ErrNotFound = errors.New("cards: card not found")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS cards (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    character TEXT NOT NULL UNIQUE,
    meaning TEXT NOT NULL DEFAULT '',
    pinyin TEXT NOT NULL DEFAULT '',
    audio_url TEXT NOT NULL DEFAULT '',
    image_url TEXT NOT NULL DEFAULT '',
    image_validated INTEGER NOT NULL DEFAULT 0,
    analysis_json TEXT NOT NULL DEFAULT '',
    deck_id TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cards_deck ON cards(deck_id);
`

// Store manages card persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the card database.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("cards: path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cards: open db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("cards: apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cards: create schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertEnrichment writes the non-empty fields of the enrichment onto the
// character's card, creating it when absent.
func (s *Store) UpsertEnrichment(ctx context.Context, enrichment Enrichment) error {
	character := norm.NFC.String(strings.TrimSpace(enrichment.Character))
	if character == "" {
		return errors.New("cards: character required")
	}
	var analysisJSON string
	if enrichment.Analysis != nil {
		encoded, err := json.Marshal(enrichment.Analysis)
		if err != nil {
			return fmt.Errorf("cards: marshal analysis: %w", err)
		}
		analysisJSON = string(encoded)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	imageValidated := 0
	if enrichment.ImageValidated {
		imageValidated = 1
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cards (character, meaning, pinyin, audio_url, image_url, image_validated, analysis_json, deck_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(character) DO UPDATE SET
    meaning = CASE WHEN excluded.meaning != '' THEN excluded.meaning ELSE cards.meaning END,
    pinyin = CASE WHEN excluded.pinyin != '' THEN excluded.pinyin ELSE cards.pinyin END,
    audio_url = CASE WHEN excluded.audio_url != '' THEN excluded.audio_url ELSE cards.audio_url END,
    image_url = CASE WHEN excluded.image_url != '' THEN excluded.image_url ELSE cards.image_url END,
    image_validated = CASE WHEN excluded.image_url != '' THEN excluded.image_validated ELSE cards.image_validated END,
    analysis_json = CASE WHEN excluded.analysis_json != '' THEN excluded.analysis_json ELSE cards.analysis_json END,
    deck_id = CASE WHEN excluded.deck_id != '' THEN excluded.deck_id ELSE cards.deck_id END,
    updated_at = excluded.updated_at`,
		character,
		strings.TrimSpace(enrichment.Meaning),
		strings.TrimSpace(enrichment.Pinyin),
		strings.TrimSpace(enrichment.AudioURL),
		strings.TrimSpace(enrichment.ImageURL),
		imageValidated,
		analysisJSON,
		strings.TrimSpace(enrichment.DeckID),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("cards: upsert %q: %w", character, err)
	}
	return nil
}

// Get loads the card for a character.
func (s *Store) Get(ctx context.Context, character string) (Card, error) {
	var card Card
	character = norm.NFC.String(strings.TrimSpace(character))
	if character == "" {
		return card, errors.New("cards: character required")
	}
	var createdRaw, updatedRaw string
	var imageValidated int
	err := s.db.QueryRowContext(ctx, `
SELECT id, character, meaning, pinyin, audio_url, image_url, image_validated, analysis_json, deck_id, created_at, updated_at
FROM cards WHERE character = ?`, character).Scan(
		&card.ID,
		&card.Character,
		&card.Meaning,
		&card.Pinyin,
		&card.AudioURL,
		&card.ImageURL,
		&imageValidated,
		&card.AnalysisJSON,
		&card.DeckID,
		&createdRaw,
		&updatedRaw,
	)
	card.ImageValidated = imageValidated != 0
	if errors.Is(err, sql.ErrNoRows) {
		return card, fmt.Errorf("%w: %s", ErrNotFound, character)
	}
	if err != nil {
		return card, fmt.Errorf("cards: get %q: %w", character, err)
	}
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		card.CreatedAt = created
	}
	if updated, err := time.Parse(time.RFC3339Nano, updatedRaw); err == nil {
		card.UpdatedAt = updated
	}
	return card, nil
}

// CountUnvalidatedImages reports how many cards carry an image that was
// accepted without passing validation.
func (s *Store) CountUnvalidatedImages(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM cards WHERE image_url != '' AND image_validated = 0").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("cards: count unvalidated: %w", err)
	}
	return count, nil
}

// Count reports the number of cards, optionally scoped to a deck.
func (s *Store) Count(ctx context.Context, deckID string) (int, error) {
	var count int
	var err error
	if deckID = strings.TrimSpace(deckID); deckID != "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM cards WHERE deck_id = ?", deckID).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM cards").Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("cards: count: %w", err)
	}
	return count, nil
}
