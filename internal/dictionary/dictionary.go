// Package dictionary provides read access to a local Chinese-English
// dictionary stored in SQLite. Lookups are the authoritative source for
// character meanings and readings; AI interpretation fills in only what
// the dictionary cannot.
package dictionary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"golang.org/x/text/unicode/norm"
)

// Entry is a single dictionary sense for a character or word.
type Entry struct {
	Traditional string
	Simplified  string
	Pinyin      string
	Meaning     string
}

// ErrNotFound indicates the character has no dictionary entry.
var ErrNotFound = errors.New("dictionary: entry not found")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    traditional TEXT NOT NULL,
    simplified TEXT NOT NULL,
    pinyin TEXT NOT NULL,
    meaning TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_traditional ON entries(traditional);
CREATE INDEX IF NOT EXISTS idx_entries_simplified ON entries(simplified);
`

// Store wraps the dictionary database.
type Store struct {
	db   *sql.DB
	path string
}

// Open connects to the dictionary database, creating the schema when absent.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("dictionary: path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dictionary: open db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("dictionary: apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dictionary: create schema: %w", err)
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

// Insert adds entries in bulk, preserving order. Used by imports and tests.
func (s *Store) Insert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dictionary: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO entries (traditional, simplified, pinyin, meaning) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("dictionary: prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, entry := range entries {
		if _, err := stmt.ExecContext(ctx,
			norm.NFC.String(entry.Traditional),
			norm.NFC.String(entry.Simplified),
			strings.TrimSpace(entry.Pinyin),
			strings.TrimSpace(entry.Meaning),
		); err != nil {
			return fmt.Errorf("dictionary: insert entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dictionary: commit insert: %w", err)
	}
	return nil
}

// Lookup returns every sense recorded for the character, in insertion order.
// The character is matched against both traditional and simplified forms
// after NFC normalization.
func (s *Store) Lookup(ctx context.Context, character string) ([]Entry, error) {
	character = norm.NFC.String(strings.TrimSpace(character))
	if character == "" {
		return nil, errors.New("dictionary: character required")
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT traditional, simplified, pinyin, meaning FROM entries WHERE traditional = ? OR simplified = ? ORDER BY id",
		character, character,
	)
	if err != nil {
		return nil, fmt.Errorf("dictionary: lookup %q: %w", character, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.Traditional, &entry.Simplified, &entry.Pinyin, &entry.Meaning); err != nil {
			return nil, fmt.Errorf("dictionary: scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dictionary: iterate entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, character)
	}
	return entries, nil
}

// Select picks the entry to use for a character with several senses. A
// preferred reading (pinyin) configured for the character wins; otherwise the
// first recorded sense is used, which keeps selection deterministic.
func Select(entries []Entry, preferred map[string]string, character string) (Entry, bool) {
	if len(entries) == 0 {
		return Entry{}, false
	}
	if len(entries) == 1 {
		return entries[0], false
	}
	want := strings.TrimSpace(preferred[norm.NFC.String(character)])
	if want != "" {
		for _, entry := range entries {
			if pinyinEqual(entry.Pinyin, want) {
				return entry, true
			}
		}
	}
	return entries[0], false
}

func pinyinEqual(a, b string) bool {
	normalize := func(s string) string {
		return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
	}
	return normalize(a) == normalize(b)
}
