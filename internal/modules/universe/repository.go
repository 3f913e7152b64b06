// Package universe manages the persisted, observable set of tickers the
// scanners run against.
package universe

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Schema is the universe.db DDL this module owns.
const Schema = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// storageKey is the durable record holding the symbol universe.
const storageKey = "symbol_universe_v1"

// Repository persists the symbol universe as a JSON array under a single
// key in the settings table.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a universe repository on universe.db.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "universe").Logger(),
	}
}

// Load reads the persisted symbol list. Returns nil (not an error) when no
// universe has been saved yet.
func (r *Repository) Load() ([]string, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM settings WHERE key = ?", storageKey).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load symbol universe: %w", err)
	}

	var symbols []string
	if err := json.Unmarshal([]byte(value), &symbols); err != nil {
		return nil, fmt.Errorf("failed to decode symbol universe: %w", err)
	}
	return symbols, nil
}

// Save writes the symbol list, replacing any previous value.
func (r *Repository) Save(symbols []string) error {
	value, err := json.Marshal(symbols)
	if err != nil {
		return fmt.Errorf("failed to encode symbol universe: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, storageKey, string(value), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save symbol universe: %w", err)
	}
	return nil
}
