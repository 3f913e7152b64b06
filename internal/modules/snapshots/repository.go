package snapshots

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/bentrade/bentrade/internal/domain"
)

// Schema is the cache.db DDL the snapshot store owns. A single row holds the
// latest snapshot as a msgpack blob so a restart can serve the last good
// dashboard immediately.
const Schema = `
CREATE TABLE IF NOT EXISTS snapshot_cache (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	payload BLOB NOT NULL,
	saved_at INTEGER NOT NULL
);
`

// Repository persists the latest snapshot.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a snapshot repository on an open cache database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save replaces the persisted snapshot.
func (r *Repository) Save(snapshot *domain.Snapshot) error {
	payload, err := msgpack.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO snapshot_cache (id, payload, saved_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at
	`, payload, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return nil
}

// Load returns the persisted snapshot, or nil when none exists.
func (r *Repository) Load() (*domain.Snapshot, error) {
	var payload []byte
	err := r.db.QueryRow("SELECT payload FROM snapshot_cache WHERE id = 1").Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snapshot domain.Snapshot
	if err := msgpack.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}
