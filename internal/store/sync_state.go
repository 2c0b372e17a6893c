package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/teacaddy/internal/model"
)

// SyncStateStore remembers when each collection last finished a merge pass.
type SyncStateStore struct {
	db *sql.DB
}

func NewSyncStateStore(db *sql.DB) *SyncStateStore {
	return &SyncStateStore{db: db}
}

// LastSync returns the zero time when the collection was never synced.
func (s *SyncStateStore) LastSync(ctx context.Context, collection string) (time.Time, error) {
	var at string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sync_at FROM sync_state WHERE collection = ?`, collection,
	).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get last sync of %s: %w: %w", collection, model.ErrStorage, err)
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last sync of %s: %w: %w", collection, model.ErrStorage, err)
	}
	return t, nil
}

func (s *SyncStateStore) SetLastSync(ctx context.Context, collection string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_state (collection, last_sync_at) VALUES (?, ?)
		 ON CONFLICT(collection) DO UPDATE SET last_sync_at = excluded.last_sync_at`,
		collection, at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set last sync of %s: %w: %w", collection, model.ErrStorage, err)
	}
	return nil
}
