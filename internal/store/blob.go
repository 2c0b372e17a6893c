package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/teacaddy/internal/blob"
	"github.com/dukerupert/teacaddy/internal/model"
)

// BlobStore keeps photos in the local database next to the collections.
type BlobStore struct {
	db *sql.DB
}

var _ blob.Store = (*BlobStore)(nil)

func NewBlobStore(db *sql.DB) *BlobStore {
	return &BlobStore{db: db}
}

func (s *BlobStore) Put(ctx context.Context, data []byte, mimeType string) (string, error) {
	id := blob.NewID()
	if err := s.Save(ctx, model.Blob{ID: id, MIMEType: mimeType, Data: data}); err != nil {
		return "", err
	}
	return id, nil
}

// Save writes b under its own id. Writing the same id again replaces the content.
func (s *BlobStore) Save(ctx context.Context, b model.Blob) error {
	if b.MIMEType == "" {
		b.MIMEType = blob.DefaultMIMEType
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	data := b.Data
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs (id, mime_type, data, size_bytes, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET mime_type = excluded.mime_type, data = excluded.data, size_bytes = excluded.size_bytes`,
		b.ID, b.MIMEType, data, len(data), b.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save blob %s: %w: %w", b.ID, model.ErrStorage, err)
	}
	return nil
}

func (s *BlobStore) Get(ctx context.Context, id string) (*model.Blob, error) {
	b := &model.Blob{}
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, mime_type, data, created_at FROM blobs WHERE id = ?`, id,
	).Scan(&b.ID, &b.MIMEType, &b.Data, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w: %w", id, model.ErrStorage, err)
	}
	if b.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse blob %s created_at: %w: %w", id, model.ErrStorage, err)
	}
	return b, nil
}

// Count returns how many blobs are stored and their total size.
func (s *BlobStore) Count(ctx context.Context) (int, int64, error) {
	var n int
	var size int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM blobs`).Scan(&n, &size)
	if err != nil {
		return 0, 0, fmt.Errorf("count blobs: %w: %w", model.ErrStorage, err)
	}
	return n, size, nil
}
