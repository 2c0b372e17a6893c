package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/teacaddy/internal/model"
)

// OutboxStore persists remote mutations that have not been confirmed yet.
type OutboxStore struct {
	db *sql.DB
}

func NewOutboxStore(db *sql.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

const outboxCols = `id, collection, op, record_id, owner_id, payload, attempts, last_error, created_at`

func scanIntent(scanner interface{ Scan(...any) error }) (*model.OutboxIntent, error) {
	var in model.OutboxIntent
	var payload []byte
	var lastError sql.NullString
	var createdAt string

	err := scanner.Scan(
		&in.ID, &in.Collection, &in.Op, &in.RecordID, &in.OwnerID,
		&payload, &in.Attempts, &lastError, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		in.Payload = payload
	}
	in.LastError = lastError.String
	if in.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse intent %d created_at: %w", in.ID, err)
	}
	return &in, nil
}

// Enqueue appends an intent and returns it with its sequence id set.
func (s *OutboxStore) Enqueue(ctx context.Context, in model.OutboxIntent) (*model.OutboxIntent, error) {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	var payload []byte
	if len(in.Payload) > 0 {
		payload = in.Payload
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox (collection, op, record_id, owner_id, payload, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		in.Collection, string(in.Op), in.RecordID, in.OwnerID, payload, in.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue intent: %w: %w", model.ErrStorage, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w: %w", model.ErrStorage, err)
	}
	in.ID = id
	in.Attempts = 0
	in.LastError = ""
	return &in, nil
}

// Pending returns up to limit intents for owner in sequence order.
func (s *OutboxStore) Pending(ctx context.Context, ownerID string, limit int) ([]model.OutboxIntent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+outboxCols+` FROM outbox WHERE owner_id = ? ORDER BY id LIMIT ?`, ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list intents: %w: %w", model.ErrStorage, err)
	}
	defer rows.Close()

	var intents []model.OutboxIntent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan intent: %w: %w", model.ErrStorage, err)
		}
		intents = append(intents, *in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list intents: %w: %w", model.ErrStorage, err)
	}
	return intents, nil
}

func (s *OutboxStore) GetByID(ctx context.Context, id int64) (*model.OutboxIntent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+outboxCols+` FROM outbox WHERE id = ?`, id)
	in, err := scanIntent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get intent %d: %w: %w", id, model.ErrStorage, err)
	}
	return in, nil
}

func (s *OutboxStore) Remove(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove intent %d: %w: %w", id, model.ErrStorage, err)
	}
	return nil
}

// MarkFailed records a failed delivery attempt.
func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, cause error) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?`, cause.Error(), id,
	)
	if err != nil {
		return fmt.Errorf("mark intent %d failed: %w: %w", id, model.ErrStorage, err)
	}
	return nil
}

// Count returns the number of queued intents for owner.
func (s *OutboxStore) Count(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE owner_id = ?`, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count intents: %w: %w", model.ErrStorage, err)
	}
	return n, nil
}
