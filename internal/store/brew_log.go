package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/teacaddy/internal/model"
)

type BrewLogStore struct {
	db *sql.DB
}

func NewBrewLogStore(db *sql.DB) *BrewLogStore {
	return &BrewLogStore{db: db}
}

func scanBrewLog(scanner interface{ Scan(...any) error }) (*model.BrewLog, error) {
	var b model.BrewLog
	var date, notes string
	var teaAmount sql.NullFloat64

	err := scanner.Scan(
		&b.ID, &b.TeaID, &date, &b.WaterTemp, &b.SteepTime,
		&teaAmount, &b.Rating, &notes,
	)
	if err != nil {
		return nil, err
	}

	if b.Date, err = time.Parse(time.RFC3339Nano, date); err != nil {
		return nil, fmt.Errorf("parse date of brew log %s: %w", b.ID, err)
	}
	if teaAmount.Valid {
		b.TeaAmount = &teaAmount.Float64
	}
	if err := json.Unmarshal([]byte(notes), &b.TastingNotes); err != nil {
		return nil, fmt.Errorf("parse tasting notes of brew log %s: %w", b.ID, err)
	}
	if b.TastingNotes == nil {
		b.TastingNotes = []string{}
	}
	return &b, nil
}

const brewLogCols = `id, tea_id, date, water_temp, steep_time, tea_amount, rating, tasting_notes`

func brewLogArgs(b model.BrewLog) ([]any, error) {
	notes := b.TastingNotes
	if notes == nil {
		notes = []string{}
	}
	encoded, err := json.Marshal(notes)
	if err != nil {
		return nil, fmt.Errorf("encode tasting notes: %w", err)
	}
	var teaAmount sql.NullFloat64
	if b.TeaAmount != nil {
		teaAmount = sql.NullFloat64{Float64: *b.TeaAmount, Valid: true}
	}
	return []any{
		b.ID, b.TeaID, b.Date.UTC().Format(time.RFC3339Nano), b.WaterTemp, b.SteepTime,
		teaAmount, b.Rating, string(encoded),
	}, nil
}

// List returns the journal in display order.
func (s *BrewLogStore) List(ctx context.Context) ([]model.BrewLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+brewLogCols+` FROM brew_logs ORDER BY position, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list brew logs: %w: %w", model.ErrStorage, err)
	}
	defer rows.Close()

	logs := []model.BrewLog{}
	for rows.Next() {
		b, err := scanBrewLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan brew log: %w: %w", model.ErrStorage, err)
		}
		logs = append(logs, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list brew logs: %w: %w", model.ErrStorage, err)
	}
	return logs, nil
}

func (s *BrewLogStore) GetByID(ctx context.Context, id string) (*model.BrewLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+brewLogCols+` FROM brew_logs WHERE id = ?`, id)
	b, err := scanBrewLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get brew log %s: %w: %w", id, model.ErrStorage, err)
	}
	return b, nil
}

// Put inserts or overwrites one brew log. New entries go to the front.
func (s *BrewLogStore) Put(ctx context.Context, b model.BrewLog) error {
	args, err := brewLogArgs(b)
	if err != nil {
		return fmt.Errorf("put brew log %s: %w: %w", b.ID, model.ErrStorage, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO brew_logs (position, `+brewLogCols+`)
		 VALUES ((SELECT COALESCE(MIN(position), 0) - 1 FROM brew_logs), ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   tea_id = excluded.tea_id, date = excluded.date,
		   water_temp = excluded.water_temp, steep_time = excluded.steep_time,
		   tea_amount = excluded.tea_amount, rating = excluded.rating,
		   tasting_notes = excluded.tasting_notes`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("put brew log %s: %w: %w", b.ID, model.ErrStorage, err)
	}
	return nil
}

// Delete removes a brew log and reports whether it existed.
func (s *BrewLogStore) Delete(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM brew_logs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete brew log %s: %w: %w", id, model.ErrStorage, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w: %w", model.ErrStorage, err)
	}
	return n > 0, nil
}

// Replace swaps the whole journal for logs, in the given order.
func (s *BrewLogStore) Replace(ctx context.Context, logs []model.BrewLog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w: %w", model.ErrStorage, err)
	}
	defer tx.Rollback()

	if err := replaceBrewLogs(ctx, tx, logs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit brew logs: %w: %w", model.ErrStorage, err)
	}
	return nil
}

func replaceBrewLogs(ctx context.Context, ex execer, logs []model.BrewLog) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM brew_logs`); err != nil {
		return fmt.Errorf("clear brew logs: %w: %w", model.ErrStorage, err)
	}
	for i, b := range logs {
		args, err := brewLogArgs(b)
		if err != nil {
			return fmt.Errorf("insert brew log %s: %w: %w", b.ID, model.ErrStorage, err)
		}
		_, err = ex.ExecContext(ctx,
			`INSERT INTO brew_logs (position, `+brewLogCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			append([]any{i}, args...)...,
		)
		if err != nil {
			return fmt.Errorf("insert brew log %s: %w: %w", b.ID, model.ErrStorage, err)
		}
	}
	return nil
}
