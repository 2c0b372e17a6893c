package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/teacaddy/internal/model"
	"github.com/shopspring/decimal"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type TeaStore struct {
	db *sql.DB
}

func NewTeaStore(db *sql.DB) *TeaStore {
	return &TeaStore{db: db}
}

func scanTea(scanner interface{ Scan(...any) error }) (*model.Tea, error) {
	var t model.Tea
	var harvestYear sql.NullInt64
	var initialWeight sql.NullFloat64
	var price sql.NullString

	err := scanner.Scan(
		&t.ID, &t.Name, &t.Type, &t.Origin, &harvestYear, &t.Vendor,
		&t.StockWeight, &initialWeight, &t.PurchaseDate, &price,
		&t.Rating, &t.Notes, &t.ImageURL, &t.ImageBlobID,
	)
	if err != nil {
		return nil, err
	}

	if harvestYear.Valid {
		y := int(harvestYear.Int64)
		t.HarvestYear = &y
	}
	if initialWeight.Valid {
		t.InitialWeight = &initialWeight.Float64
	}
	if price.Valid {
		p, err := decimal.NewFromString(price.String)
		if err != nil {
			return nil, fmt.Errorf("parse price of tea %s: %w", t.ID, err)
		}
		t.Price = &p
	}
	return &t, nil
}

const teaCols = `id, name, type, origin, harvest_year, vendor, stock_weight, initial_weight, purchase_date, price, rating, notes, image_url, image_blob_id`

func teaArgs(t model.Tea) []any {
	var harvestYear sql.NullInt64
	if t.HarvestYear != nil {
		harvestYear = sql.NullInt64{Int64: int64(*t.HarvestYear), Valid: true}
	}
	var initialWeight sql.NullFloat64
	if t.InitialWeight != nil {
		initialWeight = sql.NullFloat64{Float64: *t.InitialWeight, Valid: true}
	}
	var price sql.NullString
	if t.Price != nil {
		price = sql.NullString{String: t.Price.String(), Valid: true}
	}
	return []any{
		t.ID, t.Name, string(t.Type), t.Origin, harvestYear, t.Vendor,
		t.StockWeight, initialWeight, t.PurchaseDate, price,
		t.Rating, t.Notes, t.ImageURL, t.ImageBlobID,
	}
}

// List returns the collection in display order.
func (s *TeaStore) List(ctx context.Context) ([]model.Tea, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+teaCols+` FROM teas ORDER BY position, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list teas: %w: %w", model.ErrStorage, err)
	}
	defer rows.Close()

	teas := []model.Tea{}
	for rows.Next() {
		t, err := scanTea(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tea: %w: %w", model.ErrStorage, err)
		}
		teas = append(teas, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list teas: %w: %w", model.ErrStorage, err)
	}
	return teas, nil
}

func (s *TeaStore) GetByID(ctx context.Context, id string) (*model.Tea, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+teaCols+` FROM teas WHERE id = ?`, id)
	t, err := scanTea(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tea %s: %w: %w", id, model.ErrStorage, err)
	}
	return t, nil
}

// Put inserts or overwrites one tea. New teas go to the front of the list;
// existing ones keep their place.
func (s *TeaStore) Put(ctx context.Context, t model.Tea) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO teas (position, `+teaCols+`)
		 VALUES ((SELECT COALESCE(MIN(position), 0) - 1 FROM teas), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name, type = excluded.type, origin = excluded.origin,
		   harvest_year = excluded.harvest_year, vendor = excluded.vendor,
		   stock_weight = excluded.stock_weight, initial_weight = excluded.initial_weight,
		   purchase_date = excluded.purchase_date, price = excluded.price,
		   rating = excluded.rating, notes = excluded.notes,
		   image_url = excluded.image_url, image_blob_id = excluded.image_blob_id`,
		teaArgs(t)...,
	)
	if err != nil {
		return fmt.Errorf("put tea %s: %w: %w", t.ID, model.ErrStorage, err)
	}
	return nil
}

// Delete removes a tea and reports whether it existed.
func (s *TeaStore) Delete(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM teas WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete tea %s: %w: %w", id, model.ErrStorage, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w: %w", model.ErrStorage, err)
	}
	return n > 0, nil
}

// Replace swaps the whole collection for teas, in the given order.
func (s *TeaStore) Replace(ctx context.Context, teas []model.Tea) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w: %w", model.ErrStorage, err)
	}
	defer tx.Rollback()

	if err := replaceTeas(ctx, tx, teas); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit teas: %w: %w", model.ErrStorage, err)
	}
	return nil
}

func replaceTeas(ctx context.Context, ex execer, teas []model.Tea) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM teas`); err != nil {
		return fmt.Errorf("clear teas: %w: %w", model.ErrStorage, err)
	}
	for i, t := range teas {
		args := append([]any{i}, teaArgs(t)...)
		_, err := ex.ExecContext(ctx,
			`INSERT INTO teas (position, `+teaCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("insert tea %s: %w: %w", t.ID, model.ErrStorage, err)
		}
	}
	return nil
}
