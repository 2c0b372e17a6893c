package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/teacaddy/internal/model"
)

// Cache groups the collection stores that share one database and offers
// writes spanning both collections.
type Cache struct {
	db       *sql.DB
	Teas     *TeaStore
	BrewLogs *BrewLogStore
}

func NewCache(db *sql.DB) *Cache {
	return &Cache{db: db, Teas: NewTeaStore(db), BrewLogs: NewBrewLogStore(db)}
}

// ReplaceAll swaps both collections in one transaction. Either both are
// written or neither is.
func (c *Cache) ReplaceAll(ctx context.Context, teas []model.Tea, logs []model.BrewLog) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w: %w", model.ErrStorage, err)
	}
	defer tx.Rollback()

	if err := replaceTeas(ctx, tx, teas); err != nil {
		return err
	}
	if err := replaceBrewLogs(ctx, tx, logs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w: %w", model.ErrStorage, err)
	}
	return nil
}
