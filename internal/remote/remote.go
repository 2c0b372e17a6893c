// Package remote talks to the durable, owner-scoped copy of the collections.
package remote

import (
	"context"
	"time"

	"github.com/dukerupert/teacaddy/internal/model"
	"github.com/shopspring/decimal"
)

// Collection is one remote table. Every call is scoped to the owner id.
type Collection[T any] interface {
	List(ctx context.Context, ownerID string) ([]T, error)
	// Upsert writes records by id in one round trip. Zero records is a no-op.
	Upsert(ctx context.Context, ownerID string, records ...T) error
	Delete(ctx context.Context, ownerID, id string) error
}

// Backend bundles the collections of one remote store.
type Backend struct {
	Teas     Collection[model.Tea]
	BrewLogs Collection[model.BrewLog]
	close    func() error
}

func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// teaRow is the remote column layout of a tea.
type teaRow struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	Name          string           `json:"name"`
	Type          string           `json:"type"`
	Origin        string           `json:"origin"`
	HarvestYear   *int             `json:"harvest_year"`
	Vendor        string           `json:"vendor"`
	StockWeight   float64          `json:"stock_weight"`
	InitialWeight *float64         `json:"initial_weight"`
	PurchaseDate  string           `json:"purchase_date"`
	Price         *decimal.Decimal `json:"price"`
	Rating        int              `json:"rating"`
	Notes         string           `json:"notes"`
	ImageURL      string           `json:"image_url"`
	ImageBlobID   string           `json:"image_blob_id"`
}

func newTeaRow(ownerID string, t model.Tea) teaRow {
	return teaRow{
		ID:            t.ID,
		UserID:        ownerID,
		Name:          t.Name,
		Type:          string(t.Type),
		Origin:        t.Origin,
		HarvestYear:   t.HarvestYear,
		Vendor:        t.Vendor,
		StockWeight:   t.StockWeight,
		InitialWeight: t.InitialWeight,
		PurchaseDate:  t.PurchaseDate,
		Price:         t.Price,
		Rating:        t.Rating,
		Notes:         t.Notes,
		ImageURL:      t.ImageURL,
		ImageBlobID:   t.ImageBlobID,
	}
}

func (r teaRow) tea() model.Tea {
	return model.Tea{
		ID:            r.ID,
		Name:          r.Name,
		Type:          model.TeaType(r.Type),
		Origin:        r.Origin,
		HarvestYear:   r.HarvestYear,
		Vendor:        r.Vendor,
		StockWeight:   r.StockWeight,
		InitialWeight: r.InitialWeight,
		PurchaseDate:  r.PurchaseDate,
		Price:         r.Price,
		Rating:        r.Rating,
		Notes:         r.Notes,
		ImageURL:      r.ImageURL,
		ImageBlobID:   r.ImageBlobID,
	}
}

// brewLogRow is the remote column layout of a brew log.
type brewLogRow struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	TeaID        string    `json:"tea_id"`
	Date         time.Time `json:"date"`
	WaterTemp    float64   `json:"water_temp"`
	SteepTime    int       `json:"steep_time"`
	TeaAmount    *float64  `json:"tea_amount"`
	Rating       int       `json:"rating"`
	TastingNotes []string  `json:"tasting_notes"`
}

func newBrewLogRow(ownerID string, b model.BrewLog) brewLogRow {
	notes := b.TastingNotes
	if notes == nil {
		notes = []string{}
	}
	return brewLogRow{
		ID:           b.ID,
		UserID:       ownerID,
		TeaID:        b.TeaID,
		Date:         b.Date,
		WaterTemp:    b.WaterTemp,
		SteepTime:    b.SteepTime,
		TeaAmount:    b.TeaAmount,
		Rating:       b.Rating,
		TastingNotes: notes,
	}
}

func (r brewLogRow) brewLog() model.BrewLog {
	notes := r.TastingNotes
	if notes == nil {
		notes = []string{}
	}
	return model.BrewLog{
		ID:           r.ID,
		TeaID:        r.TeaID,
		Date:         r.Date,
		WaterTemp:    r.WaterTemp,
		SteepTime:    r.SteepTime,
		TeaAmount:    r.TeaAmount,
		Rating:       r.Rating,
		TastingNotes: notes,
	}
}
