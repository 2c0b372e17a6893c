package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type TeaType string

const (
	TeaGreen  TeaType = "Green"
	TeaBlack  TeaType = "Black"
	TeaOolong TeaType = "Oolong"
	TeaWhite  TeaType = "White"
	TeaPuerh  TeaType = "Puerh"
	TeaHerbal TeaType = "Herbal"
	TeaYellow TeaType = "Yellow"
)

// TeaTypes lists every category in display order.
var TeaTypes = []TeaType{TeaGreen, TeaBlack, TeaOolong, TeaWhite, TeaPuerh, TeaHerbal, TeaYellow}

func (t TeaType) Valid() bool {
	for _, v := range TeaTypes {
		if v == t {
			return true
		}
	}
	return false
}

// UnknownTeaName is shown for brew logs whose tea no longer exists.
const UnknownTeaName = "Unknown Tea"

// Tea is an inventory item. JSON field names match the backup document format.
type Tea struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Type          TeaType          `json:"type"`
	Origin        string           `json:"origin"`
	HarvestYear   *int             `json:"harvestYear,omitempty"`
	Vendor        string           `json:"vendor,omitempty"`
	StockWeight   float64          `json:"stockWeight"`
	InitialWeight *float64         `json:"initialWeight,omitempty"`
	PurchaseDate  string           `json:"purchaseDate"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	Rating        int              `json:"rating"`
	Notes         string           `json:"notes"`
	ImageURL      string           `json:"imageUrl,omitempty"`
	ImageBlobID   string           `json:"imageBlobId,omitempty"`
}

func (t Tea) RecordID() string { return t.ID }

// Validate checks the fields a user can set. Stock is only checked here, on
// input; consumption may drive the stored value below zero.
func (t *Tea) Validate() error {
	if t.StockWeight < 0 {
		return fmt.Errorf("%w: stock weight must not be negative", ErrInvalid)
	}
	return t.validateFields()
}

// ValidateChange checks an edit of prev. A stock left below zero by
// consumption is accepted as long as the edit does not change it.
func (t *Tea) ValidateChange(prev Tea) error {
	if t.StockWeight < 0 && t.StockWeight != prev.StockWeight {
		return fmt.Errorf("%w: stock weight must not be negative", ErrInvalid)
	}
	return t.validateFields()
}

func (t *Tea) validateFields() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w: unknown tea type %q", ErrInvalid, t.Type)
	}
	if t.InitialWeight != nil && *t.InitialWeight < 0 {
		return fmt.Errorf("%w: initial weight must not be negative", ErrInvalid)
	}
	if t.Price != nil && t.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrInvalid)
	}
	if t.Rating < 0 || t.Rating > 5 {
		return fmt.Errorf("%w: rating must be between 0 and 5", ErrInvalid)
	}
	if t.PurchaseDate != "" {
		if _, err := time.Parse(time.DateOnly, t.PurchaseDate); err != nil {
			return fmt.Errorf("%w: purchase date must be YYYY-MM-DD", ErrInvalid)
		}
	}
	return nil
}

// DisplayStock is the stock weight as shown to users, never below zero.
func (t Tea) DisplayStock() float64 {
	if t.StockWeight < 0 {
		return 0
	}
	return t.StockWeight
}

// UsedWeight is how much has been consumed since purchase.
func (t Tea) UsedWeight() float64 {
	initial := t.StockWeight
	if t.InitialWeight != nil {
		initial = *t.InitialWeight
	}
	return initial - t.DisplayStock()
}

// UsagePercent returns the consumed share of the initial weight, or 0 when
// the initial weight is unknown.
func (t Tea) UsagePercent() float64 {
	if t.InitialWeight == nil || *t.InitialWeight <= 0 {
		return 0
	}
	return t.UsedWeight() / *t.InitialWeight * 100
}

// PricePerGram divides the price by the initial weight, rounded to cents.
func (t Tea) PricePerGram() decimal.Decimal {
	if t.Price == nil || t.InitialWeight == nil || *t.InitialWeight <= 0 {
		return decimal.Zero
	}
	return t.Price.Div(decimal.NewFromFloat(*t.InitialWeight)).Round(2)
}

// PriceGrade buckets a per-gram price.
func PriceGrade(perGram decimal.Decimal) string {
	switch {
	case !perGram.IsPositive():
		return "Unknown"
	case perGram.LessThan(decimal.NewFromFloat(0.5)):
		return "Daily"
	case perGram.LessThan(decimal.NewFromInt(2)):
		return "Premium"
	case perGram.LessThan(decimal.NewFromInt(5)):
		return "High-End"
	default:
		return "Luxury"
	}
}

// TeaView is the presentation shape of a tea.
type TeaView struct {
	Tea
	PricePerGram string  `json:"pricePerGram,omitempty"`
	PriceGrade   string  `json:"priceGrade"`
	UsedWeight   float64 `json:"usedWeight"`
	UsagePercent float64 `json:"usagePercent"`
}

// View clamps the stock and adds derived values.
func (t Tea) View() TeaView {
	v := TeaView{Tea: t}
	v.StockWeight = t.DisplayStock()
	ppg := t.PricePerGram()
	if ppg.IsPositive() {
		v.PricePerGram = ppg.StringFixed(2)
	}
	v.PriceGrade = PriceGrade(ppg)
	v.UsedWeight = t.UsedWeight()
	v.UsagePercent = t.UsagePercent()
	return v
}

// TeaName resolves a tea id against a collection, tolerating dangling ids.
func TeaName(teas []Tea, id string) string {
	for _, t := range teas {
		if t.ID == id {
			return t.Name
		}
	}
	return UnknownTeaName
}
