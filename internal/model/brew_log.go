package model

import (
	"fmt"
	"strings"
	"time"
)

// BrewLog is a journal entry for one brewing session.
type BrewLog struct {
	ID           string    `json:"id"`
	TeaID        string    `json:"teaId"`
	Date         time.Time `json:"date"`
	WaterTemp    float64   `json:"waterTemp"`
	SteepTime    int       `json:"steepTime"`
	TeaAmount    *float64  `json:"teaAmount,omitempty"`
	Rating       int       `json:"rating"`
	TastingNotes []string  `json:"tastingNotes"`
}

func (b BrewLog) RecordID() string { return b.ID }

func (b *BrewLog) Validate() error {
	if strings.TrimSpace(b.TeaID) == "" {
		return fmt.Errorf("%w: tea id is required", ErrInvalid)
	}
	if b.SteepTime < 0 {
		return fmt.Errorf("%w: steep time must not be negative", ErrInvalid)
	}
	if b.TeaAmount != nil && *b.TeaAmount < 0 {
		return fmt.Errorf("%w: tea amount must not be negative", ErrInvalid)
	}
	if b.Rating < 0 || b.Rating > 5 {
		return fmt.Errorf("%w: rating must be between 0 and 5", ErrInvalid)
	}
	return nil
}

// SplitTastingNotes turns comma separated input into trimmed, non-empty notes.
func SplitTastingNotes(s string) []string {
	notes := []string{}
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			notes = append(notes, n)
		}
	}
	return notes
}

// BrewLogView is the presentation shape of a brew log.
type BrewLogView struct {
	BrewLog
	TeaName string `json:"teaName"`
}

// View resolves the tea name against teas.
func (b BrewLog) View(teas []Tea) BrewLogView {
	return BrewLogView{BrewLog: b, TeaName: TeaName(teas, b.TeaID)}
}
