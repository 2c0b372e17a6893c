package remote

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/dukerupert/teacaddy/internal/model"
	"github.com/google/uuid"
)

// Set TEACADDY_TEST_POSTGRES_DSN to run against a real server.
func setupPostgres(t *testing.T) *Backend {
	t.Helper()
	dsn := os.Getenv("TEACADDY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEACADDY_TEST_POSTGRES_DSN not set")
	}
	b, err := NewPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestPostgresRoundTrip(t *testing.T) {
	b := setupPostgres(t)
	ctx := context.Background()
	owner := "test-" + uuid.NewString()
	other := "test-" + uuid.NewString()

	tea := model.Tea{ID: uuid.NewString(), Name: "Bai Mudan", Type: model.TeaWhite, StockWeight: 42}
	if err := b.Teas.Upsert(ctx, owner, tea); err != nil {
		t.Fatalf("upsert tea: %v", err)
	}
	t.Cleanup(func() { b.Teas.Delete(ctx, owner, tea.ID) })

	// Another owner cannot overwrite the row.
	hijack := tea
	hijack.Name = "stolen"
	if err := b.Teas.Upsert(ctx, other, hijack); err != nil {
		t.Fatalf("upsert other owner: %v", err)
	}
	teas, err := b.Teas.List(ctx, owner)
	if err != nil {
		t.Fatalf("list teas: %v", err)
	}
	if len(teas) != 1 || teas[0].Name != "Bai Mudan" {
		t.Errorf("teas = %+v", teas)
	}

	log := model.BrewLog{
		ID: uuid.NewString(), TeaID: tea.ID, Date: time.Now().UTC().Truncate(time.Millisecond),
		TastingNotes: []string{"hay", "melon"},
	}
	if err := b.BrewLogs.Upsert(ctx, owner, log); err != nil {
		t.Fatalf("upsert brew log: %v", err)
	}
	logs, err := b.BrewLogs.List(ctx, owner)
	if err != nil {
		t.Fatalf("list brew logs: %v", err)
	}
	if len(logs) != 1 || len(logs[0].TastingNotes) != 2 {
		t.Errorf("logs = %+v", logs)
	}
	if err := b.BrewLogs.Delete(ctx, owner, log.ID); err != nil {
		t.Fatalf("delete brew log: %v", err)
	}
}
