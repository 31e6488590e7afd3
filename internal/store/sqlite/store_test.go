package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/harvestnet/harvestor/internal/core/constants"
	"github.com/harvestnet/harvestor/internal/core/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "harvestor-test.db")
	s, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_UpsertAndGetListing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	l := &domain.Listing{
		Site: "sample-site", ExternalID: "L1", URL: "https://example.test/1",
		Title: "Sunny flat", Price: 200000, Currency: "USD", Area: 75, Rooms: 2,
		Location: "Downtown", Features: []string{"balcony", "parking"},
		Images: []domain.ListingImage{{URL: "https://img/1.jpg", Position: 0}},
	}

	inserted, err := s.UpsertListing(ctx, l)
	if err != nil {
		t.Fatalf("UpsertListing() error = %v", err)
	}
	if !inserted {
		t.Error("inserted = false on first observation, want true")
	}

	got, err := s.GetListing(ctx, "sample-site", "L1")
	if err != nil {
		t.Fatalf("GetListing() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetListing() = nil, want the listing just inserted")
	}
	if got.Title != "Sunny flat" || got.Price != 200000 {
		t.Errorf("got = %+v, mismatched fields", got)
	}
	if len(got.Features) != 2 || got.Features[0] != "balcony" {
		t.Errorf("Features = %v", got.Features)
	}
	if len(got.Images) != 1 || got.Images[0].URL != "https://img/1.jpg" {
		t.Errorf("Images = %v", got.Images)
	}

	l.Price = 195000
	inserted, err = s.UpsertListing(ctx, l)
	if err != nil {
		t.Fatalf("second UpsertListing() error = %v", err)
	}
	if inserted {
		t.Error("inserted = true on second observation, want false")
	}

	got, err = s.GetListing(ctx, "sample-site", "L1")
	if err != nil {
		t.Fatalf("GetListing() after update error = %v", err)
	}
	if got.Price != 195000 {
		t.Errorf("Price after update = %v, want 195000", got.Price)
	}
}

func TestStore_GetListing_NotFound(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetListing(context.Background(), "sample-site", "missing")
	if err != nil {
		t.Fatalf("GetListing() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetListing() = %+v, want nil", got)
	}
}

func TestStore_RecordPricePoint_PrunesToLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	l := &domain.Listing{Site: "sample-site", ExternalID: "L2", Price: 100}
	if _, err := s.UpsertListing(ctx, l); err != nil {
		t.Fatalf("UpsertListing() error = %v", err)
	}

	base := time.Now().Add(-time.Hour)
	for i := 0; i < constants.PriceHistoryLimit+5; i++ {
		p := domain.PricePoint{Price: float64(100 + i), ObservedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.RecordPricePoint(ctx, "sample-site", "L2", p); err != nil {
			t.Fatalf("RecordPricePoint() error = %v", err)
		}
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM price_history WHERE site = ? AND external_id = ?`, "sample-site", "L2",
	).Scan(&count); err != nil {
		t.Fatalf("count price_history: %v", err)
	}
	if count != constants.PriceHistoryLimit {
		t.Errorf("price_history rows = %d, want %d", count, constants.PriceHistoryLimit)
	}
}

func TestStore_RecordChange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	l := &domain.Listing{Site: "sample-site", ExternalID: "L3"}
	if _, err := s.UpsertListing(ctx, l); err != nil {
		t.Fatalf("UpsertListing() error = %v", err)
	}

	err := s.RecordChange(ctx, domain.ListingChange{
		Site: "sample-site", ExternalID: "L3", Field: "price",
		OldValue: "200000", NewValue: "195000", ObservedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("RecordChange() error = %v", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM listing_changes WHERE site = ? AND external_id = ?`, "sample-site", "L3",
	).Scan(&count); err != nil {
		t.Fatalf("count listing_changes: %v", err)
	}
	if count != 1 {
		t.Errorf("listing_changes rows = %d, want 1", count)
	}
}

func TestStore_RecordScrapeRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	report := domain.NewSessionReport()
	report.TotalRequests = 10
	report.Successes = 9
	report.Health = domain.HealthHealthy
	report.EndedAt = time.Now()

	if err := s.RecordScrapeRun(ctx, report); err != nil {
		t.Fatalf("RecordScrapeRun() error = %v", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scrape_history`).Scan(&count); err != nil {
		t.Fatalf("count scrape_history: %v", err)
	}
	if count != 1 {
		t.Errorf("scrape_history rows = %d, want 1", count)
	}
}
