package ports

import (
	"context"

	"github.com/harvestnet/harvestor/internal/core/domain"
)

// ListingStore is the relational persistence boundary for listings, their
// price history, field-level changes and per-run scrape history.
type ListingStore interface {
	UpsertListing(ctx context.Context, l *domain.Listing) (inserted bool, err error)
	GetListing(ctx context.Context, site, externalID string) (*domain.Listing, error)
	RecordPricePoint(ctx context.Context, site, externalID string, p domain.PricePoint) error
	RecordChange(ctx context.Context, c domain.ListingChange) error
	RecordScrapeRun(ctx context.Context, report *domain.SessionReport) error
}

// ChangeDetector fingerprints a newly parsed listing against the stored
// version and emits field-level change records for anything that moved.
type ChangeDetector interface {
	Detect(ctx context.Context, incoming *domain.Listing) ([]domain.ListingChange, error)
}

// Dispatcher drives one site's pending URLs through the
// rate-limit -> breaker -> fetch -> validate -> parse -> enrich -> upsert ->
// checkpoint pipeline. One Dispatcher is bound per enabled site; the
// orchestrator runs them in parallel while each stays sequential inside.
type Dispatcher interface {
	Site() string
	Run(ctx context.Context) error
}

// SessionMetricsSink accumulates per-request outcomes into a SessionReport
// and computes the final health verdict.
type SessionMetricsSink interface {
	RecordSuccess(domain string, latencyMS int64)
	RecordFailure(domain string, kind string)
	RecordRateLimit(domain string)
	RecordCircuitTrip(domain string)
	RecordPoolExhaustion()
	Finalize() *domain.SessionReport
}
