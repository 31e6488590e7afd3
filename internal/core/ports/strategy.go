package ports

import (
	"context"

	"github.com/harvestnet/harvestor/internal/core/domain"
)

// Strategy is the capability set a site plugin must implement. One
// strategy is bound per configured site; the generic strategy drives a
// single YAML-parameterized selector set shared across sites that need no
// bespoke markup handling.
type Strategy interface {
	// Site is the registry key this strategy answers to.
	Site() string

	// SeedURLs returns the starting URL set for a fresh (checkpoint-less) run.
	SeedURLs() []string

	// ExtractListing parses body (fetched from pageURL) into zero or more
	// listing records.
	ExtractListing(ctx context.Context, pageURL string, body []byte) ([]*domain.Listing, error)

	// ExtractPagination returns follow URLs discovered on the page (next
	// pages, detail links) to append to the dispatcher's pending set.
	ExtractPagination(ctx context.Context, pageURL string, body []byte) ([]string, error)

	// IsLastPage reports whether body is the final page of a paginated
	// sequence, so the dispatcher stops following ExtractPagination's output.
	IsLastPage(body []byte) bool

	// DeclaresNonEmpty reports whether this page type is expected to carry
	// at least one listing. The response validator uses this to classify a
	// zero-result page as a soft block rather than a legitimate empty page.
	DeclaresNonEmpty(body []byte) bool
}

// Enricher optionally augments a listing after parsing, e.g. with an LLM
// normalization pass. The default implementation is a no-op passthrough.
type Enricher interface {
	Enrich(ctx context.Context, listing *domain.Listing) (*domain.Listing, error)
}
