// Package stub provides a placeholder ports.Strategy for sites whose
// strategy tag names a bespoke parser that hasn't been registered: it
// satisfies the interface and discovers nothing.
package stub

import (
	"context"

	"github.com/harvestnet/harvestor/internal/core/domain"
)

// Strategy is a no-op ports.Strategy: it advertises the site's seed URLs
// but never extracts a listing or pagination link.
type Strategy struct {
	site     string
	seedURLs []string
}

// New builds a Strategy for site seeded with seedURLs.
func New(site string, seedURLs []string) *Strategy {
	return &Strategy{site: site, seedURLs: seedURLs}
}

func (s *Strategy) Site() string {
	return s.site
}

func (s *Strategy) SeedURLs() []string {
	return s.seedURLs
}

func (s *Strategy) ExtractListing(ctx context.Context, pageURL string, body []byte) ([]*domain.Listing, error) {
	return nil, nil
}

func (s *Strategy) ExtractPagination(ctx context.Context, pageURL string, body []byte) ([]string, error) {
	return nil, nil
}

func (s *Strategy) IsLastPage(body []byte) bool {
	return true
}

func (s *Strategy) DeclaresNonEmpty(body []byte) bool {
	return false
}
