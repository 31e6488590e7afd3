// Package enrich implements the optional post-parse enrichment step.
// LLM-assisted field extraction is an external collaborator; NoOp is the
// pass-through implementation every dispatcher pipeline uses until a real
// enrichment backend is wired in behind the same ports.Enricher interface.
package enrich

import (
	"context"

	"github.com/harvestnet/harvestor/internal/core/domain"
)

// NoOp is a ports.Enricher that returns its input unchanged.
type NoOp struct{}

// New builds a NoOp enricher.
func New() *NoOp {
	return &NoOp{}
}

// Enrich returns listing unmodified.
func (NoOp) Enrich(ctx context.Context, listing *domain.Listing) (*domain.Listing, error) {
	return listing, nil
}
