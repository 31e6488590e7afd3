package ports

import (
	"context"

	"github.com/harvestnet/harvestor/internal/core/domain"
)

// ProxyScorer owns the live forward list, their scores and the mutex that
// guards both against the routing index drifting out from under a fetch.
type ProxyScorer interface {
	// Select returns a forward and its stable routing index, chosen by
	// weighted-random draw over normalized scores.
	Select() (endpoint *domain.ProxyEndpoint, index int, err error)
	// RecordSuccess boosts the score of the forward at index.
	RecordSuccess(index int, latencyMS int64)
	// RecordFailure penalizes the score of the forward at index and prunes
	// it once it crosses the failure/score threshold.
	RecordFailure(index int)
	// Replace atomically swaps in a freshly validated forward list.
	Replace(endpoints []*domain.ProxyEndpoint)
	// Snapshot returns a point-in-time copy of the live list for reporting.
	Snapshot() []*domain.ProxyEndpoint
	Len() int
}

// ProxyValidator bulk-checks candidate forwards for liveness, anonymity
// class and exit IP, discarding any that fail a quality probe.
type ProxyValidator interface {
	ValidateAll(ctx context.Context, candidates []*domain.ProxyEndpoint) []*domain.ProxyEndpoint
}

// ProxySupervisor manages the lifecycle of the external rotator subprocess:
// start, graceful stop, and restart-once-then-escalate on crash.
type ProxySupervisor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restarts() int
}

// ProxyRefreshPipeline periodically re-validates the forward pool and
// replaces it in the scorer once a refresh completes.
type ProxyRefreshPipeline interface {
	Run(ctx context.Context) error
	RefreshOnce(ctx context.Context) error
}
