package constants

import "time"

// Proxy pool scoring and lifecycle defaults.
const (
	// ProxyFailureLatencyEpsilon avoids a divide-by-zero when a forward has
	// no recorded latency yet.
	ProxyFailureLatencyEpsilon = 1 * time.Millisecond

	// ProxyScoreSuccessMultiplier is applied to a forward's score on a
	// successful request.
	ProxyScoreSuccessMultiplier = 1.1

	// ProxyScoreFailureMultiplier is applied to a forward's score on a
	// failed request, alongside incrementing ConsecutiveFailures.
	ProxyScoreFailureMultiplier = 0.5

	// ProxyPruneFailureThreshold is the consecutive-failure count at which
	// a forward is pruned from the pool regardless of score.
	ProxyPruneFailureThreshold = 3

	// ProxyPruneScoreThreshold is the score floor below which a forward is
	// pruned from the pool.
	ProxyPruneScoreThreshold = 0.01

	// ProxyMinPoolSize is the minimum live forward count the refresh
	// pipeline tries to maintain.
	ProxyMinPoolSize = 5

	// ProxyRefreshInterval is the default period between pool refreshes.
	ProxyRefreshInterval = 10 * time.Minute

	// ProxyValidationChunkSize bounds fan-out width when bulk-validating
	// candidate forwards.
	ProxyValidationChunkSize = 20

	// ProxyQualityProbeTimeout bounds a single candidate's liveness/quality
	// probe.
	ProxyQualityProbeTimeout = 8 * time.Second

	// ProxyExitSubnetMaskBits is the /N prefix used to compare a candidate's
	// reported exit IP against the caller's observed IP.
	ProxyExitSubnetMaskBits = 24

	// RefreshExpectedCandidates sizes the initial refresh's completion
	// timeout before the scraper has reported an actual count.
	RefreshExpectedCandidates = 5000

	// RefreshCompletionFloor is the minimum time the orchestrator waits on
	// the refresh barrier regardless of the dynamic estimate.
	RefreshCompletionFloor = 2 * time.Minute

	// RefreshPollInterval is the cadence of the fallback progress poll once
	// the barrier wait has timed out.
	RefreshPollInterval = 5 * time.Second

	// RefreshZeroProgressWindow is how long refresh progress may stay flat
	// before the orchestrator declares the refresh stalled.
	RefreshZeroProgressWindow = 3 * time.Minute
)
