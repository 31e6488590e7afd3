package constants

import "time"

// Rate limiter and circuit breaker defaults.
const (
	// DefaultRateLimitCapacity is the default token bucket capacity per domain.
	DefaultRateLimitCapacity = 5.0

	// DefaultRateLimitRefillPerSec is the default token refill rate per domain.
	DefaultRateLimitRefillPerSec = 1.0

	// SharedStoreRateKeyPrefix namespaces rate limiter keys in a shared store.
	SharedStoreRateKeyPrefix = "rate:"

	// SharedStoreBreakerKeyPrefix namespaces circuit breaker keys in a
	// shared store.
	SharedStoreBreakerKeyPrefix = "breaker:"

	// BreakerFailureThreshold is the consecutive-failure count that trips a
	// CLOSED breaker to OPEN for ordinary failures (server errors).
	BreakerFailureThreshold = 5

	// BreakerBlockedThreshold is the consecutive blocked-response count that
	// trips a CLOSED breaker to OPEN. Much lower than the generic threshold:
	// a block means the target's bot defence has already noticed us, and
	// continuing to hammer it only deepens the block.
	BreakerBlockedThreshold = 2

	// BreakerOpenDuration is how long a breaker stays OPEN before allowing a
	// single HALF_OPEN probe.
	BreakerOpenDuration = 30 * time.Second

	// SharedStoreDefaultTTL bounds how long a shared rate/breaker entry
	// survives without being refreshed.
	SharedStoreDefaultTTL = 5 * time.Minute
)
