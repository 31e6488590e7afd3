package ports

import (
	"context"
	"time"
)

// RateLimiter admits or delays requests for a domain under a token-bucket
// policy. Local implementations hold state in-process; shared ones
// coordinate admission across processes through a SharedStore.
type RateLimiter interface {
	// Wait blocks until a token for domain is available or ctx is done.
	Wait(ctx context.Context, domain string) error
	// Allow reports whether a token is immediately available, consuming one
	// if so, without blocking.
	Allow(domain string) bool
}

// CircuitBreaker guards calls to a domain, tripping to OPEN after a run of
// consecutive failures and admitting a single HALF_OPEN probe before
// deciding whether to re-close or re-open.
type CircuitBreaker interface {
	// Allow reports whether a call against domain may proceed right now.
	// It returns nil when the call may proceed, and domain.ErrCircuitOpen
	// when the breaker is OPEN, or when it is HALF_OPEN and a probe is
	// already outstanding.
	Allow(domain string) error
	// RecordSuccess reports a successful call against domain.
	RecordSuccess(domain string)
	// RecordFailure reports a failed call against domain.
	RecordFailure(domain string)
	// RecordBlocked reports a blocked response (hard 403 or soft block)
	// against domain. Blocked hits trip the breaker on a lower threshold
	// than ordinary failures.
	RecordBlocked(domain string)
}

// SharedStore is the minimal key-value contract the shared-store rate
// limiter and circuit breaker variants need for cross-process coordination.
// Values are opaque byte blobs; callers are responsible for serialization.
type SharedStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// CompareAndSwap atomically replaces the value at key with newVal when
	// the current value equals oldVal (oldVal is nil for "key absent").
	// It returns false without error on a lost race.
	CompareAndSwap(ctx context.Context, key string, oldVal, newVal []byte, ttl time.Duration) (bool, error)
	Close() error
}
