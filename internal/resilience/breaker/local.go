// Package breaker implements the per-domain circuit breaker: Local
// (in-process, sync.Map-backed) and Shared (cross-process, coordinated
// through a ports.SharedStore) variants, both trading off a CLOSED/OPEN/
// HALF_OPEN state machine with exactly one admitted probe in HALF_OPEN.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/harvestnet/harvestor/internal/core/constants"
	"github.com/harvestnet/harvestor/internal/core/domain"
)

// Local is a Local CircuitBreaker.
type Local struct {
	domains          sync.Map // domain -> *circuitState
	failureThreshold int
	blockedThreshold int
	openDuration     time.Duration
}

type circuitState struct {
	failures   int64
	blocked    int64
	isOpen     int32
	openedAtNS int64
	probeOut   int32
}

// NewLocal builds a Local breaker. Ordinary failures trip the breaker at
// failureThreshold; blocked responses trip it at the (lower)
// blockedThreshold. Zero values fall back to the package defaults.
func NewLocal(failureThreshold, blockedThreshold int, openDuration time.Duration) *Local {
	if failureThreshold <= 0 {
		failureThreshold = constants.BreakerFailureThreshold
	}
	if blockedThreshold <= 0 {
		blockedThreshold = constants.BreakerBlockedThreshold
	}
	if openDuration <= 0 {
		openDuration = constants.BreakerOpenDuration
	}
	return &Local{
		failureThreshold: failureThreshold,
		blockedThreshold: blockedThreshold,
		openDuration:     openDuration,
	}
}

// Allow reports whether a call against domainName may proceed. It admits
// exactly one probe while the breaker is HALF_OPEN (i.e. OPEN but past its
// cooldown) and rejects every other concurrent caller until that probe
// reports success or failure.
func (b *Local) Allow(domainName string) error {
	state, ok := b.loadState(domainName)
	if !ok {
		return nil
	}

	if atomic.LoadInt32(&state.isOpen) == 0 {
		return nil
	}

	openedAt := time.Unix(0, atomic.LoadInt64(&state.openedAtNS))
	if time.Now().Before(openedAt.Add(b.openDuration)) {
		return domain.ErrCircuitOpen
	}

	// Cooldown elapsed: admit exactly one probe.
	if atomic.CompareAndSwapInt32(&state.probeOut, 0, 1) {
		return nil
	}
	return domain.ErrCircuitOpen
}

// RecordSuccess closes the breaker and clears its failure counts.
func (b *Local) RecordSuccess(domainName string) {
	state, ok := b.loadState(domainName)
	if !ok {
		return
	}
	atomic.StoreInt64(&state.failures, 0)
	atomic.StoreInt64(&state.blocked, 0)
	atomic.StoreInt32(&state.isOpen, 0)
	atomic.StoreInt32(&state.probeOut, 0)
}

// RecordFailure increments the failure count, tripping the breaker open
// once the threshold is reached, and re-opens a breaker whose HALF_OPEN
// probe just failed.
func (b *Local) RecordFailure(domainName string) {
	state := b.loadOrCreateState(domainName)

	wasHalfOpen := atomic.LoadInt32(&state.isOpen) == 1 && atomic.LoadInt32(&state.probeOut) == 1
	failures := atomic.AddInt64(&state.failures, 1)

	if wasHalfOpen || failures >= int64(b.failureThreshold) {
		b.trip(state)
	}
}

// RecordBlocked increments the blocked-response count, tripping the
// breaker open on the lower blocked threshold. A blocked hit also counts
// toward the ordinary failure streak.
func (b *Local) RecordBlocked(domainName string) {
	state := b.loadOrCreateState(domainName)

	wasHalfOpen := atomic.LoadInt32(&state.isOpen) == 1 && atomic.LoadInt32(&state.probeOut) == 1
	blocked := atomic.AddInt64(&state.blocked, 1)
	failures := atomic.AddInt64(&state.failures, 1)

	if wasHalfOpen || blocked >= int64(b.blockedThreshold) || failures >= int64(b.failureThreshold) {
		b.trip(state)
	}
}

func (b *Local) trip(state *circuitState) {
	atomic.StoreInt32(&state.isOpen, 1)
	atomic.StoreInt64(&state.openedAtNS, time.Now().UnixNano())
	atomic.StoreInt32(&state.probeOut, 0)
}

// State reports the domain's current state for diagnostics/metrics.
func (b *Local) State(domainName string) domain.BreakerState {
	state, ok := b.loadState(domainName)
	if !ok || atomic.LoadInt32(&state.isOpen) == 0 {
		return domain.BreakerClosed
	}
	openedAt := time.Unix(0, atomic.LoadInt64(&state.openedAtNS))
	if time.Now().Before(openedAt.Add(b.openDuration)) {
		return domain.BreakerOpen
	}
	return domain.BreakerHalfOpen
}

func (b *Local) loadState(domainName string) (*circuitState, bool) {
	value, ok := b.domains.Load(domainName)
	if !ok {
		return nil, false
	}
	state, ok := value.(*circuitState)
	return state, ok
}

func (b *Local) loadOrCreateState(domainName string) *circuitState {
	actual, _ := b.domains.LoadOrStore(domainName, &circuitState{})
	return actual.(*circuitState)
}
