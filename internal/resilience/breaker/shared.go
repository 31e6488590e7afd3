package breaker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/harvestnet/harvestor/internal/core/constants"
	"github.com/harvestnet/harvestor/internal/core/domain"
	"github.com/harvestnet/harvestor/internal/core/ports"
)

// Shared is a CircuitBreaker whose state lives in a ports.SharedStore
// (keyed "breaker:{domain}"), so a trip observed by one harvestor process
// is honored by every other process hitting the same domain.
type Shared struct {
	store            ports.SharedStore
	failureThreshold int
	blockedThreshold int
	openDuration     time.Duration
	ttl              time.Duration
}

// NewShared builds a Shared breaker backed by store. As with NewLocal,
// blocked responses trip on their own lower threshold.
func NewShared(store ports.SharedStore, failureThreshold, blockedThreshold int, openDuration time.Duration) *Shared {
	if failureThreshold <= 0 {
		failureThreshold = constants.BreakerFailureThreshold
	}
	if blockedThreshold <= 0 {
		blockedThreshold = constants.BreakerBlockedThreshold
	}
	if openDuration <= 0 {
		openDuration = constants.BreakerOpenDuration
	}
	return &Shared{
		store:            store,
		failureThreshold: failureThreshold,
		blockedThreshold: blockedThreshold,
		openDuration:     openDuration,
		ttl:              constants.SharedStoreDefaultTTL,
	}
}

func (s *Shared) key(domainName string) string {
	return constants.SharedStoreBreakerKeyPrefix + domainName
}

func (s *Shared) load(ctx context.Context, domainName string) (domain.DomainBreakerState, []byte, bool, error) {
	raw, found, err := s.store.Get(ctx, s.key(domainName))
	if err != nil || !found {
		return domain.DomainBreakerState{Domain: domainName, State: domain.BreakerClosed}, nil, found, err
	}
	var st domain.DomainBreakerState
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.DomainBreakerState{}, nil, false, err
	}
	return st, raw, true, nil
}

// Allow reports whether a call against domainName may proceed, admitting
// exactly one HALF_OPEN probe across all processes sharing the store.
func (s *Shared) Allow(domainName string) error {
	ctx := context.Background()
	st, raw, found, err := s.load(ctx, domainName)
	if err != nil || !found {
		return nil
	}

	switch st.State {
	case domain.BreakerClosed:
		return nil
	case domain.BreakerOpen:
		if time.Now().Before(st.OpenedAt.Add(s.openDuration)) {
			return domain.ErrCircuitOpen
		}
		// Cooldown elapsed: try to claim the single HALF_OPEN probe slot.
		st.State = domain.BreakerHalfOpen
		st.HalfOpenProbeOut = true
		newRaw, merr := json.Marshal(st)
		if merr != nil {
			return merr
		}
		ok, casErr := s.store.CompareAndSwap(ctx, s.key(domainName), raw, newRaw, s.ttl)
		if casErr != nil {
			return casErr
		}
		if ok {
			return nil
		}
		return domain.ErrCircuitOpen
	case domain.BreakerHalfOpen:
		return domain.ErrCircuitOpen
	default:
		return nil
	}
}

// RecordSuccess closes the breaker for domainName.
func (s *Shared) RecordSuccess(domainName string) {
	ctx := context.Background()
	_, raw, _, err := s.load(ctx, domainName)
	if err != nil {
		return
	}
	st := domain.DomainBreakerState{Domain: domainName, State: domain.BreakerClosed}
	newRaw, err := json.Marshal(st)
	if err != nil {
		return
	}
	_, _ = s.store.CompareAndSwap(ctx, s.key(domainName), raw, newRaw, s.ttl)
}

// RecordFailure increments the failure count, tripping the breaker OPEN
// once the threshold is reached or immediately re-opening a breaker whose
// HALF_OPEN probe just failed.
func (s *Shared) RecordFailure(domainName string) {
	s.record(domainName, false)
}

// RecordBlocked increments the blocked-response count, tripping the
// breaker OPEN on the lower blocked threshold. A blocked hit also counts
// toward the ordinary failure streak.
func (s *Shared) RecordBlocked(domainName string) {
	s.record(domainName, true)
}

func (s *Shared) record(domainName string, isBlocked bool) {
	ctx := context.Background()
	st, raw, _, err := s.load(ctx, domainName)
	if err != nil {
		return
	}

	wasHalfOpen := st.State == domain.BreakerHalfOpen
	st.ConsecutiveFails++
	if isBlocked {
		st.ConsecutiveBlocked++
	}

	tripped := wasHalfOpen || st.ConsecutiveFails >= s.failureThreshold ||
		(isBlocked && st.ConsecutiveBlocked >= s.blockedThreshold)
	if tripped {
		st.State = domain.BreakerOpen
		st.OpenedAt = time.Now()
		st.HalfOpenProbeOut = false
	}

	newRaw, merr := json.Marshal(st)
	if merr != nil {
		return
	}
	_, _ = s.store.CompareAndSwap(ctx, s.key(domainName), raw, newRaw, s.ttl)
}
