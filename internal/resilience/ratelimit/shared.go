package ratelimit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/harvestnet/harvestor/internal/core/constants"
	"github.com/harvestnet/harvestor/internal/core/domain"
	"github.com/harvestnet/harvestor/internal/core/ports"
)

// Shared is a RateLimiter whose token-bucket state lives in a
// ports.SharedStore (keyed "rate:{domain}") so multiple harvestor processes
// draw from the same per-domain budget instead of each enforcing its own.
type Shared struct {
	store        ports.SharedStore
	capacity     float64
	refillPerSec float64
	neverAdmit   bool
	ttl          time.Duration
	pollInterval time.Duration
}

// NewShared builds a Shared limiter backed by store. As with NewLocal, an
// explicit zero capacity means "never admit".
func NewShared(store ports.SharedStore, capacity, refillPerSec float64) *Shared {
	neverAdmit := capacity == 0
	if capacity < 0 {
		capacity = constants.DefaultRateLimitCapacity
	}
	if refillPerSec <= 0 {
		refillPerSec = constants.DefaultRateLimitRefillPerSec
	}
	return &Shared{
		store:        store,
		capacity:     capacity,
		refillPerSec: refillPerSec,
		neverAdmit:   neverAdmit,
		ttl:          constants.SharedStoreDefaultTTL,
		pollInterval: 50 * time.Millisecond,
	}
}

func (s *Shared) key(domainName string) string {
	return constants.SharedStoreRateKeyPrefix + domainName
}

// Allow attempts a single compare-and-swap token withdrawal. It returns
// false without blocking if no token is currently available.
func (s *Shared) Allow(domainName string) bool {
	if s.neverAdmit {
		return false
	}
	ok, _ := s.tryWithdraw(context.Background(), domainName)
	return ok
}

// Wait retries the compare-and-swap withdrawal until it succeeds or ctx is
// done.
func (s *Shared) Wait(ctx context.Context, domainName string) error {
	if s.neverAdmit {
		return domain.ErrRateLimiterZeroCapacity
	}
	for {
		ok, err := s.tryWithdraw(ctx, domainName)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

func (s *Shared) tryWithdraw(ctx context.Context, domainName string) (bool, error) {
	key := s.key(domainName)

	raw, found, err := s.store.Get(ctx, key)
	if err != nil {
		return false, err
	}

	now := time.Now()
	var state domain.DomainRateState
	var oldRaw []byte

	if found {
		if err := json.Unmarshal(raw, &state); err != nil {
			return false, err
		}
		oldRaw = raw
		state.Tokens = refill(state, now, s.capacity, s.refillPerSec)
	} else {
		state = domain.DomainRateState{
			Domain:       domainName,
			Tokens:       s.capacity,
			Capacity:     s.capacity,
			RefillPerSec: s.refillPerSec,
			LastRefillAt: now,
		}
		oldRaw = nil
	}

	if state.Tokens < 1 {
		return false, nil
	}

	state.Tokens--
	state.LastRefillAt = now

	newRaw, err := json.Marshal(state)
	if err != nil {
		return false, err
	}

	return s.store.CompareAndSwap(ctx, key, oldRaw, newRaw, s.ttl)
}

func refill(state domain.DomainRateState, now time.Time, capacity, refillPerSec float64) float64 {
	elapsed := now.Sub(state.LastRefillAt).Seconds()
	if elapsed <= 0 {
		return state.Tokens
	}
	tokens := state.Tokens + elapsed*refillPerSec
	if tokens > capacity {
		tokens = capacity
	}
	return tokens
}
