// Package ratelimit implements per-domain token-bucket admission control,
// in two flavours: Local (in-process, sync.Map of golang.org/x/time/rate
// limiters) and Shared (cross-process, coordinated through a
// ports.SharedStore).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/harvestnet/harvestor/internal/core/constants"
	"github.com/harvestnet/harvestor/internal/core/domain"
)

// Local is a Local RateLimiter: each domain gets its own token bucket held
// in-process, with stale buckets swept periodically.
type Local struct {
	capacity     float64
	refillPerSec float64
	neverAdmit   bool

	buckets       sync.Map // domain -> *localBucket
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

type localBucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
	mu         sync.Mutex
}

// NewLocal builds a Local limiter. capacity is the bucket's burst size;
// refillPerSec is the sustained admission rate per domain. An explicit
// capacity of exactly zero means "never admit"; a negative capacity falls
// back to the default.
func NewLocal(capacity, refillPerSec float64, cleanupInterval time.Duration) *Local {
	neverAdmit := capacity == 0
	if capacity < 0 {
		capacity = constants.DefaultRateLimitCapacity
	}
	if refillPerSec <= 0 {
		refillPerSec = constants.DefaultRateLimitRefillPerSec
	}

	l := &Local{
		capacity:     capacity,
		refillPerSec: refillPerSec,
		neverAdmit:   neverAdmit,
		stopCleanup:  make(chan struct{}),
	}

	if cleanupInterval > 0 {
		l.cleanupTicker = time.NewTicker(cleanupInterval)
		go l.cleanupRoutine()
	}

	return l
}

func (l *Local) bucketFor(domain string) *localBucket {
	candidate := &localBucket{
		limiter:    rate.NewLimiter(rate.Limit(l.refillPerSec), int(l.capacity)),
		lastAccess: time.Now(),
	}
	actual, _ := l.buckets.LoadOrStore(domain, candidate)
	return actual.(*localBucket)
}

// Wait blocks until a token for domain is available or ctx is done.
func (l *Local) Wait(ctx context.Context, domainName string) error {
	if l.neverAdmit {
		return domain.ErrRateLimiterZeroCapacity
	}
	b := l.bucketFor(domainName)
	b.mu.Lock()
	b.lastAccess = time.Now()
	limiter := b.limiter
	b.mu.Unlock()
	return limiter.Wait(ctx)
}

// Allow reports whether a token for domain is immediately available,
// consuming one if so.
func (l *Local) Allow(domainName string) bool {
	if l.neverAdmit {
		return false
	}
	b := l.bucketFor(domainName)
	b.mu.Lock()
	b.lastAccess = time.Now()
	limiter := b.limiter
	b.mu.Unlock()
	return limiter.Allow()
}

func (l *Local) cleanupRoutine() {
	for {
		select {
		case <-l.stopCleanup:
			return
		case <-l.cleanupTicker.C:
			l.sweep()
		}
	}
}

func (l *Local) sweep() {
	cutoff := time.Now().Add(-10 * time.Minute)
	l.buckets.Range(func(key, value interface{}) bool {
		b := value.(*localBucket)
		b.mu.Lock()
		stale := b.lastAccess.Before(cutoff)
		b.mu.Unlock()
		if stale {
			l.buckets.Delete(key)
		}
		return true
	})
}

// Stop halts the cleanup goroutine. Safe to call multiple times.
func (l *Local) Stop() {
	l.stopOnce.Do(func() {
		if l.cleanupTicker != nil {
			l.cleanupTicker.Stop()
		}
		close(l.stopCleanup)
	})
}
