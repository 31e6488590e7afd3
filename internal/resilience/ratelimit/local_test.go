package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harvestnet/harvestor/internal/core/domain"
)

func TestLocal_AllowRespectsCapacity(t *testing.T) {
	l := NewLocal(2, 1, 0)
	defer l.Stop()

	if !l.Allow("example.com") {
		t.Fatalf("expected first request admitted")
	}
	if !l.Allow("example.com") {
		t.Fatalf("expected second request admitted (burst=2)")
	}
	if l.Allow("example.com") {
		t.Fatalf("expected third request to be throttled")
	}
}

func TestLocal_DomainsAreIndependent(t *testing.T) {
	l := NewLocal(1, 1, 0)
	defer l.Stop()

	if !l.Allow("a.com") {
		t.Fatalf("expected a.com admitted")
	}
	if !l.Allow("b.com") {
		t.Fatalf("expected b.com admitted independently of a.com")
	}
}

func TestLocal_WaitUnblocksAfterRefill(t *testing.T) {
	l := NewLocal(1, 50, 0) // 50/sec refill, ~20ms per token
	defer l.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := l.Wait(ctx, "example.com"); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if err := l.Wait(ctx, "example.com"); err != nil {
		t.Fatalf("second wait: %v", err)
	}
}

func TestLocal_ZeroCapacityNeverAdmits(t *testing.T) {
	l := NewLocal(0, 1, 0)
	defer l.Stop()

	if l.Allow("example.com") {
		t.Fatal("zero-capacity limiter must not admit")
	}
	if err := l.Wait(context.Background(), "example.com"); !errors.Is(err, domain.ErrRateLimiterZeroCapacity) {
		t.Fatalf("Wait error = %v, want ErrRateLimiterZeroCapacity", err)
	}
}
