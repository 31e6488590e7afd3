package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/harvestnet/harvestor/internal/core/domain"
)

func TestLocal_ClosedByDefault(t *testing.T) {
	b := NewLocal(3, 2, time.Minute)
	if err := b.Allow("example.com"); err != nil {
		t.Fatalf("Allow() on unseen domain = %v, want nil", err)
	}
}

func TestLocal_TripsOpenAtThreshold(t *testing.T) {
	b := NewLocal(3, 2, time.Minute)
	b.RecordFailure("example.com")
	b.RecordFailure("example.com")
	if err := b.Allow("example.com"); err != nil {
		t.Fatalf("Allow() before threshold = %v, want nil", err)
	}
	b.RecordFailure("example.com")
	if err := b.Allow("example.com"); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("Allow() after threshold = %v, want ErrCircuitOpen", err)
	}
}

func TestLocal_BlockedTripsOnLowerThreshold(t *testing.T) {
	b := NewLocal(5, 2, time.Minute)
	b.RecordBlocked("example.com")
	if err := b.Allow("example.com"); err != nil {
		t.Fatalf("Allow() after one blocked hit = %v, want nil", err)
	}
	b.RecordBlocked("example.com")
	if err := b.Allow("example.com"); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("Allow() after two blocked hits = %v, want ErrCircuitOpen", err)
	}
}

func TestLocal_SuccessResetsBlockedStreak(t *testing.T) {
	b := NewLocal(5, 2, time.Minute)
	b.RecordBlocked("example.com")
	b.RecordSuccess("example.com")
	b.RecordBlocked("example.com")
	if err := b.Allow("example.com"); err != nil {
		t.Fatalf("blocked streak should reset on success, got %v", err)
	}
}

func TestLocal_HalfOpenAdmitsExactlyOneProbe(t *testing.T) {
	b := NewLocal(1, 1, 10*time.Millisecond)
	b.RecordFailure("example.com")

	time.Sleep(20 * time.Millisecond)

	err1 := b.Allow("example.com")
	err2 := b.Allow("example.com")
	if err1 != nil {
		t.Fatalf("first probe should be admitted, got %v", err1)
	}
	if !errors.Is(err2, domain.ErrCircuitOpen) {
		t.Fatalf("second concurrent call should be rejected, got %v", err2)
	}
}

func TestLocal_SuccessClosesBreaker(t *testing.T) {
	b := NewLocal(1, 1, 10*time.Millisecond)
	b.RecordFailure("example.com")
	time.Sleep(20 * time.Millisecond)

	if err := b.Allow("example.com"); err != nil {
		t.Fatalf("probe should be admitted: %v", err)
	}
	b.RecordSuccess("example.com")

	if err := b.Allow("example.com"); err != nil {
		t.Fatalf("breaker should be closed after success, got %v", err)
	}
}

func TestLocal_FailedProbeReopensImmediately(t *testing.T) {
	b := NewLocal(1, 1, 10*time.Millisecond)
	b.RecordFailure("example.com")
	time.Sleep(20 * time.Millisecond)

	if err := b.Allow("example.com"); err != nil {
		t.Fatalf("probe should be admitted: %v", err)
	}
	b.RecordFailure("example.com")

	if err := b.Allow("example.com"); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("breaker should reopen after failed probe, got %v", err)
	}
}
