// Package sharedstore provides the cross-process key-value coordination
// backing the shared-store rate limiter and circuit breaker variants.
package sharedstore

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// Memory is an in-process SharedStore, useful for tests and single-process
// deployments that still want the shared-store code path exercised.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) CompareAndSwap(ctx context.Context, key string, oldVal, newVal []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.entries[key]
	expired := exists && !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)

	if oldVal == nil {
		if exists && !expired {
			return false, nil
		}
	} else {
		if !exists || expired || !bytes.Equal(e.value, oldVal) {
			return false, nil
		}
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	m.entries[key] = memoryEntry{value: newVal, expiresAt: expiresAt}
	return true, nil
}

func (m *Memory) Close() error { return nil }
