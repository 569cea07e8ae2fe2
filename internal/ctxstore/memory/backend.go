// Package memory provides an in-memory context store backend.
// It is used in memory mode and as a test fake.
package memory

import (
	"context"
	"sync"
	"time"
)

// Backend is an in-memory implementation of ctxstore.Backend.
// It uses a map with mutex protection for thread-safe access.
// TTL expiration is checked on access (lazy expiration).
type Backend struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// entry wraps a value with expiration tracking. A zero expiresAt never expires.
type entry struct {
	value     []byte
	expiresAt time.Time
}

// NewBackend creates a new in-memory backend.
func NewBackend() *Backend {
	return &Backend{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Get retrieves the value for key.
// Returns nil, nil if the key does not exist or if the entry has expired.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, exists := b.entries[key]
	if !exists || b.expired(e) {
		return nil, nil
	}

	// Return a copy to prevent external modification
	return append([]byte(nil), e.value...), nil
}

// Set stores a value with the specified TTL.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := &entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = b.now().Add(ttl)
	}
	b.entries[key] = e
	return nil
}

// Delete removes an entry.
func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.entries, key)
	return nil
}

// Close releases any resources (no-op for in-memory store).
func (b *Backend) Close() error {
	return nil
}

func (b *Backend) expired(e *entry) bool {
	return !e.expiresAt.IsZero() && !b.now().Before(e.expiresAt)
}

// --- Test Helpers ---

// SetClock replaces the time source used for expiry.
func (b *Backend) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Len returns the number of live entries.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, e := range b.entries {
		if !b.expired(e) {
			n++
		}
	}
	return n
}

// Clear removes all data from the backend. Useful for test cleanup.
func (b *Backend) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]*entry)
}
