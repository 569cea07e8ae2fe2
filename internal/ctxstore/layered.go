package ctxstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Layered is a Backend made of a fast cache in front of a durable store.
// Writes go to both; a cache miss reads the durable store and
// re-populates the cache.
type Layered struct {
	cache    Backend
	durable  Backend
	cacheTTL time.Duration
}

// NewLayered creates a Layered backend. cacheTTL bounds how long an entry
// read back from the durable store stays cached.
func NewLayered(cache, durable Backend, cacheTTL time.Duration) *Layered {
	return &Layered{
		cache:    cache,
		durable:  durable,
		cacheTTL: cacheTTL,
	}
}

// Get implements Backend.
func (l *Layered) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := l.cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	if data != nil {
		return data, nil
	}

	data, err = l.durable.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read durable store: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	if err := l.cache.Set(ctx, key, data, l.cacheTTL); err != nil {
		return nil, fmt.Errorf("failed to re-populate cache: %w", err)
	}
	return data, nil
}

// Set implements Backend. The durable store is written first so the cache
// never holds a value the durable store lost.
func (l *Layered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := l.durable.Set(ctx, key, value, ttl); err != nil {
		return fmt.Errorf("failed to write durable store: %w", err)
	}
	cacheTTL := ttl
	if cacheTTL <= 0 || (l.cacheTTL > 0 && l.cacheTTL < cacheTTL) {
		cacheTTL = l.cacheTTL
	}
	if err := l.cache.Set(ctx, key, value, cacheTTL); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (l *Layered) Delete(ctx context.Context, key string) error {
	return errors.Join(l.cache.Delete(ctx, key), l.durable.Delete(ctx, key))
}

// Close implements Backend.
func (l *Layered) Close() error {
	return errors.Join(l.cache.Close(), l.durable.Close())
}
