// Package redis provides a Redis-backed context store backend.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"correlator/internal/config"
)

// Backend implements ctxstore.Backend using Redis. Expiry is native.
type Backend struct {
	client *redis.Client
	prefix string
}

// NewBackend creates a new Redis-backed context backend.
func NewBackend(cfg *config.RedisConfig) (*Backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewBackendFromClient(client, cfg.KeyPrefix), nil
}

// NewBackendFromClient wraps an existing client. Every key is prefixed
// with prefix so several deployments can share one database.
func NewBackendFromClient(client *redis.Client, prefix string) *Backend {
	return &Backend{client: client, prefix: prefix}
}

// Get retrieves the value for key. Returns nil, nil when the key is absent.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get context key: %w", err)
	}
	return data, nil
}

// Set stores value with the given TTL; ttl <= 0 keeps it until deleted.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := b.client.Set(ctx, b.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set context key: %w", err)
	}
	return nil
}

// Delete removes key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete context key: %w", err)
	}
	return nil
}

// Close closes the Redis client connection.
func (b *Backend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}
