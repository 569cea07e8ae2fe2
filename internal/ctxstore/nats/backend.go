// Package nats provides a context store backend on a NATS JetStream
// key/value bucket. It is meant as the durable layer behind a cache.
package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"correlator/internal/config"
)

// record is the stored payload. KV buckets only expire whole buckets, so
// per-entry expiry is carried with the value and checked on read.
type record struct {
	Value       []byte `json:"value"`
	ExpiresAtMS int64  `json:"expires_at_ms,omitempty"`
}

// Backend implements ctxstore.Backend on a JetStream KV bucket.
type Backend struct {
	nc  *nats.Conn
	kv  nats.KeyValue
	now func() time.Time
}

// NewBackend connects to NATS and opens (or creates) the context bucket.
func NewBackend(cfg *config.NATSConfig, maxAge time.Duration) (*Backend, error) {
	nc, err := nats.Connect(cfg.ServerURL())
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	kv, err := js.KeyValue(cfg.Bucket)
	if err != nil {
		if !cfg.AllowCreateBuckets {
			nc.Close()
			return nil, fmt.Errorf("open context bucket %q: %w", cfg.Bucket, err)
		}
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:  cfg.Bucket,
			History: 1,
			TTL:     maxAge,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create context bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &Backend{nc: nc, kv: kv, now: time.Now}, nil
}

// kvKey maps an arbitrary key onto the KV key alphabet.
func kvKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// Get retrieves the value for key. Returns nil, nil when absent or expired.
func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	entry, err := b.kv.Get(kvKey(key))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get context key: %w", err)
	}

	var rec record
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("decode context key: %w", err)
	}
	if rec.ExpiresAtMS > 0 && b.now().UnixMilli() >= rec.ExpiresAtMS {
		return nil, nil
	}
	return rec.Value, nil
}

// Set stores value with the given TTL; ttl <= 0 keeps it until deleted
// or until the bucket max age drops it.
func (b *Backend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	rec := record{Value: value}
	if ttl > 0 {
		rec.ExpiresAtMS = b.now().Add(ttl).UnixMilli()
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode context key: %w", err)
	}
	if _, err := b.kv.Put(kvKey(key), body); err != nil {
		return fmt.Errorf("put context key: %w", err)
	}
	return nil
}

// Delete removes key.
func (b *Backend) Delete(_ context.Context, key string) error {
	if err := b.kv.Delete(kvKey(key)); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("delete context key: %w", err)
	}
	return nil
}

// Close drains the NATS connection.
func (b *Backend) Close() error {
	if b.nc != nil {
		return b.nc.Drain()
	}
	return nil
}
