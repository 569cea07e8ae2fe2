// Package ctxstore implements the correlation Context: key/value scratch
// state with expiry shared by rules and the aggregation engine.
//
// Entries live in one of two scopes. The alert scope holds the fields a
// rule produces for one alert; the shared scope holds cross-alert
// bookkeeping such as the open incident of each supervised item.
package ctxstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	"correlator/internal/metrics"
	"correlator/internal/retry"
)

// ErrUnavailable wraps backend failures. Callers should let the alert be
// redelivered rather than treat it as a processing error.
var ErrUnavailable = fmt.Errorf("context store unavailable: %w", retry.ErrTransient)

// Backend is raw byte storage with per-entry expiry.
// Get returns nil, nil for an absent or expired key.
// A ttl of zero or less means the entry never expires.
// All methods must be safe for concurrent use.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Scope is a key namespace.
type Scope struct {
	prefix string
}

// Shared is the scope for cross-alert entries.
var Shared = Scope{prefix: "shared"}

// AlertScope returns the scope holding the fields of one alert.
func AlertScope(alertID string) Scope {
	return Scope{prefix: "alert:" + url.PathEscape(alertID)}
}

// Key returns the encoded backend key. Non-ASCII and reserved bytes are
// percent-escaped so a logical key always maps to the same string.
func (s Scope) Key(key string) string {
	return s.prefix + ":" + url.PathEscape(key)
}

// Options tune a Store.
type Options struct {
	// DefaultTTL applies to Set calls made with ttl <= 0.
	DefaultTTL time.Duration
	// Retry bounds retries of idempotent calls (Get, Delete).
	Retry retry.Config
}

// Store encodes values as JSON on top of a Backend.
type Store struct {
	backend Backend
	opts    Options
	logger  *slog.Logger

	// extra records fields written per alert beyond the built-in ones,
	// so Context.Clear can remove them.
	mu    sync.Mutex
	extra map[string]map[string]struct{}
}

// New creates a Store. A zero DefaultTTL falls back to 15 minutes.
func New(backend Backend, opts Options, logger *slog.Logger) *Store {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 15 * time.Minute
	}
	return &Store{
		backend: backend,
		opts:    opts,
		logger:  logger,
		extra:   make(map[string]map[string]struct{}),
	}
}

func (s *Store) trackField(alertID, field string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.extra[alertID]
	if !ok {
		fields = make(map[string]struct{})
		s.extra[alertID] = fields
	}
	fields[field] = struct{}{}
}

// takeFields returns and forgets the extra fields written for an alert.
func (s *Store) takeFields(alertID string) []string {
	s.mu.Lock()
	fields := s.extra[alertID]
	delete(s.extra, alertID)
	s.mu.Unlock()

	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	slices.Sort(names)
	return names
}

// DefaultTTL returns the expiry used when Set is called without one.
func (s *Store) DefaultTTL() time.Duration {
	return s.opts.DefaultTTL
}

// Get decodes the value stored under key into dst.
// It reports false when the key is absent or expired.
func (s *Store) Get(ctx context.Context, scope Scope, key string, dst any) (bool, error) {
	fullKey := scope.Key(key)

	var data []byte
	err := retry.Do(ctx, s.opts.Retry, s.logger, "context.get", func() error {
		var err error
		data, err = s.backend.Get(ctx, fullKey)
		return err
	})
	if err != nil {
		metrics.ContextOperationsTotal.WithLabelValues("get", "failure").Inc()
		return false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, fullKey, err)
	}
	if data == nil {
		metrics.ContextOperationsTotal.WithLabelValues("get", "miss").Inc()
		return false, nil
	}
	metrics.ContextOperationsTotal.WithLabelValues("get", "hit").Inc()

	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode context key %s: %w", fullKey, err)
	}
	return true, nil
}

// Set stores value under key. ttl <= 0 uses the default TTL.
func (s *Store) Set(ctx context.Context, scope Scope, key string, value any, ttl time.Duration) error {
	fullKey := scope.Key(key)
	if ttl <= 0 {
		ttl = s.opts.DefaultTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode context key %s: %w", fullKey, err)
	}

	if err := s.backend.Set(ctx, fullKey, data, ttl); err != nil {
		metrics.ContextOperationsTotal.WithLabelValues("set", "failure").Inc()
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, fullKey, err)
	}
	metrics.ContextOperationsTotal.WithLabelValues("set", "success").Inc()
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, scope Scope, key string) error {
	fullKey := scope.Key(key)
	err := retry.Do(ctx, s.opts.Retry, s.logger, "context.delete", func() error {
		return s.backend.Delete(ctx, fullKey)
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, fullKey, err)
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// openAggrKey is the shared key holding the open incident of an item.
func openAggrKey(supItemID int64) string {
	return fmt.Sprintf("open_aggr:%d", supItemID)
}

// OpenAggregate returns the cached open incident id for a supervised item.
// found is false on a cache miss; a cached 0 means "no open incident".
func (s *Store) OpenAggregate(ctx context.Context, supItemID int64) (id int64, found bool, err error) {
	found, err = s.Get(ctx, Shared, openAggrKey(supItemID), &id)
	return id, found, err
}

// SetOpenAggregate records the open incident of an item; 0 clears it.
func (s *Store) SetOpenAggregate(ctx context.Context, supItemID, corrEventID int64) error {
	return s.Set(ctx, Shared, openAggrKey(supItemID), corrEventID, 0)
}
