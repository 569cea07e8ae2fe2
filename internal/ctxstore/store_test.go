package ctxstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"correlator/internal/ctxstore/memory"
	"correlator/internal/domain"
	"correlator/internal/retry"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestStore(backend Backend) *Store {
	return New(backend, Options{
		DefaultTTL: time.Minute,
		Retry:      retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1},
	}, testLogger)
}

// flakyBackend fails the first n calls of each kind with a transient error.
type flakyBackend struct {
	*memory.Backend
	getFailures int
	setFailures int
	delFailures int
}

var errTransient = errors.New("dial tcp: connection refused")

func (f *flakyBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if f.getFailures > 0 {
		f.getFailures--
		return nil, errTransient
	}
	return f.Backend.Get(ctx, key)
}

func (f *flakyBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.setFailures > 0 {
		f.setFailures--
		return errTransient
	}
	return f.Backend.Set(ctx, key, value, ttl)
}

func (f *flakyBackend) Delete(ctx context.Context, key string) error {
	if f.delFailures > 0 {
		f.delFailures--
		return errTransient
	}
	return f.Backend.Delete(ctx, key)
}

func TestScope_KeyEncoding(t *testing.T) {
	tests := []struct {
		name  string
		scope Scope
		key   string
		want  string
	}{
		{name: "shared ascii", scope: Shared, key: "open_aggr:12", want: "shared:open_aggr:12"},
		{name: "alert scope", scope: AlertScope("a1"), key: "priority", want: "alert:a1:priority"},
		{name: "non ascii", scope: Shared, key: "hôte", want: "shared:h%C3%B4te"},
		{name: "space and slash", scope: AlertScope("x/y z"), key: "k", want: "alert:x%2Fy%20z:k"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.scope.Key(tt.key); got != tt.want {
				t.Errorf("Key = %q, want %q", got, tt.want)
			}
			if again := tt.scope.Key(tt.key); again != tt.want {
				t.Error("encoding should be stable")
			}
		})
	}
}

func TestStore_SetGetDelete(t *testing.T) {
	s := newTestStore(memory.NewBackend())
	ctx := context.Background()

	var ids []int64
	found, err := s.Get(ctx, Shared, "ids", &ids)
	if err != nil || found {
		t.Fatalf("Get on empty store = %v, %v; want false, nil", found, err)
	}

	if err := s.Set(ctx, Shared, "ids", []int64{3, 1}, 0); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	found, err = s.Get(ctx, Shared, "ids", &ids)
	if err != nil || !found {
		t.Fatalf("Get = %v, %v; want true, nil", found, err)
	}
	if !slices.Equal(ids, []int64{3, 1}) {
		t.Errorf("ids = %v, want [3 1]", ids)
	}

	if err := s.Delete(ctx, Shared, "ids"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if found, _ := s.Get(ctx, Shared, "ids", &ids); found {
		t.Error("key should be deleted")
	}
}

func TestStore_DefaultTTL(t *testing.T) {
	backend := memory.NewBackend()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	backend.SetClock(func() time.Time { return now })
	s := newTestStore(backend)
	ctx := context.Background()

	_ = s.Set(ctx, Shared, "default", 1, 0)
	_ = s.Set(ctx, Shared, "long", 1, time.Hour)

	now = now.Add(2 * time.Minute)

	var v int
	if found, _ := s.Get(ctx, Shared, "default", &v); found {
		t.Error("entry set without ttl should expire after the default TTL")
	}
	if found, _ := s.Get(ctx, Shared, "long", &v); !found {
		t.Error("entry with explicit ttl should still be present")
	}
}

func TestStore_RetriesIdempotentCalls(t *testing.T) {
	backend := &flakyBackend{Backend: memory.NewBackend(), getFailures: 2, delFailures: 1}
	s := newTestStore(backend)
	ctx := context.Background()

	_ = backend.Backend.Set(ctx, Shared.Key("k"), []byte("5"), 0)

	var v int
	found, err := s.Get(ctx, Shared, "k", &v)
	if err != nil || !found || v != 5 {
		t.Fatalf("Get = %v, %v, %v; want true, nil, 5", found, err, v)
	}
	if err := s.Delete(ctx, Shared, "k"); err != nil {
		t.Fatalf("Delete should succeed after retry: %v", err)
	}
}

func TestStore_SetFailureIsUnavailable(t *testing.T) {
	backend := &flakyBackend{Backend: memory.NewBackend(), setFailures: 1}
	s := newTestStore(backend)

	err := s.Set(context.Background(), Shared, "k", 1, 0)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Set error = %v, want ErrUnavailable", err)
	}
}

func TestStore_GetExhaustedRetriesIsUnavailable(t *testing.T) {
	backend := &flakyBackend{Backend: memory.NewBackend(), getFailures: 10}
	s := newTestStore(backend)

	var v int
	_, err := s.Get(context.Background(), Shared, "k", &v)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Get error = %v, want ErrUnavailable", err)
	}
}

func TestStore_OpenAggregate(t *testing.T) {
	s := newTestStore(memory.NewBackend())
	ctx := context.Background()

	if _, found, _ := s.OpenAggregate(ctx, 7); found {
		t.Error("unset open aggregate should be a miss")
	}

	_ = s.SetOpenAggregate(ctx, 7, 42)
	id, found, err := s.OpenAggregate(ctx, 7)
	if err != nil || !found || id != 42 {
		t.Errorf("OpenAggregate = %d, %v, %v; want 42, true, nil", id, found, err)
	}

	_ = s.SetOpenAggregate(ctx, 7, 0)
	id, found, _ = s.OpenAggregate(ctx, 7)
	if !found || id != 0 {
		t.Errorf("cleared open aggregate = %d, %v; want 0, true", id, found)
	}
}

func TestContext_Fields(t *testing.T) {
	s := newTestStore(memory.NewBackend())
	ctx := context.Background()
	c := s.For("alert-1")
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if id, _ := c.RawEventID(ctx); id != 0 {
		t.Errorf("unset RawEventID = %d, want 0", id)
	}
	if _, found, _ := c.Priority(ctx); found {
		t.Error("unset Priority should not be found")
	}
	if _, found, _ := c.State(ctx); found {
		t.Error("unset State should not be found")
	}

	_ = c.SetRawEventID(ctx, 10)
	_ = c.SetSupItemID(ctx, 3)
	_ = c.SetPriority(ctx, 2)
	_ = c.SetPredecessorsAggregates(ctx, []int64{5})
	_ = c.SetNoAlert(ctx, true)
	_ = c.SetMessage(ctx, &domain.Message{Host: "h1", Service: "ssh", State: domain.StateDown, Timestamp: ts})

	if id, _ := c.RawEventID(ctx); id != 10 {
		t.Errorf("RawEventID = %d, want 10", id)
	}
	if id, _ := c.SupItemID(ctx); id != 3 {
		t.Errorf("SupItemID = %d, want 3", id)
	}
	if p, found, _ := c.Priority(ctx); !found || p != 2 {
		t.Errorf("Priority = %d, %v; want 2, true", p, found)
	}
	if ids, _ := c.PredecessorsAggregates(ctx); !slices.Equal(ids, []int64{5}) {
		t.Errorf("PredecessorsAggregates = %v, want [5]", ids)
	}
	if v, _ := c.NoAlert(ctx); !v {
		t.Error("NoAlert should be true")
	}
	if h, _ := c.Hostname(ctx); h != "h1" {
		t.Errorf("Hostname = %q, want h1", h)
	}
	if st, found, _ := c.State(ctx); !found || st != domain.StateDown {
		t.Errorf("State = %v, %v; want DOWN, true", st, found)
	}
	if got, _ := c.Timestamp(ctx); !got.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", got, ts)
	}

	// Another alert sees none of it
	if id, _ := s.For("alert-2").RawEventID(ctx); id != 0 {
		t.Errorf("other alert RawEventID = %d, want 0", id)
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	if id, _ := c.RawEventID(ctx); id != 0 {
		t.Errorf("RawEventID after Clear = %d, want 0", id)
	}
}

func TestContext_ClearRemovesRuleFields(t *testing.T) {
	backend := memory.NewBackend()
	s := newTestStore(backend)
	ctx := context.Background()

	c := s.For("alert-1")
	if err := c.SetRawEventID(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(ctx, "maintenance_window", "nightly"); err != nil {
		t.Fatal(err)
	}
	if err := s.For("alert-2").Set(ctx, "maintenance_window", "weekly"); err != nil {
		t.Fatal(err)
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear error: %v", err)
	}

	var window string
	if found, _ := c.Get(ctx, "maintenance_window", &window); found {
		t.Errorf("rule field survived Clear: %q", window)
	}
	if found, _ := s.For("alert-2").Get(ctx, "maintenance_window", &window); !found || window != "weekly" {
		t.Errorf("other alert field = %q, %v; want weekly", window, found)
	}
	if backend.Len() != 1 {
		t.Errorf("backend entries = %d, want 1", backend.Len())
	}
}

func TestLayered_FallsBackToDurable(t *testing.T) {
	cache := memory.NewBackend()
	durable := memory.NewBackend()
	l := NewLayered(cache, durable, time.Minute)
	ctx := context.Background()

	if err := l.Set(ctx, "k", []byte("1"), time.Hour); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if got, _ := durable.Get(ctx, "k"); string(got) != "1" {
		t.Errorf("durable = %q, want 1", got)
	}

	// Simulate cache expiry
	cache.Clear()

	got, err := l.Get(ctx, "k")
	if err != nil || string(got) != "1" {
		t.Fatalf("Get = %q, %v; want 1, nil", got, err)
	}
	if cached, _ := cache.Get(ctx, "k"); string(cached) != "1" {
		t.Errorf("cache should be re-populated, got %q", cached)
	}

	if err := l.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if got, _ := l.Get(ctx, "k"); got != nil {
		t.Errorf("Get after Delete = %q, want nil", got)
	}
}

func TestLayered_MissEverywhere(t *testing.T) {
	l := NewLayered(memory.NewBackend(), memory.NewBackend(), time.Minute)

	got, err := l.Get(context.Background(), "missing")
	if err != nil || got != nil {
		t.Errorf("Get = %q, %v; want nil, nil", got, err)
	}
}
