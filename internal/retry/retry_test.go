package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "connection refused", err: errors.New("dial tcp 127.0.0.1:6379: connection refused"), expected: true},
		{name: "i/o timeout", err: errors.New("read: i/o timeout"), expected: true},
		{name: "nats no responders", err: errors.New("nats: no responders available for request"), expected: true},
		{name: "context canceled", err: context.Canceled, expected: false},
		{name: "wrapped deadline", err: errors.Join(errors.New("get"), context.DeadlineExceeded), expected: false},
		{name: "decode failure", err: errors.New("invalid character 'x'"), expected: false},
		{name: "wrapped transient", err: fmt.Errorf("store down: %w", ErrTransient), expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), testLogger, "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("invalid payload")
	calls := 0
	err := Do(context.Background(), fastConfig(), testLogger, "test", func() error {
		calls++
		return permanent
	})

	if !errors.Is(err, permanent) {
		t.Fatalf("Do error = %v, want %v", err, permanent)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), testLogger, "test", func() error {
		calls++
		return errors.New("connection refused")
	})

	if err == nil {
		t.Fatal("Do should fail once retries are exhausted")
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.InitialBackoff = time.Second
	cfg.MaxBackoff = time.Second

	calls := 0
	err := Do(ctx, cfg, testLogger, "test", func() error {
		calls++
		cancel()
		return errors.New("timeout")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestCalculateBackoff_Capped(t *testing.T) {
	cfg := Config{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 40 * time.Millisecond, BackoffFactor: 2}

	for attempt := 0; attempt < 10; attempt++ {
		got := calculateBackoff(cfg, attempt)
		if got > 50*time.Millisecond {
			t.Errorf("attempt %d: backoff %v exceeds cap plus jitter", attempt, got)
		}
		if got <= 0 {
			t.Errorf("attempt %d: backoff %v should be positive", attempt, got)
		}
	}
}
