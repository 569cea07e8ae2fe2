package memory

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"correlator/internal/queue"
	"correlator/internal/retry"
)

func TestQueue_PublishAndDrain(t *testing.T) {
	q := NewQueue(4)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := q.Publish(ctx, &queue.Message{Value: []byte(fmt.Sprint(i))}); err != nil {
			t.Fatalf("Publish error: %v", err)
		}
	}
	if q.Len() != 3 {
		t.Errorf("Len = %d, want 3", q.Len())
	}

	msgs := q.Drain()
	if len(msgs) != 3 || string(msgs[0].Value) != "0" {
		t.Errorf("Drain = %v", msgs)
	}
	if q.Len() != 0 {
		t.Errorf("Len after drain = %d, want 0", q.Len())
	}
}

func TestQueue_PublishAfterClose(t *testing.T) {
	q := NewQueue(1)
	if err := q.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := q.Publish(context.Background(), &queue.Message{}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Publish error = %v, want ErrQueueClosed", err)
	}
}

func TestQueue_RedeliversTransientFailures(t *testing.T) {
	q := NewQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		_ = q.Start(ctx, func(ctx context.Context, msg *queue.Message) error {
			if calls.Add(1) < 3 {
				return fmt.Errorf("store: %w", retry.ErrTransient)
			}
			close(done)
			return nil
		})
	}()

	if err := q.Publish(ctx, &queue.Message{Value: []byte("x")}); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("message handled %d times, want success on the third delivery", calls.Load())
	}
}

func TestQueue_DropsPermanentFailures(t *testing.T) {
	q := NewQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go func() {
		_ = q.Start(ctx, func(ctx context.Context, msg *queue.Message) error {
			calls.Add(1)
			return errors.New("malformed")
		})
	}()

	if err := q.Publish(ctx, &queue.Message{Value: []byte("x")}); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if calls.Load() != 1 {
		t.Errorf("handler called %d times, want 1", calls.Load())
	}
}

func TestQueue_RedeliveryIsBounded(t *testing.T) {
	q := NewQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go func() {
		_ = q.Start(ctx, func(ctx context.Context, msg *queue.Message) error {
			calls.Add(1)
			return retry.ErrTransient
		})
	}()

	if err := q.Publish(ctx, &queue.Message{Value: []byte("x")}); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if got := calls.Load(); got != MaxRedeliveries+1 {
		t.Errorf("handler called %d times, want %d", got, MaxRedeliveries+1)
	}
}
