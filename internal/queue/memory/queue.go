// Package memory provides an in-memory implementation of the queue interfaces.
// This is useful for testing and development without external dependencies.
package memory

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"correlator/internal/queue"
	"correlator/internal/retry"
)

// ErrQueueClosed is returned when publishing to a closed queue.
var ErrQueueClosed = errors.New("queue is closed")

// redeliveryHeader counts how often a message was handed back to the queue.
const redeliveryHeader = "x-redeliveries"

// MaxRedeliveries bounds redelivery of a message whose handler failed transiently.
const MaxRedeliveries = 3

// Queue is an in-memory implementation of both Producer and Consumer interfaces.
// Messages are stored in a channel, allowing for simple pub/sub within a process.
// This implementation is safe for concurrent use.
type Queue struct {
	messages  chan *queue.Message
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewQueue creates a new in-memory queue with the specified buffer size.
// The buffer size determines how many messages can be queued before
// Publish blocks (or fails if the context is canceled).
func NewQueue(bufferSize int) *Queue {
	return &Queue{
		messages: make(chan *queue.Message, bufferSize),
		done:     make(chan struct{}),
	}
}

// Publish sends a message to the in-memory queue.
// This method blocks if the queue is full until space is available
// or the context is canceled.
func (q *Queue) Publish(ctx context.Context, msg *queue.Message) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.messages <- msg:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start begins consuming messages and calls the handler for each one.
// This blocks until the context is canceled or the queue is closed.
// A transient handler failure puts the message back at the tail of the
// queue, at most MaxRedeliveries times.
func (q *Queue) Start(ctx context.Context, handler queue.MessageHandler) error {
	q.wg.Add(1)
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			return nil
		case msg := <-q.messages:
			if err := handler(ctx, msg); err != nil && retry.IsRetryable(err) {
				q.redeliver(msg)
			}
		}
	}
}

func (q *Queue) redeliver(msg *queue.Message) {
	count, _ := strconv.Atoi(msg.Header(redeliveryHeader))
	if count >= MaxRedeliveries {
		return
	}

	select {
	case q.messages <- msg.WithHeader(redeliveryHeader, strconv.Itoa(count+1)):
	default:
	}
}

// Close shuts down the queue, stopping all consumers.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
	return nil
}

// Len returns the current number of messages in the queue.
// Useful for testing to verify queue state.
func (q *Queue) Len() int {
	return len(q.messages)
}

// Drain removes and returns every buffered message without blocking.
// Useful for testing to inspect what was published.
func (q *Queue) Drain() []*queue.Message {
	var drained []*queue.Message
	for {
		select {
		case msg := <-q.messages:
			drained = append(drained, msg)
		default:
			return drained
		}
	}
}
