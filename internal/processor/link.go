package processor

import (
	"context"
	"errors"
	"sync"

	"correlator/internal/publish"
	"correlator/internal/rules"
)

// RuleLink is the rules.Link handed to the rules of one alert.
type RuleLink = rules.Link

// link forwards rule payloads to the publisher and collects the
// callbacks to run once the alert is correlated.
type link struct {
	publisher publish.Publisher

	mu        sync.Mutex
	callbacks []rules.PostCorrelationFunc
}

func newLink(publisher publish.Publisher) *link {
	return &link{publisher: publisher}
}

// SendToBus implements rules.Link.
func (l *link) SendToBus(ctx context.Context, payload []byte) error {
	return l.publisher.PublishRaw(ctx, payload)
}

// RegisterCallback implements rules.Link.
func (l *link) RegisterCallback(fn rules.PostCorrelationFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, fn)
}

// runCallbacks runs every registered callback in registration order.
func (l *link) runCallbacks(ctx context.Context, corrEventID int64) error {
	l.mu.Lock()
	callbacks := l.callbacks
	l.mu.Unlock()

	var errs []error
	for _, fn := range callbacks {
		if err := fn(ctx, corrEventID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
