package memory

import (
	"context"
	"sync"

	"correlator/internal/domain"
)

// EventRepository is an in-memory implementation of store.EventRepository.
type EventRepository struct {
	mu     sync.RWMutex
	nextID int64
	events map[int64]*domain.Event
}

// NewEventRepository creates a new in-memory event repository.
func NewEventRepository() *EventRepository {
	return &EventRepository{
		events: make(map[int64]*domain.Event),
	}
}

// Create stores a new event and sets its ID.
func (r *EventRepository) Create(ctx context.Context, event *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	event.ID = r.nextID

	// Store a copy to prevent external modification
	eventCopy := *event
	r.events[event.ID] = &eventCopy
	return nil
}

// Update modifies an existing event.
func (r *EventRepository) Update(ctx context.Context, event *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.events[event.ID]; !exists {
		return domain.ErrEventNotFound
	}
	eventCopy := *event
	r.events[event.ID] = &eventCopy
	return nil
}

// GetByID retrieves an event by its ID.
func (r *EventRepository) GetByID(ctx context.Context, id int64) (*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	event, exists := r.events[id]
	if !exists {
		return nil, domain.ErrEventNotFound
	}
	result := *event
	return &result, nil
}

// GetLatestForItem returns the event with the highest ID for the item.
func (r *EventRepository) GetLatestForItem(ctx context.Context, supItemID int64) (*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *domain.Event
	for _, event := range r.events {
		if event.SupItemID != supItemID {
			continue
		}
		if latest == nil || event.ID > latest.ID {
			latest = event
		}
	}
	if latest == nil {
		return nil, domain.ErrEventNotFound
	}
	result := *latest
	return &result, nil
}

// Count returns the number of stored events. Useful in tests.
func (r *EventRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// lookup returns a copy of an event for sibling repositories.
func (r *EventRepository) lookup(id int64) (*domain.Event, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	event, ok := r.events[id]
	if !ok {
		return nil, false
	}
	result := *event
	return &result, true
}
