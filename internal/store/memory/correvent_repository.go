package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"correlator/internal/domain"
)

// CorrEventRepository is an in-memory implementation of store.CorrEventRepository.
// It reads raw events from the EventRepository to evaluate cause states.
type CorrEventRepository struct {
	mu     sync.RWMutex
	nextID int64
	events *EventRepository

	// corrEvents stores all correlated events by ID
	corrEvents map[int64]*domain.CorrEvent

	// members stores correlated event -> set of raw event ids
	members map[int64]map[int64]struct{}
}

// NewCorrEventRepository creates a new in-memory correlated event repository.
func NewCorrEventRepository(events *EventRepository) *CorrEventRepository {
	return &CorrEventRepository{
		events:     events,
		corrEvents: make(map[int64]*domain.CorrEvent),
		members:    make(map[int64]map[int64]struct{}),
	}
}

func copyCorrEvent(ce *domain.CorrEvent) *domain.CorrEvent {
	result := *ce
	result.ImpactedHLS = slices.Clone(ce.ImpactedHLS)
	return &result
}

// Create stores a new correlated event and sets its ID.
func (r *CorrEventRepository) Create(ctx context.Context, ce *domain.CorrEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	ce.ID = r.nextID
	r.corrEvents[ce.ID] = copyCorrEvent(ce)
	r.members[ce.ID] = make(map[int64]struct{})
	return nil
}

// Update modifies an existing correlated event.
func (r *CorrEventRepository) Update(ctx context.Context, ce *domain.CorrEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.corrEvents[ce.ID]; !exists {
		return domain.ErrCorrEventNotFound
	}
	r.corrEvents[ce.ID] = copyCorrEvent(ce)
	return nil
}

// Delete removes a correlated event and its membership.
func (r *CorrEventRepository) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.corrEvents[id]; !exists {
		return domain.ErrCorrEventNotFound
	}
	delete(r.corrEvents, id)
	delete(r.members, id)
	return nil
}

// GetByID retrieves a correlated event by its ID.
func (r *CorrEventRepository) GetByID(ctx context.Context, id int64) (*domain.CorrEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ce, exists := r.corrEvents[id]
	if !exists {
		return nil, domain.ErrCorrEventNotFound
	}
	return copyCorrEvent(ce), nil
}

// GetByCause retrieves the most recent correlated event caused by a raw event.
func (r *CorrEventRepository) GetByCause(ctx context.Context, causeEventID int64) (*domain.CorrEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *domain.CorrEvent
	for _, ce := range r.corrEvents {
		if ce.CauseID == causeEventID && (found == nil || ce.ID > found.ID) {
			found = ce
		}
	}
	if found == nil {
		return nil, domain.ErrCorrEventNotFound
	}
	return copyCorrEvent(found), nil
}

// FindEligibleForItem returns the incident new observations of an item update.
func (r *CorrEventRepository) FindEligibleForItem(ctx context.Context, supItemID int64) (*domain.CorrEvent, error) {
	return r.findForItem(supItemID, func(ce *domain.CorrEvent, cause *domain.Event) bool {
		return !(cause.IsResolved() && ce.Ack == domain.AckClosed)
	})
}

// FindOpenAggregateForItem returns the open incident of an item.
func (r *CorrEventRepository) FindOpenAggregateForItem(ctx context.Context, supItemID int64) (*domain.CorrEvent, error) {
	return r.findForItem(supItemID, func(ce *domain.CorrEvent, cause *domain.Event) bool {
		return !cause.IsResolved() && ce.Ack != domain.AckClosed
	})
}

func (r *CorrEventRepository) findForItem(supItemID int64, match func(*domain.CorrEvent, *domain.Event) bool) (*domain.CorrEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *domain.CorrEvent
	for _, ce := range r.corrEvents {
		cause, ok := r.events.lookup(ce.CauseID)
		if !ok || cause.SupItemID != supItemID || !match(ce, cause) {
			continue
		}
		if found == nil || ce.ID > found.ID {
			found = ce
		}
	}
	if found == nil {
		return nil, domain.ErrCorrEventNotFound
	}
	return copyCorrEvent(found), nil
}

// AddEvent attaches a raw event to a correlated event.
func (r *CorrEventRepository) AddEvent(ctx context.Context, corrEventID, eventID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, exists := r.members[corrEventID]
	if !exists {
		return false, domain.ErrCorrEventNotFound
	}
	if _, member := set[eventID]; member {
		return false, nil
	}
	set[eventID] = struct{}{}
	return true, nil
}

// RemoveEvent detaches a raw event from a correlated event.
func (r *CorrEventRepository) RemoveEvent(ctx context.Context, corrEventID, eventID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, exists := r.members[corrEventID]; exists {
		delete(set, eventID)
	}
	return nil
}

// Members returns the raw event ids of a correlated event, sorted.
func (r *CorrEventRepository) Members(ctx context.Context, corrEventID int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, exists := r.members[corrEventID]
	if !exists {
		return nil, domain.ErrCorrEventNotFound
	}
	result := make([]int64, 0, len(set))
	for id := range set {
		result = append(result, id)
	}
	slices.Sort(result)
	return result, nil
}

// CorrEventsForEvent returns the correlated events a raw event belongs to, sorted.
func (r *CorrEventRepository) CorrEventsForEvent(ctx context.Context, eventID int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []int64
	for id, set := range r.members {
		if _, member := set[eventID]; member {
			result = append(result, id)
		}
	}
	slices.Sort(result)
	return result, nil
}

// List retrieves correlated events matching the filter, newest first.
func (r *CorrEventRepository) List(ctx context.Context, filter domain.CorrEventFilter) ([]*domain.CorrEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*domain.CorrEvent
	for _, ce := range r.corrEvents {
		if filter.Ack != "" && ce.Ack != filter.Ack {
			continue
		}
		results = append(results, copyCorrEvent(ce))
	}
	slices.SortFunc(results, func(a, b *domain.CorrEvent) int {
		return cmp.Compare(b.ID, a.ID)
	})

	// Apply offset and limit
	start := filter.Offset
	if start > len(results) {
		start = len(results)
	}

	end := len(results)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}

	return results[start:end], nil
}

// Count returns the number of stored correlated events. Useful in tests.
func (r *CorrEventRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.corrEvents)
}
