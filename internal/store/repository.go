// Package store defines the persistence interfaces of the correlator.
// These abstractions allow swapping implementations (PostgreSQL, in-memory)
// without changing the correlation logic.
package store

import (
	"context"

	"correlator/internal/domain"
)

// SupItemRepository persists supervised items.
type SupItemRepository interface {
	// Resolve returns the item for (host, service), creating it if needed.
	Resolve(ctx context.Context, host, service string) (*domain.SupItem, error)

	// Find returns the item for (host, service) or domain.ErrSupItemNotFound.
	Find(ctx context.Context, host, service string) (*domain.SupItem, error)

	// GetByID retrieves an item by its ID.
	GetByID(ctx context.Context, id int64) (*domain.SupItem, error)
}

// EventRepository persists raw events.
type EventRepository interface {
	// Create stores a new event and sets its ID.
	Create(ctx context.Context, event *domain.Event) error

	// Update modifies an existing event.
	Update(ctx context.Context, event *domain.Event) error

	// GetByID retrieves an event by its ID.
	GetByID(ctx context.Context, id int64) (*domain.Event, error)

	// GetLatestForItem returns the most recent event of a supervised item
	// or domain.ErrEventNotFound.
	GetLatestForItem(ctx context.Context, supItemID int64) (*domain.Event, error)
}

// CorrEventRepository persists correlated events and their membership.
type CorrEventRepository interface {
	// Create stores a new correlated event and sets its ID.
	Create(ctx context.Context, ce *domain.CorrEvent) error

	// Update modifies an existing correlated event.
	Update(ctx context.Context, ce *domain.CorrEvent) error

	// Delete removes a correlated event and its membership rows.
	Delete(ctx context.Context, id int64) error

	// GetByID retrieves a correlated event by its ID.
	GetByID(ctx context.Context, id int64) (*domain.CorrEvent, error)

	// GetByCause retrieves the correlated event caused by a raw event.
	GetByCause(ctx context.Context, causeEventID int64) (*domain.CorrEvent, error)

	// FindEligibleForItem returns the incident new observations of an item
	// update: the most recent one caused by the item, unless its cause is
	// resolved and it is CLOSED. Returns domain.ErrCorrEventNotFound otherwise.
	FindEligibleForItem(ctx context.Context, supItemID int64) (*domain.CorrEvent, error)

	// FindOpenAggregateForItem returns the open incident of an item: its
	// cause is not resolved and it is not CLOSED.
	// Returns domain.ErrCorrEventNotFound otherwise.
	FindOpenAggregateForItem(ctx context.Context, supItemID int64) (*domain.CorrEvent, error)

	// AddEvent attaches a raw event to a correlated event. It reports
	// false when the event was already a member.
	AddEvent(ctx context.Context, corrEventID, eventID int64) (bool, error)

	// RemoveEvent detaches a raw event from a correlated event.
	RemoveEvent(ctx context.Context, corrEventID, eventID int64) error

	// Members returns the raw event ids of a correlated event, sorted.
	Members(ctx context.Context, corrEventID int64) ([]int64, error)

	// CorrEventsForEvent returns the correlated events a raw event belongs to, sorted.
	CorrEventsForEvent(ctx context.Context, eventID int64) ([]int64, error)

	// List retrieves correlated events matching the filter, newest first.
	List(ctx context.Context, filter domain.CorrEventFilter) ([]*domain.CorrEvent, error)
}

// HistoryRepository persists the audit trail of raw events.
type HistoryRepository interface {
	// Append stores a new history record and sets its ID.
	Append(ctx context.Context, h *domain.History) error

	// ListForEvent returns the history of a raw event, oldest first.
	ListForEvent(ctx context.Context, eventID int64) ([]*domain.History, error)
}

// Locker serializes incident mutation across concurrent alerts, and across
// processes when the implementation is shared.
type Locker interface {
	// Lock blocks until the lock is held or ctx is done.
	Lock(ctx context.Context) (unlock func(), err error)
}
