package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"correlator/internal/ctxstore"
	"correlator/internal/domain"
	"correlator/internal/store"
)

// Lookup answers "first open aggregate" queries over the topology. The
// open incident of each item is read from the context cache and falls
// back to the incident store, re-populating the cache.
type Lookup struct {
	topo       *Topology
	cache      *ctxstore.Store
	events     store.EventRepository
	corrEvents store.CorrEventRepository
	logger     *slog.Logger
}

// NewLookup creates a Lookup.
func NewLookup(
	topo *Topology,
	cache *ctxstore.Store,
	events store.EventRepository,
	corrEvents store.CorrEventRepository,
	logger *slog.Logger,
) *Lookup {
	return &Lookup{
		topo:       topo,
		cache:      cache,
		events:     events,
		corrEvents: corrEvents,
		logger:     logger,
	}
}

// Topology returns the underlying graph.
func (l *Lookup) Topology() *Topology {
	return l.topo
}

// FirstPredecessorsAggregates returns the nearest open incidents upstream of item.
func (l *Lookup) FirstPredecessorsAggregates(ctx context.Context, item int64) ([]int64, error) {
	return l.firstAggregates(ctx, item, true)
}

// FirstSuccessorsAggregates returns the nearest open incidents downstream of item.
func (l *Lookup) FirstSuccessorsAggregates(ctx context.Context, item int64) ([]int64, error) {
	return l.firstAggregates(ctx, item, false)
}

// firstAggregates walks away from item. An item with an open incident is
// collected and ends its branch; an item without one is only walked
// through while it is itself failing.
func (l *Lookup) firstAggregates(ctx context.Context, item int64, upstream bool) ([]int64, error) {
	found := map[int64]struct{}{}
	var walkErr error

	l.topo.Walk(item, upstream, func(n int64) bool {
		if walkErr != nil {
			return false
		}

		id, err := l.OpenAggregate(ctx, n)
		if err != nil {
			walkErr = err
			return false
		}
		if id != 0 {
			found[id] = struct{}{}
			return false
		}

		failing, err := l.failing(ctx, n)
		if err != nil {
			walkErr = err
			return false
		}
		return failing
	})
	if walkErr != nil {
		return nil, walkErr
	}

	ids := make([]int64, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// OpenAggregate returns the open incident holding item's current outage, 0 if none.
func (l *Lookup) OpenAggregate(ctx context.Context, item int64) (int64, error) {
	id, found, err := l.cache.OpenAggregate(ctx, item)
	if err != nil {
		return 0, err
	}
	if found {
		return id, nil
	}

	id, err = l.openAggregateFromStore(ctx, item)
	if err != nil {
		return 0, err
	}
	if err := l.cache.SetOpenAggregate(ctx, item, id); err != nil {
		l.logger.Warn("failed to cache open aggregate", "supItemID", item, "error", err)
	}
	return id, nil
}

func (l *Lookup) openAggregateFromStore(ctx context.Context, item int64) (int64, error) {
	ce, err := l.corrEvents.FindOpenAggregateForItem(ctx, item)
	if err == nil {
		return ce.ID, nil
	}
	if !errors.Is(err, domain.ErrCorrEventNotFound) {
		return 0, fmt.Errorf("failed to find open aggregate: %w", err)
	}

	// The item may be a member of an incident caused elsewhere.
	event, err := l.events.GetLatestForItem(ctx, item)
	if errors.Is(err, domain.ErrEventNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get latest event: %w", err)
	}
	if event.IsResolved() {
		return 0, nil
	}

	ids, err := l.corrEvents.CorrEventsForEvent(ctx, event.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list incidents of event: %w", err)
	}
	for _, id := range ids {
		ce, err := l.corrEvents.GetByID(ctx, id)
		if err != nil {
			continue
		}
		if ce.Ack != domain.AckClosed {
			return ce.ID, nil
		}
	}
	return 0, nil
}

func (l *Lookup) failing(ctx context.Context, item int64) (bool, error) {
	event, err := l.events.GetLatestForItem(ctx, item)
	if errors.Is(err, domain.ErrEventNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get latest event: %w", err)
	}
	return !event.IsResolved(), nil
}
