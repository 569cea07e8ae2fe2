package correlator

import (
	"context"
	"fmt"
	"slices"

	"correlator/internal/domain"
	"correlator/internal/metrics"
	"correlator/internal/publish"
)

// disaggregate splits an incident whose cause just resolved. Members still
// failing are regrouped under new incidents, one per failing item whose
// own dependencies are not failing members; each new incident takes the
// failing members downstream of its cause. Resolved members stay put.
func (b *Builder) disaggregate(ctx context.Context, ce *domain.CorrEvent) error {
	members, err := b.CorrEvents.Members(ctx, ce.ID)
	if err != nil {
		return fmt.Errorf("failed to list members: %w", err)
	}

	failing := map[int64]*domain.Event{}
	for _, eventID := range members {
		if eventID == ce.CauseID {
			continue
		}
		event, err := b.Events.GetByID(ctx, eventID)
		if err != nil {
			return fmt.Errorf("failed to get event %d: %w", eventID, err)
		}
		if !event.IsResolved() {
			failing[event.SupItemID] = event
		}
	}
	if len(failing) == 0 {
		return nil
	}

	items := make([]int64, 0, len(failing))
	for item := range failing {
		items = append(items, item)
	}
	slices.Sort(items)

	var roots []int64
	for _, item := range items {
		rooted := true
		for _, dep := range b.Topology.Dependencies(item) {
			if _, ok := failing[dep]; ok {
				rooted = false
				break
			}
		}
		if rooted {
			roots = append(roots, item)
		}
	}

	assigned := map[int64]bool{}
	groups := map[int64][]int64{}
	claim := func(root int64) {
		assigned[root] = true
		groups[root] = []int64{root}
		b.Topology.Walk(root, false, func(n int64) bool {
			if _, ok := failing[n]; !ok || assigned[n] {
				return false
			}
			assigned[n] = true
			groups[root] = append(groups[root], n)
			return true
		})
	}
	for _, root := range roots {
		claim(root)
	}
	// Members on a dependency cycle have no root; each leftover starts its own group.
	for _, item := range items {
		if !assigned[item] {
			roots = append(roots, item)
			claim(item)
		}
	}

	for _, root := range roots {
		if err := b.split(ctx, ce, failing[root], groups[root], failing); err != nil {
			return err
		}
	}
	metrics.IncidentsSplitTotal.Add(float64(len(roots)))

	b.logger.Info("incident split",
		"corrEventID", ce.ID,
		"newIncidents", len(roots),
	)
	return nil
}

// split moves the events of group out of ce into a new incident caused by cause.
func (b *Builder) split(ctx context.Context, ce *domain.CorrEvent, cause *domain.Event, group []int64, failing map[int64]*domain.Event) error {
	fresh := domain.NewCorrEvent(cause.ID, ce.Priority, cause.Timestamp)
	fresh.ImpactedHLS = b.Topology.HLSNames(b.Topology.ImpactedHLS(cause.SupItemID))
	if err := b.CorrEvents.Create(ctx, fresh); err != nil {
		return fmt.Errorf("failed to create split incident: %w", err)
	}

	var moved []int64
	for _, item := range group {
		event := failing[item]
		if _, err := b.CorrEvents.AddEvent(ctx, fresh.ID, event.ID); err != nil {
			return fmt.Errorf("failed to attach event %d to incident %d: %w", event.ID, fresh.ID, err)
		}
		if err := b.CorrEvents.RemoveEvent(ctx, ce.ID, event.ID); err != nil {
			return fmt.Errorf("failed to detach event %d from incident %d: %w", event.ID, ce.ID, err)
		}
		if err := b.Context.SetOpenAggregate(ctx, item, fresh.ID); err != nil {
			return err
		}
		moved = append(moved, event.ID)
	}
	slices.Sort(moved)

	b.publishDelta(ctx, nil, moved, ce.ID)

	item, err := b.Items.GetByID(ctx, cause.SupItemID)
	if err != nil {
		return fmt.Errorf("failed to get supervised item %d: %w", cause.SupItemID, err)
	}
	b.publishIncident(ctx, fresh, cause, item, publish.ChangeNew)
	b.auditLine(fresh, publish.ChangeNew, item, cause.CurrentState, cause.Message)
	return nil
}
