package correlator

import (
	"context"
	"errors"
	"fmt"

	"correlator/internal/domain"
	"correlator/internal/metrics"
)

// merge moves every member of incident srcID into dst and deletes srcID.
// A source that no longer exists is logged and skipped.
func (b *Builder) merge(ctx context.Context, srcID int64, dst *domain.CorrEvent) error {
	if srcID == dst.ID {
		return nil
	}

	src, err := b.CorrEvents.GetByID(ctx, srcID)
	if errors.Is(err, domain.ErrCorrEventNotFound) {
		b.logger.Error("aggregate to merge not found",
			"corrEventID", srcID,
			"into", dst.ID,
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get incident %d: %w", srcID, err)
	}

	members, err := b.CorrEvents.Members(ctx, src.ID)
	if err != nil {
		return fmt.Errorf("failed to list members of incident %d: %w", src.ID, err)
	}

	var moved []int64
	for _, eventID := range members {
		added, err := b.CorrEvents.AddEvent(ctx, dst.ID, eventID)
		if err != nil {
			return fmt.Errorf("failed to move event %d into incident %d: %w", eventID, dst.ID, err)
		}
		if added {
			moved = append(moved, eventID)
		}
	}

	if err := b.CorrEvents.Delete(ctx, src.ID); err != nil {
		return fmt.Errorf("failed to delete merged incident %d: %w", src.ID, err)
	}

	for _, eventID := range members {
		event, err := b.Events.GetByID(ctx, eventID)
		if err != nil {
			return fmt.Errorf("failed to get event %d: %w", eventID, err)
		}
		if event.IsResolved() {
			continue
		}
		if err := b.Context.SetOpenAggregate(ctx, event.SupItemID, dst.ID); err != nil {
			return err
		}
	}

	if len(moved) > 0 {
		b.publishDelta(ctx, moved, nil, dst.ID)
	}
	b.publishRemoved(ctx, src.ID)
	metrics.IncidentsMergedTotal.Inc()

	b.logger.Info("incident merged",
		"corrEventID", src.ID,
		"into", dst.ID,
		"moved", moved,
	)
	return nil
}

// stripStaleMemberships detaches an event from incidents it joined as a
// plain member, before it becomes the cause of a new incident.
func (b *Builder) stripStaleMemberships(ctx context.Context, eventID int64) error {
	ids, err := b.CorrEvents.CorrEventsForEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to list incidents of event %d: %w", eventID, err)
	}

	for _, id := range ids {
		ce, err := b.CorrEvents.GetByID(ctx, id)
		if errors.Is(err, domain.ErrCorrEventNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to get incident %d: %w", id, err)
		}
		if ce.CauseID == eventID {
			continue
		}

		if err := b.CorrEvents.RemoveEvent(ctx, id, eventID); err != nil {
			return fmt.Errorf("failed to detach event %d from incident %d: %w", eventID, id, err)
		}
		b.publishDelta(ctx, nil, []int64{eventID}, id)
		b.logger.Debug("event detached from stale incident", "eventID", eventID, "corrEventID", id)
	}
	return nil
}
