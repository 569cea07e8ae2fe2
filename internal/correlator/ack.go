package correlator

import (
	"context"
	"fmt"

	"correlator/internal/domain"
	"correlator/internal/publish"
)

// Acknowledge moves an incident forward along NONE -> KNOWN -> CLOSED and
// records the change in the cause's history.
func (b *Builder) Acknowledge(ctx context.Context, corrEventID int64, ack domain.AckState, username string) (*domain.CorrEvent, error) {
	unlock, err := b.Locker.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire correlation lock: %w", err)
	}
	defer unlock()

	ce, err := b.CorrEvents.GetByID(ctx, corrEventID)
	if err != nil {
		return nil, err
	}
	if !ce.Ack.CanMoveTo(ack) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidAckTransition, ce.Ack, ack)
	}

	ce.Ack = ack
	if err := b.CorrEvents.Update(ctx, ce); err != nil {
		return nil, fmt.Errorf("failed to update incident %d: %w", ce.ID, err)
	}

	err = b.History.Append(ctx, &domain.History{
		EventID:   ce.CauseID,
		Type:      domain.HistoryAckChange,
		Value:     string(ack),
		Text:      "acknowledgement status changed",
		Username:  username,
		Timestamp: b.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record acknowledgement: %w", err)
	}

	cause, err := b.Events.GetByID(ctx, ce.CauseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cause event %d: %w", ce.CauseID, err)
	}
	if ack == domain.AckClosed {
		if err := b.Context.SetOpenAggregate(ctx, cause.SupItemID, 0); err != nil {
			return nil, err
		}
	}

	item, err := b.Items.GetByID(ctx, cause.SupItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to get supervised item %d: %w", cause.SupItemID, err)
	}
	b.publishIncident(ctx, ce, cause, item, publish.ChangeUpdate)

	b.logger.Info("incident acknowledged",
		"corrEventID", ce.ID,
		"ack", ack,
		"username", username,
	)
	return ce, nil
}
