package builtin

import (
	"context"
	"fmt"
	"log/slog"

	"correlator/internal/ctxstore"
	"correlator/internal/rules"
	"correlator/internal/topology"
)

// Topology records the nearest open incidents upstream and downstream
// of the alert's item. Resolved observations are skipped.
type Topology struct {
	base
	context *ctxstore.Store
	lookup  *topology.Lookup
	logger  *slog.Logger
}

// Process implements rules.Rule.
func (r *Topology) Process(ctx context.Context, _ rules.Link, alertID string) error {
	c := r.context.For(alertID)

	item, err := c.SupItemID(ctx)
	if err != nil {
		return err
	}
	if item == 0 {
		return nil
	}

	state, found, err := c.State(ctx)
	if err != nil {
		return err
	}
	if !found || state.IsResolved() {
		return nil
	}

	preds, err := r.lookup.FirstPredecessorsAggregates(ctx, item)
	if err != nil {
		return fmt.Errorf("failed to find predecessor aggregates: %w", err)
	}
	succs, err := r.lookup.FirstSuccessorsAggregates(ctx, item)
	if err != nil {
		return fmt.Errorf("failed to find successor aggregates: %w", err)
	}

	if err := c.SetPredecessorsAggregates(ctx, preds); err != nil {
		return err
	}
	if err := c.SetSuccessorsAggregates(ctx, succs); err != nil {
		return err
	}

	r.logger.Debug("topology aggregates",
		"alertID", alertID,
		"supItemID", item,
		"predecessors", preds,
		"successors", succs,
	)
	return nil
}
