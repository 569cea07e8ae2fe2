package builtin

import (
	"context"

	"correlator/internal/ctxstore"
	"correlator/internal/rules"
	"correlator/internal/topology"
)

// HLS records the high-level services impacted by the alert's item.
type HLS struct {
	base
	context *ctxstore.Store
	topo    *topology.Topology
}

// Process implements rules.Rule.
func (r *HLS) Process(ctx context.Context, _ rules.Link, alertID string) error {
	c := r.context.For(alertID)

	item, err := c.SupItemID(ctx)
	if err != nil || item == 0 {
		return err
	}

	impacted := r.topo.ImpactedHLS(item)
	if len(impacted) == 0 {
		return nil
	}
	return c.SetImpactedHLS(ctx, impacted)
}
