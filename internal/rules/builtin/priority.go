package builtin

import (
	"context"

	"correlator/internal/ctxstore"
	"correlator/internal/rules"
)

// Priority maps the observed state to a priority. States without an
// entry leave the priority unset so the default applies.
type Priority struct {
	base
	context    *ctxstore.Store
	priorities map[string]int
}

// Process implements rules.Rule.
func (r *Priority) Process(ctx context.Context, _ rules.Link, alertID string) error {
	c := r.context.For(alertID)

	state, found, err := c.State(ctx)
	if err != nil || !found {
		return err
	}

	priority, ok := r.priorities[state.String()]
	if !ok {
		return nil
	}
	return c.SetPriority(ctx, priority)
}
