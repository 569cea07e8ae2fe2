// Package rules defines the correlation rule contract and the registry that
// holds rules together with their dependency graph.
package rules

import (
	"context"
)

// PostCorrelationFunc runs once the aggregation engine is done with an alert.
// corrEventID is 0 when no incident surfaced for the alert.
type PostCorrelationFunc func(ctx context.Context, corrEventID int64) error

// Link is the handle a rule gets on the outside world while processing one alert.
type Link interface {
	// SendToBus publishes a payload on the correlator's output bus.
	SendToBus(ctx context.Context, payload []byte) error

	// RegisterCallback queues fn to run after correlation of the current alert.
	RegisterCallback(fn PostCorrelationFunc)
}

// Rule is a correlation rule. Rules read and write the per-alert Context
// identified by alertID; their results flow to the aggregation engine
// through that Context only.
type Rule interface {
	// Name is unique across the registry.
	Name() string

	// Depends lists the rules that must settle before this one runs.
	Depends() []string

	// Process runs the rule body for one alert.
	Process(ctx context.Context, link Link, alertID string) error
}

// Func adapts a plain function into a Rule.
type Func struct {
	RuleName string
	Deps     []string
	Fn       func(ctx context.Context, link Link, alertID string) error
}

// Name implements Rule.
func (f *Func) Name() string { return f.RuleName }

// Depends implements Rule.
func (f *Func) Depends() []string { return f.Deps }

// Process implements Rule.
func (f *Func) Process(ctx context.Context, link Link, alertID string) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx, link, alertID)
}
