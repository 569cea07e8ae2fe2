// Package correlator implements the aggregation engine: it turns the
// outcome of one alert's rules into created, updated, merged or split
// incidents.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"correlator/internal/ctxstore"
	"correlator/internal/domain"
	"correlator/internal/metrics"
	"correlator/internal/publish"
	"correlator/internal/store"
	"correlator/internal/telemetry"
	"correlator/internal/topology"
)

// Outcome is what MakeCorrelatedEvent did with an alert.
type Outcome string

const (
	// OutcomeNoIncident means no incident was touched.
	OutcomeNoIncident Outcome = "none"
	// OutcomeStale means the alert predates its incident and was dropped.
	OutcomeStale Outcome = "stale"
	// OutcomeAggregated means the alert joined an upstream incident.
	OutcomeAggregated Outcome = "aggregated"
	// OutcomeCreated means a new incident was created.
	OutcomeCreated Outcome = "created"
	// OutcomeUpdated means the item's incident was updated.
	OutcomeUpdated Outcome = "updated"
)

// Result reports the incident an alert ended up in. CorrEventID is 0
// when no incident surfaced.
type Result struct {
	Outcome     Outcome
	CorrEventID int64
}

// Deps are the collaborators of a Builder.
type Deps struct {
	Context    *ctxstore.Store
	Topology   *topology.Topology
	Items      store.SupItemRepository
	Events     store.EventRepository
	CorrEvents store.CorrEventRepository
	History    store.HistoryRepository
	Locker     store.Locker
	Publisher  publish.Publisher

	// DefaultPriority applies to new incidents when no rule set one.
	DefaultPriority int
}

// Builder is the aggregation engine.
type Builder struct {
	Deps
	logger *slog.Logger
	audit  *slog.Logger
	now    func() time.Time
}

// NewBuilder creates a Builder.
func NewBuilder(deps Deps, logger *slog.Logger) *Builder {
	return &Builder{
		Deps:   deps,
		logger: logger,
		audit:  logger.With("component", "audit"),
		now:    time.Now,
	}
}

// alert gathers what the engine knows about the alert being correlated.
type alert struct {
	id      string
	ctx     *ctxstore.Context
	event   *domain.Event
	item    *domain.SupItem
	state   domain.State
	ts      time.Time
	message string
}

// MakeCorrelatedEvent correlates one alert whose rules have all settled.
// It must not run concurrently for the same alert.
func (b *Builder) MakeCorrelatedEvent(ctx context.Context, alertID string) (Result, error) {
	ctx, span := telemetry.StartAggregationSpan(ctx, alertID)

	res, err := b.makeCorrelatedEvent(ctx, alertID)

	telemetry.EndAggregationSpan(span, string(res.Outcome), res.CorrEventID, err)
	if err == nil {
		metrics.IncidentOutcomesTotal.WithLabelValues(string(res.Outcome)).Inc()
	}
	return res, err
}

func (b *Builder) makeCorrelatedEvent(ctx context.Context, alertID string) (Result, error) {
	none := Result{Outcome: OutcomeNoIncident}
	c := b.Context.For(alertID)

	rawID, err := c.RawEventID(ctx)
	if err != nil {
		return none, err
	}
	noAlert, err := c.NoAlert(ctx)
	if err != nil {
		return none, err
	}
	if rawID == 0 || noAlert {
		b.logger.Debug("no incident for alert", "alertID", alertID, "rawEventID", rawID, "noAlert", noAlert)
		return none, nil
	}

	unlock, err := b.Locker.Lock(ctx)
	if err != nil {
		return none, fmt.Errorf("failed to acquire correlation lock: %w", err)
	}
	defer unlock()

	a, err := b.loadAlert(ctx, alertID, c, rawID)
	if err != nil {
		return none, err
	}

	ce, err := b.CorrEvents.FindEligibleForItem(ctx, a.item.ID)
	if errors.Is(err, domain.ErrCorrEventNotFound) {
		ce = nil
	} else if err != nil {
		return none, fmt.Errorf("failed to find incident: %w", err)
	}

	if ce != nil && ce.IsStale(a.ts) {
		b.logger.Info("dropping out-of-order alert",
			"alertID", alertID,
			"corrEventID", ce.ID,
			"alertTimestamp", a.ts,
			"activeSince", ce.Timestamp,
		)
		return Result{Outcome: OutcomeStale, CorrEventID: ce.ID}, nil
	}

	if ce == nil && a.state.IsResolved() {
		if err := b.Context.SetOpenAggregate(ctx, a.item.ID, 0); err != nil {
			return none, err
		}
		return none, nil
	}

	preds, err := c.PredecessorsAggregates(ctx)
	if err != nil {
		return none, err
	}
	succs, err := c.SuccessorsAggregates(ctx)
	if err != nil {
		return none, err
	}

	if len(preds) > 0 {
		into, err := b.aggregateUpstream(ctx, a, ce, preds, succs)
		if err != nil {
			return none, err
		}
		if into != 0 {
			return Result{Outcome: OutcomeAggregated, CorrEventID: into}, nil
		}
	}

	outcome := OutcomeUpdated
	if ce == nil {
		outcome = OutcomeCreated
	}

	ce, err = b.createOrUpdate(ctx, a, ce)
	if err != nil {
		return none, err
	}

	if outcome == OutcomeUpdated && a.state.IsResolved() {
		if err := b.disaggregate(ctx, ce); err != nil {
			return none, fmt.Errorf("failed to split incident %d: %w", ce.ID, err)
		}
	}

	for _, succ := range succs {
		if succ == ce.ID {
			continue
		}
		if err := b.merge(ctx, succ, ce); err != nil {
			return none, err
		}
	}

	return Result{Outcome: outcome, CorrEventID: ce.ID}, nil
}

func (b *Builder) loadAlert(ctx context.Context, alertID string, c *ctxstore.Context, rawID int64) (*alert, error) {
	event, err := b.Events.GetByID(ctx, rawID)
	if err != nil {
		return nil, fmt.Errorf("failed to get raw event %d: %w", rawID, err)
	}
	item, err := b.Items.GetByID(ctx, event.SupItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to get supervised item %d: %w", event.SupItemID, err)
	}

	a := &alert{
		id:      alertID,
		ctx:     c,
		event:   event,
		item:    item,
		state:   event.CurrentState,
		ts:      event.Timestamp,
		message: event.Message,
	}

	state, found, err := c.State(ctx)
	if err != nil {
		return nil, err
	}
	if found {
		a.state = state
	}
	ts, err := c.Timestamp(ctx)
	if err != nil {
		return nil, err
	}
	if !ts.IsZero() {
		a.ts = ts
	}
	return a, nil
}

// aggregateUpstream attaches the alert to the open incidents of upstream
// items. It returns the incident the item now belongs to, or 0 when no
// predecessor could be found.
func (b *Builder) aggregateUpstream(ctx context.Context, a *alert, own *domain.CorrEvent, preds, succs []int64) (int64, error) {
	var into *domain.CorrEvent
	merged := make(map[int64]bool, len(succs))

	for _, predID := range preds {
		if (own != nil && predID == own.ID) || merged[predID] {
			continue
		}

		pred, err := b.CorrEvents.GetByID(ctx, predID)
		if errors.Is(err, domain.ErrCorrEventNotFound) {
			b.logger.Error("predecessor aggregate not found",
				"alertID", a.id,
				"corrEventID", predID,
			)
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to get predecessor aggregate %d: %w", predID, err)
		}

		added, err := b.CorrEvents.AddEvent(ctx, pred.ID, a.event.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to attach event to incident %d: %w", pred.ID, err)
		}
		if added {
			b.publishDelta(ctx, []int64{a.event.ID}, nil, pred.ID)
		}

		for _, succ := range succs {
			if succ == pred.ID || (own != nil && succ == own.ID) || merged[succ] {
				continue
			}
			if err := b.merge(ctx, succ, pred); err != nil {
				return 0, err
			}
			merged[succ] = true
		}

		if into == nil {
			into = pred
		}
	}

	if into == nil {
		return 0, nil
	}

	if own != nil {
		if err := b.merge(ctx, own.ID, into); err != nil {
			return 0, err
		}
	}
	if err := b.Context.SetOpenAggregate(ctx, a.item.ID, into.ID); err != nil {
		return 0, err
	}

	b.logger.Info("alert aggregated into upstream incident",
		"alertID", a.id,
		"supItemID", a.item.ID,
		"corrEventID", into.ID,
	)
	return into.ID, nil
}

// createOrUpdate persists the item's own incident for the alert.
func (b *Builder) createOrUpdate(ctx context.Context, a *alert, ce *domain.CorrEvent) (*domain.CorrEvent, error) {
	isNew := ce == nil

	priority, hasPriority, err := a.ctx.Priority(ctx)
	if err != nil {
		return nil, err
	}
	occurrences, hasOccurrences, err := a.ctx.Occurrences(ctx)
	if err != nil {
		return nil, err
	}
	hls, err := a.ctx.ImpactedHLS(ctx)
	if err != nil {
		return nil, err
	}

	if isNew {
		if err := b.stripStaleMemberships(ctx, a.event.ID); err != nil {
			return nil, err
		}
		if !hasPriority {
			priority = b.DefaultPriority
		}
		ce = domain.NewCorrEvent(a.event.ID, priority, a.ts)
	} else {
		if hasPriority {
			ce.Priority = priority
		}
		ce.Occurrence++
	}
	if hasOccurrences {
		ce.Occurrence = occurrences
	}
	if names := b.Topology.HLSNames(hls); len(names) > 0 || isNew {
		ce.ImpactedHLS = names
	}

	reactivated := false
	if !isNew && ce.Ack == domain.AckClosed && !a.state.IsResolved() {
		ce.Reactivate(a.ts)
		reactivated = true
	}

	if isNew {
		if err := b.CorrEvents.Create(ctx, ce); err != nil {
			return nil, fmt.Errorf("failed to create incident: %w", err)
		}
	} else if err := b.CorrEvents.Update(ctx, ce); err != nil {
		return nil, fmt.Errorf("failed to update incident %d: %w", ce.ID, err)
	}

	if reactivated {
		err := b.History.Append(ctx, &domain.History{
			EventID:   ce.CauseID,
			Type:      domain.HistoryAckChange,
			Value:     string(domain.AckNone),
			Text:      "reactivated due to new outage",
			Timestamp: b.now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record reactivation: %w", err)
		}
		b.logger.Info("incident reactivated", "corrEventID", ce.ID, "alertID", a.id)
	}

	if _, err := b.CorrEvents.AddEvent(ctx, ce.ID, a.event.ID); err != nil {
		return nil, fmt.Errorf("failed to attach event to incident %d: %w", ce.ID, err)
	}

	open := ce.ID
	if a.state.IsResolved() {
		open = 0
	}
	if err := b.Context.SetOpenAggregate(ctx, a.item.ID, open); err != nil {
		return nil, err
	}

	change, msg := publish.ChangeUpdate, "incident updated"
	if isNew {
		change, msg = publish.ChangeNew, "incident created"
	}
	b.publishIncident(ctx, ce, a.event, a.item, change)
	b.auditLine(ce, change, a.item, a.state, a.message)

	b.logger.Info(msg,
		"corrEventID", ce.ID,
		"alertID", a.id,
		"supItemID", a.item.ID,
		"state", a.state,
	)
	return ce, nil
}

// auditLine writes "id|NEW-or-CHANGE|host|service|state|priority|message".
func (b *Builder) auditLine(ce *domain.CorrEvent, change publish.Change, item *domain.SupItem, state domain.State, message string) {
	b.audit.Info(fmt.Sprintf("%d|%s|%s|%s|%s|%d|%s",
		ce.ID, change, item.Host, item.Service, state, ce.Priority, message))
}

func (b *Builder) publishIncident(ctx context.Context, ce *domain.CorrEvent, cause *domain.Event, item *domain.SupItem, change publish.Change) {
	members, err := b.CorrEvents.Members(ctx, ce.ID)
	if err != nil {
		b.logger.Error("failed to list incident members", "corrEventID", ce.ID, "error", err)
		return
	}
	metrics.IncidentSize.Observe(float64(len(members)))

	err = b.Publisher.PublishIncident(ctx, &publish.Incident{
		CorrEvent: ce,
		Cause:     cause,
		Item:      item,
		Members:   members,
		Change:    change,
	})
	if err != nil {
		b.logger.Error("failed to publish incident", "corrEventID", ce.ID, "error", err)
	}
}

func (b *Builder) publishDelta(ctx context.Context, added, removed []int64, corrEventID int64) {
	if err := b.Publisher.PublishDelta(ctx, added, removed, []int64{corrEventID}); err != nil {
		b.logger.Error("failed to publish incident delta", "corrEventID", corrEventID, "error", err)
	}
}

func (b *Builder) publishRemoved(ctx context.Context, corrEventID int64) {
	if err := b.Publisher.PublishRemoved(ctx, []int64{corrEventID}); err != nil {
		b.logger.Error("failed to publish incident removal", "corrEventID", corrEventID, "error", err)
	}
}
