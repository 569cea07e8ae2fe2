package ctxstore

import (
	"context"
	"errors"
	"slices"
	"time"

	"correlator/internal/domain"
)

// Per-alert field names.
const (
	FieldRawEventID             = "raw_event_id"
	FieldSupItemID              = "idsupitem"
	FieldPriority               = "priority"
	FieldOccurrences            = "occurrences_count"
	FieldImpactedHLS            = "impacted_hls"
	FieldPredecessorsAggregates = "predecessors_aggregates"
	FieldSuccessorsAggregates   = "successors_aggregates"
	FieldNoAlert                = "no_alert"
	FieldHostname               = "hostname"
	FieldServicename            = "servicename"
	FieldStatename              = "statename"
	FieldTimestamp              = "timestamp"
)

var alertFields = []string{
	FieldRawEventID,
	FieldSupItemID,
	FieldPriority,
	FieldOccurrences,
	FieldImpactedHLS,
	FieldPredecessorsAggregates,
	FieldSuccessorsAggregates,
	FieldNoAlert,
	FieldHostname,
	FieldServicename,
	FieldStatename,
	FieldTimestamp,
}

// Context is the typed view of one alert's scope.
type Context struct {
	store   *Store
	alertID string
	scope   Scope
}

// For returns the Context of an alert.
func (s *Store) For(alertID string) *Context {
	return &Context{
		store:   s,
		alertID: alertID,
		scope:   AlertScope(alertID),
	}
}

// AlertID returns the alert this Context belongs to.
func (c *Context) AlertID() string {
	return c.alertID
}

// Store returns the underlying store.
func (c *Context) Store() *Store {
	return c.store
}

// Get reads an arbitrary field of the alert scope.
func (c *Context) Get(ctx context.Context, field string, dst any) (bool, error) {
	return c.store.Get(ctx, c.scope, field, dst)
}

// Set writes an arbitrary field of the alert scope with the default TTL.
func (c *Context) Set(ctx context.Context, field string, value any) error {
	if !slices.Contains(alertFields, field) {
		c.store.trackField(c.alertID, field)
	}
	return c.store.Set(ctx, c.scope, field, value, 0)
}

// Clear deletes the built-in fields of the alert scope and every other
// field written through this process.
func (c *Context) Clear(ctx context.Context) error {
	var errs []error
	for _, field := range append(slices.Clone(alertFields), c.store.takeFields(c.alertID)...) {
		if err := c.store.Delete(ctx, c.scope, field); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func getInt64(ctx context.Context, c *Context, field string) (int64, error) {
	var v int64
	_, err := c.Get(ctx, field, &v)
	return v, err
}

func getIDs(ctx context.Context, c *Context, field string) ([]int64, error) {
	var v []int64
	_, err := c.Get(ctx, field, &v)
	return v, err
}

func getString(ctx context.Context, c *Context, field string) (string, error) {
	var v string
	_, err := c.Get(ctx, field, &v)
	return v, err
}

// RawEventID returns the persisted Event id, 0 when unset.
func (c *Context) RawEventID(ctx context.Context) (int64, error) {
	return getInt64(ctx, c, FieldRawEventID)
}

func (c *Context) SetRawEventID(ctx context.Context, id int64) error {
	return c.Set(ctx, FieldRawEventID, id)
}

// SupItemID returns the supervised item id, 0 when unset.
func (c *Context) SupItemID(ctx context.Context) (int64, error) {
	return getInt64(ctx, c, FieldSupItemID)
}

func (c *Context) SetSupItemID(ctx context.Context, id int64) error {
	return c.Set(ctx, FieldSupItemID, id)
}

// Priority returns the priority a rule computed, if any.
func (c *Context) Priority(ctx context.Context) (int, bool, error) {
	var v int
	found, err := c.Get(ctx, FieldPriority, &v)
	return v, found, err
}

func (c *Context) SetPriority(ctx context.Context, priority int) error {
	return c.Set(ctx, FieldPriority, priority)
}

// Occurrences returns the occurrence counter a rule computed, if any.
func (c *Context) Occurrences(ctx context.Context) (int, bool, error) {
	var v int
	found, err := c.Get(ctx, FieldOccurrences, &v)
	return v, found, err
}

func (c *Context) SetOccurrences(ctx context.Context, n int) error {
	return c.Set(ctx, FieldOccurrences, n)
}

// ImpactedHLS returns the ids of impacted high-level services.
func (c *Context) ImpactedHLS(ctx context.Context) ([]int64, error) {
	return getIDs(ctx, c, FieldImpactedHLS)
}

func (c *Context) SetImpactedHLS(ctx context.Context, ids []int64) error {
	return c.Set(ctx, FieldImpactedHLS, ids)
}

// PredecessorsAggregates returns open incident ids on upstream items.
func (c *Context) PredecessorsAggregates(ctx context.Context) ([]int64, error) {
	return getIDs(ctx, c, FieldPredecessorsAggregates)
}

func (c *Context) SetPredecessorsAggregates(ctx context.Context, ids []int64) error {
	return c.Set(ctx, FieldPredecessorsAggregates, ids)
}

// SuccessorsAggregates returns open incident ids on downstream items.
func (c *Context) SuccessorsAggregates(ctx context.Context) ([]int64, error) {
	return getIDs(ctx, c, FieldSuccessorsAggregates)
}

func (c *Context) SetSuccessorsAggregates(ctx context.Context, ids []int64) error {
	return c.Set(ctx, FieldSuccessorsAggregates, ids)
}

// NoAlert reports whether a rule asked to suppress incident creation.
func (c *Context) NoAlert(ctx context.Context) (bool, error) {
	var v bool
	_, err := c.Get(ctx, FieldNoAlert, &v)
	return v, err
}

func (c *Context) SetNoAlert(ctx context.Context, v bool) error {
	return c.Set(ctx, FieldNoAlert, v)
}

func (c *Context) Hostname(ctx context.Context) (string, error) {
	return getString(ctx, c, FieldHostname)
}

func (c *Context) Servicename(ctx context.Context) (string, error) {
	return getString(ctx, c, FieldServicename)
}

// State returns the observed state; found is false when unset.
func (c *Context) State(ctx context.Context) (domain.State, bool, error) {
	var v domain.State
	found, err := c.Get(ctx, FieldStatename, &v)
	return v, found, err
}

func (c *Context) Timestamp(ctx context.Context) (time.Time, error) {
	var v time.Time
	_, err := c.Get(ctx, FieldTimestamp, &v)
	return v, err
}

// SetMessage stores the fields describing the inbound observation.
func (c *Context) SetMessage(ctx context.Context, msg *domain.Message) error {
	fields := []struct {
		name  string
		value any
	}{
		{FieldHostname, msg.Host},
		{FieldServicename, msg.Service},
		{FieldStatename, msg.State},
		{FieldTimestamp, msg.Timestamp},
	}
	for _, f := range fields {
		if err := c.Set(ctx, f.name, f.value); err != nil {
			return err
		}
	}
	return nil
}
