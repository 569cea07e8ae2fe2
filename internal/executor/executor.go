// Package executor runs the correlation rules for one alert.
//
// For every alert the executor builds a DAG of execution units mirroring
// the rule dependency graph, one unit per rule, so a rule shared by
// several branches runs exactly once. A unit starts once all its
// dependencies have settled and runs only if they all succeeded. Rule
// bodies run on a bounded worker pool and a rule body never runs
// concurrently with itself.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"correlator/internal/metrics"
	"correlator/internal/rules"
	"correlator/internal/telemetry"
)

// Rule execution failures.
var (
	ErrRuleTimeout      = errors.New("rule timed out")
	ErrDependencyFailed = errors.New("rule dependency failed")
	ErrRulePanic        = errors.New("rule panicked")
)

// Options configures an Executor.
type Options struct {
	// Workers bounds how many rule bodies run at once.
	Workers int
	// RuleTimeout bounds one rule body.
	RuleTimeout time.Duration
}

// Executor schedules rule execution for alerts.
type Executor struct {
	registry *rules.Registry
	pool     *semaphore.Weighted
	timeout  time.Duration
	stats    *stats
	logger   *slog.Logger

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// New creates an Executor over registry.
func New(registry *rules.Registry, opts Options, logger *slog.Logger) *Executor {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.RuleTimeout <= 0 {
		opts.RuleTimeout = 30 * time.Second
	}
	return &Executor{
		registry: registry,
		pool:     semaphore.NewWeighted(int64(opts.Workers)),
		timeout:  opts.RuleTimeout,
		stats:    newStats(),
		logger:   logger,
		locks:    make(map[string]chan struct{}),
	}
}

// unit is the execution of one rule for one alert. err is readable once
// done is closed.
type unit struct {
	name string
	done chan struct{}
	err  error
}

// run is the per-alert execution DAG.
type run struct {
	exec    *Executor
	set     *rules.Set
	link    rules.Link
	alertID string
	arrival chan struct{}
	units   map[string]*unit
}

// Run executes every registered rule for alertID and waits for all of
// them to settle.
//
// Join policy: Run waits for every entry unit, then fails if any of them
// failed, returning the failures joined. Entry units that succeeded have
// still written their results to the Context.
func (e *Executor) Run(ctx context.Context, link rules.Link, alertID string) error {
	start := time.Now()
	ctx, span := telemetry.StartAlertSpan(ctx, alertID)

	r := &run{
		exec:    e,
		set:     e.registry.Snapshot(),
		link:    link,
		alertID: alertID,
		arrival: make(chan struct{}),
		units:   make(map[string]*unit),
	}

	roots := r.set.Roots()
	entries := make([]*unit, 0, len(roots))
	for _, name := range roots {
		entries = append(entries, r.build(ctx, name))
	}
	close(r.arrival)

	var errs []error
	for _, u := range entries {
		<-u.done
		if u.err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", u.name, u.err))
		}
	}

	elapsed := time.Since(start)
	e.stats.recordTotal(elapsed)
	metrics.AlertRulesDuration.Observe(elapsed.Seconds())

	err := errors.Join(errs...)
	telemetry.EndSpan(span, err)
	return err
}

// build returns the unit of a rule, creating it and its dependency units
// on first use. It is only called before arrival is closed, from the
// goroutine running Run.
func (r *run) build(ctx context.Context, name string) *unit {
	if u, ok := r.units[name]; ok {
		return u
	}

	u := &unit{name: name, done: make(chan struct{})}
	r.units[name] = u

	depNames := r.set.Dependencies(name)
	deps := make([]*unit, 0, len(depNames))
	for _, dep := range depNames {
		deps = append(deps, r.build(ctx, dep))
	}

	go r.execute(ctx, u, deps)
	return u
}

func (r *run) execute(ctx context.Context, u *unit, deps []*unit) {
	defer close(u.done)

	if len(deps) == 0 {
		select {
		case <-r.arrival:
		case <-ctx.Done():
			u.err = ctx.Err()
			return
		}
	}

	var failed []string
	for _, dep := range deps {
		<-dep.done
		if dep.err != nil {
			failed = append(failed, dep.name)
		}
	}
	if len(failed) > 0 {
		u.err = fmt.Errorf("%w: %s", ErrDependencyFailed, strings.Join(failed, ", "))
		metrics.RuleExecutionsTotal.WithLabelValues(u.name, "skipped").Inc()
		r.exec.logger.Debug("rule skipped",
			"rule", u.name,
			"alertID", r.alertID,
			"failedDependencies", failed,
		)
		return
	}

	rule, ok := r.set.Lookup(u.name)
	if !ok {
		u.err = fmt.Errorf("%w: %q", rules.ErrMissingDependency, u.name)
		return
	}

	u.err = r.exec.dispatch(ctx, rule, r.link, r.alertID)
}

// lockFor returns the lock keeping a rule body from running concurrently with itself.
func (e *Executor) lockFor(name string) chan struct{} {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	lock, ok := e.locks[name]
	if !ok {
		lock = make(chan struct{}, 1)
		e.locks[name] = lock
	}
	return lock
}

// dispatch runs a rule body on the worker pool under the rule timeout.
// On timeout it returns ErrRuleTimeout at once; the rule lock and the
// worker slot are released when the body actually returns.
func (e *Executor) dispatch(ctx context.Context, rule rules.Rule, link rules.Link, alertID string) error {
	name := rule.Name()
	start := time.Now()

	lock := e.lockFor(name)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := e.pool.Acquire(ctx, 1); err != nil {
		<-lock
		return err
	}

	spanCtx, span := telemetry.StartRuleSpan(ctx, name, alertID)
	runCtx, cancel := context.WithTimeout(spanCtx, e.timeout)
	done := make(chan error, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("%w: %v", ErrRulePanic, p)
			}
			cancel()
			e.pool.Release(1)
			<-lock
		}()
		done <- rule.Process(runCtx, link, alertID)
	}()

	var err error
	select {
	case err = <-done:
		err = e.settle(ctx, runCtx, err)
	case <-runCtx.Done():
		// The worker cancels runCtx once its result is sent, so a finished
		// body always wins over the deadline.
		select {
		case err = <-done:
			err = e.settle(ctx, runCtx, err)
		default:
			switch {
			case ctx.Err() != nil:
				err = ctx.Err()
			case errors.Is(runCtx.Err(), context.DeadlineExceeded):
				err = fmt.Errorf("%w after %s", ErrRuleTimeout, e.timeout)
			default:
				err = <-done
			}
		}
	}

	elapsed := time.Since(start)
	e.stats.record(name, elapsed)
	metrics.RuleExecutionDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	telemetry.EndSpan(span, err)

	switch {
	case err == nil:
		metrics.RuleExecutionsTotal.WithLabelValues(name, "success").Inc()
		e.logger.Debug("rule executed", "rule", name, "alertID", alertID, "duration", elapsed)
	case errors.Is(err, ErrRuleTimeout):
		metrics.RuleExecutionsTotal.WithLabelValues(name, "timeout").Inc()
		e.logger.Warn("rule timed out", "rule", name, "alertID", alertID, "timeout", e.timeout)
	default:
		metrics.RuleExecutionsTotal.WithLabelValues(name, "error").Inc()
		e.logger.Error("rule failed", "rule", name, "alertID", alertID, "error", err)
	}
	return err
}

// settle classifies the error a rule body returned. A body that gave up
// because its deadline passed is reported as a timeout.
func (e *Executor) settle(ctx, runCtx context.Context, err error) error {
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w after %s", ErrRuleTimeout, e.timeout)
	}
	return err
}

// GetStats drains the timing samples collected since the previous call.
// It returns "rule-<name>" average seconds for every registered rule (0
// when the rule has not run) and "rule-total", the average end-to-end
// duration of Run.
func (e *Executor) GetStats() map[string]float64 {
	return e.stats.drain(e.registry.Keys())
}
