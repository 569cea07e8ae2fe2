package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"correlator/internal/graph"
)

// Configuration errors raised while building the registry.
var (
	ErrDependencyCycle   = errors.New("rule dependency cycle")
	ErrMissingDependency = errors.New("missing rule dependency")
)

// CycleError names the rules on a rejected dependency cycle.
// Path starts and ends with the same rule.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrDependencyCycle, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrDependencyCycle }

// MissingDependencyError names a dependency no registered rule provides.
type MissingDependencyError struct {
	Dependency string
	NeededBy   []string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("%v: %q needed by %s", ErrMissingDependency, e.Dependency, strings.Join(e.NeededBy, ", "))
}

func (e *MissingDependencyError) Unwrap() error { return ErrMissingDependency }

// Set is an immutable view of registered rules and their dependency graph.
// Edges point from a rule to the rules it depends on.
type Set struct {
	rules map[string]Rule
	graph *graph.Graph[string]
}

func newSet() *Set {
	return &Set{
		rules: make(map[string]Rule),
		graph: graph.New[string](),
	}
}

func (s *Set) clone() *Set {
	c := &Set{
		rules: make(map[string]Rule, len(s.rules)),
		graph: s.graph.Clone(),
	}
	for name, r := range s.rules {
		c.rules[name] = r
	}
	return c
}

// add inserts r into s, rejecting any dependency edge that would close a cycle.
func (s *Set) add(r Rule) error {
	name := r.Name()
	s.graph.AddNode(name)
	for _, dep := range r.Depends() {
		if path := s.graph.ShortestPath(dep, name); path != nil {
			return &CycleError{Path: append([]string{name}, path...)}
		}
		s.graph.AddEdge(name, dep)
	}
	s.rules[name] = r
	return nil
}

// checkDependencies verifies every dependency resolves to a registered rule.
func (s *Set) checkDependencies() error {
	var errs []error
	for _, node := range s.graph.Nodes() {
		if _, ok := s.rules[node]; ok {
			continue
		}
		errs = append(errs, &MissingDependencyError{
			Dependency: node,
			NeededBy:   s.graph.Predecessors(node),
		})
	}
	return errors.Join(errs...)
}

// Lookup returns the rule registered under name.
func (s *Set) Lookup(name string) (Rule, bool) {
	r, ok := s.rules[name]
	return r, ok
}

// Keys returns the registered rule names, sorted.
func (s *Set) Keys() []string {
	keys := make([]string, 0, len(s.rules))
	for name := range s.rules {
		keys = append(keys, name)
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of registered rules.
func (s *Set) Len() int {
	return len(s.rules)
}

// Dependencies returns the direct dependencies of a rule.
func (s *Set) Dependencies(name string) []string {
	return s.graph.Successors(name)
}

// Roots returns the entry rules: registered rules no other rule depends on.
func (s *Set) Roots() []string {
	var roots []string
	for _, name := range s.Keys() {
		if s.graph.InDegree(name) == 0 {
			roots = append(roots, name)
		}
	}
	return roots
}

// Registry holds the rule set. Writers build a new Set and swap it in,
// so readers holding a Snapshot are never affected by later changes.
type Registry struct {
	mu     sync.RWMutex
	set    *Set
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		set:    newSet(),
		logger: logger,
	}
}

// Register adds a rule. A second rule with the same name is ignored.
// A dependency that would close a cycle is rejected with a *CycleError.
func (r *Registry) Register(rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := rule.Name()
	if _, exists := r.set.rules[name]; exists {
		r.logger.Warn("rule already registered, ignoring", "rule", name)
		return nil
	}

	next := r.set.clone()
	if err := next.add(rule); err != nil {
		return err
	}
	r.set = next

	r.logger.Debug("rule registered", "rule", name, "depends", rule.Depends())
	return nil
}

// CheckDependencies verifies that every declared dependency is registered.
// The returned error joins one *MissingDependencyError per missing rule.
func (r *Registry) CheckDependencies() error {
	return r.Snapshot().checkDependencies()
}

// Load replaces the whole rule set atomically. The current set is kept
// when the new one fails validation.
func (r *Registry) Load(ruleList []Rule) error {
	next := newSet()
	for _, rule := range ruleList {
		if _, exists := next.rules[rule.Name()]; exists {
			r.logger.Warn("rule already registered, ignoring", "rule", rule.Name())
			continue
		}
		if err := next.add(rule); err != nil {
			return err
		}
	}
	if err := next.checkDependencies(); err != nil {
		return err
	}

	r.mu.Lock()
	r.set = next
	r.mu.Unlock()

	r.logger.Info("rule set loaded", "rules", next.Keys())
	return nil
}

// Lookup returns the rule registered under name.
func (r *Registry) Lookup(name string) (Rule, bool) {
	return r.Snapshot().Lookup(name)
}

// Keys returns the registered rule names, sorted.
func (r *Registry) Keys() []string {
	return r.Snapshot().Keys()
}

// Clear removes every rule.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.set = newSet()
	r.mu.Unlock()
}

// Snapshot returns the current immutable rule set.
func (r *Registry) Snapshot() *Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set
}
