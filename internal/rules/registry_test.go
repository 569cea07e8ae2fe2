package rules

import (
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"
)

func testRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func rule(name string, deps ...string) Rule {
	return &Func{RuleName: name, Deps: deps}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := testRegistry()

	if err := r.Register(rule("b")); err != nil {
		t.Fatalf("Register(b) error: %v", err)
	}
	if err := r.Register(rule("a", "b")); err != nil {
		t.Fatalf("Register(a) error: %v", err)
	}

	if _, ok := r.Lookup("a"); !ok {
		t.Error("rule a should be registered")
	}
	if _, ok := r.Lookup("zzz"); ok {
		t.Error("rule zzz should not be registered")
	}
	if got := r.Keys(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Keys = %v, want [a b]", got)
	}
	if got := r.Snapshot().Dependencies("a"); !slices.Equal(got, []string{"b"}) {
		t.Errorf("Dependencies(a) = %v, want [b]", got)
	}
	if got := r.Snapshot().Roots(); !slices.Equal(got, []string{"a"}) {
		t.Errorf("Roots = %v, want [a]", got)
	}
}

func TestRegistry_DuplicateNameIgnored(t *testing.T) {
	r := testRegistry()
	first := rule("a")

	if err := r.Register(first); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := r.Register(rule("a", "other")); err != nil {
		t.Fatalf("duplicate Register should not fail: %v", err)
	}

	got, _ := r.Lookup("a")
	if got != first {
		t.Error("first registration should win")
	}
	if err := r.CheckDependencies(); err != nil {
		t.Errorf("ignored rule dependencies should not be recorded: %v", err)
	}
}

func TestRegistry_RejectsCycle(t *testing.T) {
	r := testRegistry()
	_ = r.Register(rule("a", "b"))
	_ = r.Register(rule("b", "c"))

	err := r.Register(rule("c", "a"))
	if !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("Register error = %v, want ErrDependencyCycle", err)
	}

	var cycle *CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("error should be a *CycleError, got %T", err)
	}
	if want := []string{"c", "a", "b", "c"}; !slices.Equal(cycle.Path, want) {
		t.Errorf("cycle path = %v, want %v", cycle.Path, want)
	}
	if _, ok := r.Lookup("c"); ok {
		t.Error("rejected rule must not be registered")
	}
}

func TestRegistry_RejectsSelfDependency(t *testing.T) {
	r := testRegistry()
	err := r.Register(rule("a", "a"))

	var cycle *CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("Register error = %v, want *CycleError", err)
	}
	if !slices.Contains(cycle.Path, "a") {
		t.Errorf("cycle path %v should name a", cycle.Path)
	}
}

func TestRegistry_CheckDependencies(t *testing.T) {
	r := testRegistry()
	_ = r.Register(rule("a", "missing"))
	_ = r.Register(rule("b", "missing", "c"))
	_ = r.Register(rule("c"))

	err := r.CheckDependencies()
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("CheckDependencies error = %v, want ErrMissingDependency", err)
	}

	var missing *MissingDependencyError
	if !errors.As(err, &missing) {
		t.Fatalf("error should contain a *MissingDependencyError")
	}
	if missing.Dependency != "missing" {
		t.Errorf("Dependency = %q, want missing", missing.Dependency)
	}
	if !slices.Equal(missing.NeededBy, []string{"a", "b"}) {
		t.Errorf("NeededBy = %v, want [a b]", missing.NeededBy)
	}

	_ = r.Register(rule("missing"))
	if err := r.CheckDependencies(); err != nil {
		t.Errorf("CheckDependencies after registering = %v, want nil", err)
	}
}

func TestRegistry_LoadIsAtomic(t *testing.T) {
	r := testRegistry()
	if err := r.Load([]Rule{rule("a"), rule("b", "a")}); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	before := r.Snapshot()

	err := r.Load([]Rule{rule("x", "y")})
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("Load error = %v, want ErrMissingDependency", err)
	}
	if r.Snapshot() != before {
		t.Error("failed Load must keep the previous rule set")
	}

	if err := r.Load([]Rule{rule("x")}); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got := r.Keys(); !slices.Equal(got, []string{"x"}) {
		t.Errorf("Keys = %v, want [x]", got)
	}
	if before.Len() != 2 {
		t.Error("old snapshot must not change after reload")
	}
}

func TestRegistry_Clear(t *testing.T) {
	r := testRegistry()
	_ = r.Register(rule("a"))
	r.Clear()

	if len(r.Keys()) != 0 {
		t.Errorf("Keys after Clear = %v, want none", r.Keys())
	}
}
