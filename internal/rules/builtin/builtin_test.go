package builtin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"correlator/internal/config"
	"correlator/internal/ctxstore"
	ctxmemory "correlator/internal/ctxstore/memory"
	"correlator/internal/domain"
	"correlator/internal/rules"
	"correlator/internal/store/memory"
	"correlator/internal/topology"
)

type fixture struct {
	store      *ctxstore.Store
	items      *memory.SupItemRepository
	events     *memory.EventRepository
	corrEvents *memory.CorrEventRepository
	deps       Deps
}

func newFixture(t *testing.T, cfg config.CorrelatorConfig) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	items := memory.NewSupItemRepository()
	events := memory.NewEventRepository()
	corrEvents := memory.NewCorrEventRepository(events)
	store := ctxstore.New(ctxmemory.NewBackend(), ctxstore.Options{}, logger)

	topo, err := topology.Load(context.Background(), config.TopologyConfig{
		Dependencies: []config.DependencyConfig{
			{Item: "app", DependsOn: []string{"router"}},
		},
		HLS: []config.HLSConfig{
			{Name: "shop", Items: []string{"app"}},
		},
	}, items)
	if err != nil {
		t.Fatalf("topology.Load error: %v", err)
	}

	return &fixture{
		store:      store,
		items:      items,
		events:     events,
		corrEvents: corrEvents,
		deps: Deps{
			Context: store,
			Lookup:  topology.NewLookup(topo, store, events, corrEvents, logger),
			Config:  cfg,
			Logger:  logger,
		},
	}
}

// alert seeds the Context of a new alert as the processor would.
func (f *fixture) alert(t *testing.T, id, host, service string, state domain.State) *ctxstore.Context {
	t.Helper()
	ctx := context.Background()
	item, err := f.items.Resolve(ctx, host, service)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	c := f.store.For(id)
	if err := c.SetSupItemID(ctx, item.ID); err != nil {
		t.Fatal(err)
	}
	msg := &domain.Message{Type: domain.MessageTypeEvent, Host: host, Service: service, State: state, Timestamp: time.Now()}
	if err := c.SetMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	return c
}

func (f *fixture) rule(t *testing.T, name string) rules.Rule {
	t.Helper()
	built, err := Build([]config.RuleConfig{{Name: name}}, f.deps)
	if err != nil {
		t.Fatalf("Build(%s) error: %v", name, err)
	}
	return built[0]
}

type busRecorder struct {
	payloads [][]byte
}

func (b *busRecorder) SendToBus(_ context.Context, payload []byte) error {
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *busRecorder) RegisterCallback(rules.PostCorrelationFunc) {}

func TestBuild_DefaultRules(t *testing.T) {
	f := newFixture(t, config.CorrelatorConfig{})

	built, err := Build(config.DefaultRules(), f.deps)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}

	registry := rules.NewRegistry(f.deps.Logger)
	if err := registry.Load(built); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	hls, _ := registry.Lookup(HLSRule)
	if !slices.Equal(hls.Depends(), []string{TopologyRule}) {
		t.Errorf("hls depends = %v, want [topology]", hls.Depends())
	}
}

func TestBuild_UnknownRule(t *testing.T) {
	f := newFixture(t, config.CorrelatorConfig{})
	_, err := Build([]config.RuleConfig{{Name: "crystal-ball"}}, f.deps)
	if !errors.Is(err, ErrUnknownRule) {
		t.Errorf("Build error = %v, want ErrUnknownRule", err)
	}
}

func TestTopology_WritesUpstreamIncident(t *testing.T) {
	f := newFixture(t, config.CorrelatorConfig{})
	ctx := context.Background()

	router, _ := f.items.Resolve(ctx, "router", "")
	ev := &domain.Event{SupItemID: router.ID, CurrentState: domain.StateDown, Timestamp: time.Now()}
	if err := f.events.Create(ctx, ev); err != nil {
		t.Fatal(err)
	}
	ce := domain.NewCorrEvent(ev.ID, 1, time.Now())
	if err := f.corrEvents.Create(ctx, ce); err != nil {
		t.Fatal(err)
	}
	if err := f.store.SetOpenAggregate(ctx, router.ID, ce.ID); err != nil {
		t.Fatal(err)
	}

	c := f.alert(t, "a1", "app", "", domain.StateUnreachable)
	if err := f.rule(t, TopologyRule).Process(ctx, nil, "a1"); err != nil {
		t.Fatalf("Process error: %v", err)
	}

	preds, err := c.PredecessorsAggregates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(preds, []int64{ce.ID}) {
		t.Errorf("predecessors = %v, want [%d]", preds, ce.ID)
	}
	succs, _ := c.SuccessorsAggregates(ctx)
	if len(succs) != 0 {
		t.Errorf("successors = %v, want none", succs)
	}
}

func TestTopology_SkipsResolvedState(t *testing.T) {
	f := newFixture(t, config.CorrelatorConfig{})
	ctx := context.Background()

	c := f.alert(t, "a1", "app", "", domain.StateUp)
	if err := f.rule(t, TopologyRule).Process(ctx, nil, "a1"); err != nil {
		t.Fatalf("Process error: %v", err)
	}

	var preds []int64
	found, _ := c.Get(ctx, ctxstore.FieldPredecessorsAggregates, &preds)
	if found {
		t.Errorf("predecessors should not be written for a resolved state, got %v", preds)
	}
}

func TestPriority(t *testing.T) {
	f := newFixture(t, config.CorrelatorConfig{Priorities: map[string]int{"down": 1, "WARNING": 3}})
	ctx := context.Background()
	rule := f.rule(t, PriorityRule)

	tests := []struct {
		state     domain.State
		want      int
		wantFound bool
	}{
		{state: domain.StateDown, want: 1, wantFound: true},
		{state: domain.StateWarning, want: 3, wantFound: true},
		{state: domain.StateCritical, wantFound: false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			id := "alert-" + tt.state.String()
			c := f.alert(t, id, "app", "http", tt.state)
			if err := rule.Process(ctx, nil, id); err != nil {
				t.Fatalf("Process error: %v", err)
			}
			got, found, err := c.Priority(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if found != tt.wantFound || got != tt.want {
				t.Errorf("Priority = %d, %v; want %d, %v", got, found, tt.want, tt.wantFound)
			}
		})
	}
}

func TestHLS(t *testing.T) {
	f := newFixture(t, config.CorrelatorConfig{})
	ctx := context.Background()

	c := f.alert(t, "a1", "router", "", domain.StateDown)
	if err := f.rule(t, HLSRule).Process(ctx, nil, "a1"); err != nil {
		t.Fatalf("Process error: %v", err)
	}

	ids, err := c.ImpactedHLS(ctx)
	if err != nil {
		t.Fatal(err)
	}
	names := f.deps.Lookup.Topology().HLSNames(ids)
	if !slices.Equal(names, []string{"shop"}) {
		t.Errorf("impacted hls = %v, want [shop]", names)
	}
}

func TestSilence(t *testing.T) {
	f := newFixture(t, config.CorrelatorConfig{Silenced: []string{"lab", "app/backup"}})
	ctx := context.Background()
	rule := f.rule(t, SilenceRule)

	tests := []struct {
		name    string
		host    string
		service string
		want    bool
	}{
		{name: "silenced host", host: "lab", want: true},
		{name: "service of silenced host", host: "lab", service: "ssh", want: true},
		{name: "silenced service", host: "app", service: "backup", want: true},
		{name: "other service", host: "app", service: "http", want: false},
		{name: "host of silenced service", host: "app", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.host + "/" + tt.service
			c := f.alert(t, id, tt.host, tt.service, domain.StateCritical)
			bus := &busRecorder{}
			if err := rule.Process(ctx, bus, id); err != nil {
				t.Fatalf("Process error: %v", err)
			}
			got, err := c.NoAlert(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("NoAlert = %v, want %v", got, tt.want)
			}
			if tt.want && len(bus.payloads) != 1 {
				t.Errorf("sent %d notices, want 1", len(bus.payloads))
			}
			if !tt.want && len(bus.payloads) != 0 {
				t.Errorf("sent %d notices, want none", len(bus.payloads))
			}
		})
	}
}
