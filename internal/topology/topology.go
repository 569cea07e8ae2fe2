// Package topology holds the dependency graph between supervised items and
// the high-level services (HLS) built on top of them.
//
// Edges point from a dependency to its dependent: if host2 relies on
// host1, the graph holds host1 -> host2. The graph is read-only once
// loaded.
package topology

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"correlator/internal/config"
	"correlator/internal/graph"
	"correlator/internal/store"
)

// HLS is a high-level service.
type HLS struct {
	ID    int64
	Name  string
	items map[int64]struct{}
}

// Topology is the supervised-item graph plus the HLS catalogue.
type Topology struct {
	g   *graph.Graph[int64]
	hls []*HLS
}

// New creates an empty topology.
func New() *Topology {
	return &Topology{g: graph.New[int64]()}
}

// Load builds the topology from configuration, resolving item names
// ("host" or "host/service") to supervised item ids.
func Load(ctx context.Context, cfg config.TopologyConfig, items store.SupItemRepository) (*Topology, error) {
	t := New()

	resolve := func(name string) (int64, error) {
		host, service, _ := strings.Cut(name, "/")
		item, err := items.Resolve(ctx, host, service)
		if err != nil {
			return 0, fmt.Errorf("failed to resolve topology item %q: %w", name, err)
		}
		return item.ID, nil
	}

	for _, dep := range cfg.Dependencies {
		dependent, err := resolve(dep.Item)
		if err != nil {
			return nil, err
		}
		t.g.AddNode(dependent)
		for _, name := range dep.DependsOn {
			dependency, err := resolve(name)
			if err != nil {
				return nil, err
			}
			t.AddDependency(dependency, dependent)
		}
	}

	for i, h := range cfg.HLS {
		ids := make([]int64, 0, len(h.Items))
		for _, name := range h.Items {
			id, err := resolve(name)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		t.AddHLS(int64(i+1), h.Name, ids...)
	}

	return t, nil
}

// AddDependency records that dependent relies on dependency.
func (t *Topology) AddDependency(dependency, dependent int64) {
	t.g.AddEdge(dependency, dependent)
}

// AddHLS registers a high-level service relying on the given items.
func (t *Topology) AddHLS(id int64, name string, items ...int64) {
	h := &HLS{ID: id, Name: name, items: make(map[int64]struct{}, len(items))}
	for _, item := range items {
		h.items[item] = struct{}{}
	}
	t.hls = append(t.hls, h)
}

// Dependencies returns the items an item directly relies on.
func (t *Topology) Dependencies(item int64) []int64 {
	return t.g.Predecessors(item)
}

// Dependents returns the items directly relying on an item.
func (t *Topology) Dependents(item int64) []int64 {
	return t.g.Successors(item)
}

// Walk visits items breadth first away from item, towards dependencies
// when upstream is set and towards dependents otherwise. visit returns
// false to stop the walk from going past an item.
func (t *Topology) Walk(item int64, upstream bool, visit func(int64) bool) {
	t.g.BFS(item, upstream, visit)
}

// ImpactedHLS returns the ids of the services an outage of item impacts:
// those relying on the item or on anything that depends on it.
func (t *Topology) ImpactedHLS(item int64) []int64 {
	affected := map[int64]struct{}{item: {}}
	for _, dependent := range t.g.Reachable(item) {
		affected[dependent] = struct{}{}
	}

	var ids []int64
	for _, h := range t.hls {
		for member := range h.items {
			if _, ok := affected[member]; ok {
				ids = append(ids, h.ID)
				break
			}
		}
	}
	slices.Sort(ids)
	return ids
}

// HLSNames maps service ids to names, skipping unknown ids.
func (t *Topology) HLSNames(ids []int64) []string {
	var names []string
	for _, id := range ids {
		for _, h := range t.hls {
			if h.ID == id {
				names = append(names, h.Name)
				break
			}
		}
	}
	return names
}
