// Package graph provides a small directed graph used for rule dependencies
// and supervised-item topology.
//
// Graph is not safe for concurrent mutation; callers build it once and then
// share it read-only, or guard it themselves.
package graph

import (
	"cmp"
	"slices"
)

// Graph is a directed graph over comparable node keys.
type Graph[K cmp.Ordered] struct {
	succ map[K]map[K]struct{}
	pred map[K]map[K]struct{}
}

// New creates an empty graph.
func New[K cmp.Ordered]() *Graph[K] {
	return &Graph[K]{
		succ: make(map[K]map[K]struct{}),
		pred: make(map[K]map[K]struct{}),
	}
}

// AddNode adds a node if it is not present yet.
func (g *Graph[K]) AddNode(n K) {
	if _, ok := g.succ[n]; ok {
		return
	}
	g.succ[n] = make(map[K]struct{})
	g.pred[n] = make(map[K]struct{})
}

// HasNode reports whether n is in the graph.
func (g *Graph[K]) HasNode(n K) bool {
	_, ok := g.succ[n]
	return ok
}

// AddEdge adds the edge from -> to, creating missing nodes.
func (g *Graph[K]) AddEdge(from, to K) {
	g.AddNode(from)
	g.AddNode(to)
	g.succ[from][to] = struct{}{}
	g.pred[to][from] = struct{}{}
}

// HasEdge reports whether the edge from -> to exists.
func (g *Graph[K]) HasEdge(from, to K) bool {
	_, ok := g.succ[from][to]
	return ok
}

// RemoveNode deletes n and every edge touching it.
func (g *Graph[K]) RemoveNode(n K) {
	for s := range g.succ[n] {
		delete(g.pred[s], n)
	}
	for p := range g.pred[n] {
		delete(g.succ[p], n)
	}
	delete(g.succ, n)
	delete(g.pred, n)
}

// Nodes returns every node, sorted.
func (g *Graph[K]) Nodes() []K {
	nodes := make([]K, 0, len(g.succ))
	for n := range g.succ {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)
	return nodes
}

// Len returns the number of nodes.
func (g *Graph[K]) Len() int {
	return len(g.succ)
}

// Successors returns the direct successors of n, sorted.
func (g *Graph[K]) Successors(n K) []K {
	return sortedKeys(g.succ[n])
}

// Predecessors returns the direct predecessors of n, sorted.
func (g *Graph[K]) Predecessors(n K) []K {
	return sortedKeys(g.pred[n])
}

// InDegree returns the number of edges pointing to n.
func (g *Graph[K]) InDegree(n K) int {
	return len(g.pred[n])
}

// ShortestPath returns the shortest path from -> to (both ends included),
// or nil when to is unreachable. The path of a node to itself is [n].
func (g *Graph[K]) ShortestPath(from, to K) []K {
	if !g.HasNode(from) || !g.HasNode(to) {
		return nil
	}
	if from == to {
		return []K{from}
	}

	parent := map[K]K{}
	visited := map[K]bool{from: true}
	queue := []K{from}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, s := range g.Successors(n) {
			if visited[s] {
				continue
			}
			visited[s] = true
			parent[s] = n
			if s == to {
				return buildPath(parent, from, to)
			}
			queue = append(queue, s)
		}
	}
	return nil
}

// Reachable returns every node reachable from n through successor edges,
// excluding n itself unless it sits on a cycle.
func (g *Graph[K]) Reachable(n K) []K {
	return g.walk(n, g.succ)
}

// Ancestors returns every node from which n is reachable.
func (g *Graph[K]) Ancestors(n K) []K {
	return g.walk(n, g.pred)
}

// BFS visits nodes breadth first along successor edges (or predecessor edges
// when reverse is set), starting from the neighbours of start. visit returns
// false to stop the walk from expanding past the visited node.
func (g *Graph[K]) BFS(start K, reverse bool, visit func(K) bool) {
	edges := g.succ
	if reverse {
		edges = g.pred
	}

	visited := map[K]bool{start: true}
	queue := sortedKeys(edges[start])
	for _, n := range queue {
		visited[n] = true
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if !visit(n) {
			continue
		}
		for _, next := range sortedKeys(edges[n]) {
			if visited[next] {
				continue
			}
			visited[next] = true
			queue = append(queue, next)
		}
	}
}

// Clone returns a deep copy of the graph.
func (g *Graph[K]) Clone() *Graph[K] {
	c := New[K]()
	for n, succ := range g.succ {
		c.AddNode(n)
		for s := range succ {
			c.AddEdge(n, s)
		}
	}
	return c
}

func (g *Graph[K]) walk(n K, edges map[K]map[K]struct{}) []K {
	var out []K
	seen := map[K]bool{}
	stack := sortedKeys(edges[n])
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		for next := range edges[cur] {
			if !seen[next] {
				stack = append(stack, next)
			}
		}
	}
	slices.Sort(out)
	return out
}

func buildPath[K cmp.Ordered](parent map[K]K, from, to K) []K {
	path := []K{to}
	for cur := to; cur != from; {
		cur = parent[cur]
		path = append(path, cur)
	}
	slices.Reverse(path)
	return path
}

func sortedKeys[K cmp.Ordered](m map[K]struct{}) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
