// Package dag provides a concurrency-safe dependency graph over registered
// module names, used to diagnose the declared dependency structure after
// script load. Dependencies in this engine are snapshot reads, not
// execution ordering, so a cycle is not fatal; the graph exists to surface
// cycles and dangling references as warnings.
package dag

import (
	"fmt"
	"sort"
	"sync"
)

// Graph is a collection of modules and their declared dependencies. All
// operations on the graph are concurrency-safe.
type Graph struct {
	mu sync.RWMutex
	// nodes stores all modules in the graph, keyed by name.
	nodes map[string]*node
}

// node is a single vertex. Un-exported so callers interact through module
// names, not struct internals.
type node struct {
	id string
	// deps holds the modules this module reads from (predecessors).
	deps map[string]*node
	// dependents holds the modules that read from this one (successors).
	dependents map[string]*node
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// AddNode adds a module to the graph. Adding an existing module is a no-op.
func (g *Graph) AddNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = &node{
		id:         id,
		deps:       make(map[string]*node),
		dependents: make(map[string]*node),
	}
}

// AddEdge records that `toID` declares a dependency on `fromID`. An error
// is returned if either module is absent or the edge is a self-reference.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("module %q declares a dependency on itself", fromID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("dependency target not present: %s", fromID)
	}
	toNode, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("dependent module not present: %s", toID)
	}

	toNode.deps[fromID] = fromNode
	fromNode.dependents[toID] = toNode
	return nil
}

// Dependencies returns the sorted names of modules the given module reads.
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("module not present: %s", id)
	}
	deps := make([]string, 0, len(n.deps))
	for depID := range n.deps {
		deps = append(deps, depID)
	}
	sort.Strings(deps)
	return deps, nil
}

// Dependents returns the sorted names of modules that read the given module.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("module not present: %s", id)
	}
	dependents := make([]string, 0, len(n.dependents))
	for depID := range n.dependents {
		dependents = append(dependents, depID)
	}
	sort.Strings(dependents)
	return dependents, nil
}

// DetectCycles checks the graph for dependency cycles. It returns a non-nil
// error naming the first module found on a cycle.
func (g *Graph) DetectCycles() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Classic depth-first search with three node sets:
	// permanent: fully visited, known cycle-free.
	// temporary: currently on the recursion stack.
	// unvisited: everything else.
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(n *node) error
	visit = func(n *node) error {
		if permanent[n.id] {
			return nil
		}
		if temporary[n.id] {
			return fmt.Errorf("dependency cycle detected involving module %q", n.id)
		}

		temporary[n.id] = true
		for _, dependent := range n.dependents {
			if err := visit(dependent); err != nil {
				return err
			}
		}
		delete(temporary, n.id)
		permanent[n.id] = true
		return nil
	}

	for _, n := range g.nodes {
		if !permanent[n.id] {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// FromEdges builds a graph from each module's declared dependency list and
// returns, alongside it, the declarations that reference modules which were
// never registered. Dangling references are not an error — they resolve to
// "absent" at snapshot time — but they are worth reporting.
func FromEdges(edges map[string][]string) (*Graph, []string) {
	g := New()
	for id := range edges {
		g.AddNode(id)
	}

	var dangling []string
	for id, deps := range edges {
		for _, dep := range deps {
			if err := g.AddEdge(dep, id); err != nil {
				dangling = append(dangling, fmt.Sprintf("%s -> %s", id, dep))
			}
		}
	}
	sort.Strings(dangling)
	return g, dangling
}
