// Package graph builds and orders the model-run dependency graph:
// model nodes, typed dependency edges, Tarjan cycle detection over
// CURRENT edges and a deterministic topological order.
package graph

import (
	"sort"

	"github.com/addrummond/heap"

	"github.com/nismod/smif/internal/model"
)

// Edge is one dependency between two nodes, tagged with the variable
// names it couples and its timestep offset.
type Edge struct {
	Source       string
	Sink         string
	SourceOutput string
	SinkInput    string
	Offset       model.Offset
}

// DependencyGraph is the job graph that each timestep's jobs run over.
// Nodes are model names; edges carry the dependency typing. The runner
// builds it once per model run and the decision loop reuses it for
// every timestep; it is not rebuilt between timesteps. PREVIOUS edges
// are held apart from the CURRENT adjacency so they never participate
// in ordering or cycle checks.
type DependencyGraph struct {
	nodes []string // sorted
	edges []Edge

	// current maps source -> sinks over CURRENT edges only.
	current map[string][]string

	// predecessors maps sink -> sources over CURRENT edges only.
	predecessors map[string][]string

	// lagged holds the PREVIOUS-offset edges.
	lagged []Edge
}

// Build constructs the graph from a composed SosModel and rejects
// CURRENT-edge cycles. Scenario models are nodes like any other; they
// end up as roots since nothing feeds them.
func Build(sos model.SosModel) (*DependencyGraph, error) {
	g := &DependencyGraph{
		nodes:        sos.ModelNames(),
		current:      make(map[string][]string),
		predecessors: make(map[string][]string),
	}
	for _, name := range g.nodes {
		g.current[name] = nil
		g.predecessors[name] = nil
	}

	for _, dep := range sos.Dependencies() {
		edge := Edge{
			Source:       dep.Source,
			Sink:         dep.Sink,
			SourceOutput: dep.SourceOutput,
			SinkInput:    dep.SinkInput,
			Offset:       dep.Offset(),
		}
		g.edges = append(g.edges, edge)
		if edge.Offset == model.OffsetPrevious {
			g.lagged = append(g.lagged, edge)
			continue
		}
		g.current[edge.Source] = append(g.current[edge.Source], edge.Sink)
		g.predecessors[edge.Sink] = append(g.predecessors[edge.Sink], edge.Source)
	}
	for name := range g.current {
		sort.Strings(g.current[name])
	}
	for name := range g.predecessors {
		sort.Strings(g.predecessors[name])
	}

	if err := g.checkCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkCycles rejects any strongly connected component of size > 1 and
// any CURRENT self-loop.
func (g *DependencyGraph) checkCycles() error {
	for _, scc := range tarjanSCC(g.nodes, g.current) {
		if len(scc) > 1 || hasSelfLoop(scc[0], g.current) {
			// Tarjan emits members in reverse visit order; sort so the
			// reported path starts at the lexicographically first node.
			sort.Strings(scc)
			return &CircularDependencyError{Cycle: reconstructCyclePath(scc, g.current)}
		}
	}
	return nil
}

// Nodes returns every model name, sorted.
func (g *DependencyGraph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// Edges returns every dependency edge, PREVIOUS edges included.
func (g *DependencyGraph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// LaggedEdges returns the PREVIOUS-offset edges.
func (g *DependencyGraph) LaggedEdges() []Edge {
	return append([]Edge(nil), g.lagged...)
}

// CurrentPredecessors returns the CURRENT-edge predecessors of a node,
// sorted, duplicates removed.
func (g *DependencyGraph) CurrentPredecessors(name string) []string {
	return dedupSorted(g.predecessors[name])
}

// CurrentSuccessors returns the CURRENT-edge successors of a node,
// sorted, duplicates removed.
func (g *DependencyGraph) CurrentSuccessors(name string) []string {
	return dedupSorted(g.current[name])
}

// Roots returns the nodes with no incoming CURRENT edges, typically
// the scenario models.
func (g *DependencyGraph) Roots() []string {
	var roots []string
	for _, name := range g.nodes {
		if len(g.predecessors[name]) == 0 {
			roots = append(roots, name)
		}
	}
	return roots
}

// Descendants returns the strict descendants of a node under CURRENT
// edges: every node whose execution is gated, directly or
// transitively, on the given node.
func (g *DependencyGraph) Descendants(name string) map[string]bool {
	descendants := make(map[string]bool)
	stack := append([]string(nil), g.current[name]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if descendants[n] {
			continue
		}
		descendants[n] = true
		stack = append(stack, g.current[n]...)
	}
	delete(descendants, name)
	return descendants
}

// nodeName adapts a model name to the heap's Orderable contract.
type nodeName string

func (a *nodeName) Cmp(b *nodeName) int {
	switch {
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	}
	return 0
}

// TopoOrder returns a deterministic topological order of the CURRENT
// subgraph: Kahn's algorithm with a lexicographic min-heap over the
// ready set, so equal-rank nodes always run in name order.
func (g *DependencyGraph) TopoOrder() []string {
	indegree := make(map[string]int, len(g.nodes))
	for _, name := range g.nodes {
		indegree[name] = len(dedupSorted(g.predecessors[name]))
	}

	var ready heap.Heap[nodeName, heap.Min]
	for _, name := range g.nodes {
		if indegree[name] == 0 {
			heap.PushOrderable(&ready, nodeName(name))
		}
	}

	order := make([]string, 0, len(g.nodes))
	for {
		next, ok := heap.PopOrderable(&ready)
		if !ok {
			break
		}
		name := string(next)
		order = append(order, name)
		for _, sink := range dedupSorted(g.current[name]) {
			indegree[sink]--
			if indegree[sink] == 0 {
				heap.PushOrderable(&ready, nodeName(sink))
			}
		}
	}
	return order
}

func dedupSorted(sorted []string) []string {
	var out []string
	for i, s := range sorted {
		if i == 0 || sorted[i-1] != s {
			out = append(out, s)
		}
	}
	return out
}
