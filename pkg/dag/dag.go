// Package dag builds the dependency graph over model names. An edge
// A → B exists when B references or declares A and A is itself a known
// model; references to unknown tables are tracked as externals.
package dag

import (
	"fmt"
	"sort"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

// Graph is a directed acyclic graph of model names.
type Graph struct {
	// downstream[A] = models that consume A.
	downstream map[string][]string
	// upstream[B] = models B consumes.
	upstream map[string][]string
	// externals are referenced tables that are not models.
	externals []string
	nodes     []string
}

// CycleError reports a dependency cycle through the named models.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dag: dependency cycle through %v", e.Members)
}

// Build constructs the graph from a model set.
func Build(models map[string]*contracts.ModelDefinition) (*Graph, error) {
	g := &Graph{
		downstream: make(map[string][]string),
		upstream:   make(map[string][]string),
	}

	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	g.nodes = names

	externalSeen := make(map[string]bool)
	for _, name := range names {
		m := models[name]
		parentSeen := make(map[string]bool)
		for _, ref := range append(append([]string{}, m.ReferencedTables...), m.Dependencies...) {
			if ref == name || parentSeen[ref] {
				continue
			}
			if _, known := models[ref]; !known {
				if !externalSeen[ref] {
					externalSeen[ref] = true
					g.externals = append(g.externals, ref)
				}
				continue
			}
			parentSeen[ref] = true
			g.upstream[name] = append(g.upstream[name], ref)
			g.downstream[ref] = append(g.downstream[ref], name)
		}
		sort.Strings(g.upstream[name])
	}
	for _, parents := range g.downstream {
		sort.Strings(parents)
	}
	sort.Strings(g.externals)

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{Members: cycle}
	}
	return g, nil
}

// Nodes returns all model names in alphabetical order.
func (g *Graph) Nodes() []string { return g.nodes }

// Upstream returns the direct parents of a model, sorted.
func (g *Graph) Upstream(name string) []string { return g.upstream[name] }

// Downstream returns the direct children of a model, sorted.
func (g *Graph) Downstream(name string) []string { return g.downstream[name] }

// Externals returns referenced tables that are not models, sorted.
func (g *Graph) Externals() []string { return g.externals }

// TransitiveDownstream walks breadth-first from the given roots and
// returns every model reachable through downstream edges, including
// the roots themselves, in alphabetical order.
func (g *Graph) TransitiveDownstream(roots []string) []string {
	visited := make(map[string]bool)
	queue := append([]string{}, roots...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if visited[name] {
			continue
		}
		visited[name] = true
		queue = append(queue, g.downstream[name]...)
	}

	out := make([]string, 0, len(visited))
	for name := range visited {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Layer returns the topological layer of each model restricted to the
// given set: a model's layer is 1 + max(layer of its in-set parents),
// or 0 with no in-set parents. Models in the same layer never depend
// on each other.
func (g *Graph) Layer(inSet map[string]bool) map[string]int {
	layers := make(map[string]int, len(inSet))

	var resolve func(name string) int
	resolve = func(name string) int {
		if l, done := layers[name]; done {
			return l
		}
		layer := 0
		for _, parent := range g.upstream[name] {
			if !inSet[parent] {
				continue
			}
			if pl := resolve(parent) + 1; pl > layer {
				layer = pl
			}
		}
		layers[name] = layer
		return layer
	}

	for name := range inSet {
		resolve(name)
	}
	return layers
}

// findCycle returns the members of one dependency cycle, or nil.
func (g *Graph) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		color[name] = gray
		stack = append(stack, name)
		for _, child := range g.downstream[name] {
			switch color[child] {
			case white:
				if cycle := visit(child); cycle != nil {
					return cycle
				}
			case gray:
				// Slice the stack from the first occurrence of child.
				for i, n := range stack {
					if n == child {
						return append([]string{}, stack[i:]...)
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	for _, name := range g.nodes {
		if color[name] == white {
			if cycle := visit(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
