package graph

import (
	"fmt"
)

// Freeze validates the graph and makes it immutable. Validation checks that
// every required input port has a producer and that the edge relation is
// acyclic; all unresolved ports are collected into one ValidationError rather
// than failing on the first. On success the topological order is computed and
// cached for the executor.
func (g *Graph) Freeze() error {
	return g.freeze(false)
}

// freezeEmbedded validates and freezes a graph destined for embedding.
// Required inputs may stay unbound here: Embed exposes them as ports on the
// composite stage, and the root graph's Freeze holds the parent to binding
// them.
func (g *Graph) freezeEmbedded() error {
	return g.freeze(true)
}

func (g *Graph) freeze(allowUnbound bool) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.frozen {
		return nil
	}

	verr := &ValidationError{}
	for _, name := range g.order {
		s := g.stages[name]
		for _, p := range s.Inputs {
			b := s.bindings[p.Name]
			if p.Required && b.Kind == Unbound && !allowUnbound {
				verr.Unbound = append(verr.Unbound, PortRef{Stage: name, Port: p.Name})
			}
			if b.Kind == Upstream {
				up, ok := g.stages[b.Stage]
				if !ok {
					return &DanglingReferenceError{Stage: b.Stage}
				}
				if _, ok := up.Out(b.Port); !ok {
					return &DanglingReferenceError{Stage: b.Stage, Port: b.Port}
				}
			}
		}
	}

	if err := g.detectCycles(); err != nil {
		verr.Cycle = err
	}

	if len(verr.Unbound) > 0 || verr.Cycle != nil {
		return verr
	}

	g.topo = g.topoOrder()
	g.frozen = true
	return nil
}

// TopoOrder returns the cached topological order of stage names computed at
// Freeze. It is nil for unfrozen graphs.
func (g *Graph) TopoOrder() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return append([]string(nil), g.topo...)
}

// detectCycles checks the graph for any cycles. It returns a non-nil error
// if a cycle is found, indicating the first stage involved in the detected
// cycle. Callers must hold the mutex.
func (g *Graph) detectCycles() error {
	// Classic depth-first search with three sets of stages:
	// permanent: stages fully visited and known not to be part of a cycle.
	// temporary: stages currently on the recursion stack.
	// unvisited: everything else.
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(name string) error
	visit = func(name string) error {
		if permanent[name] {
			return nil
		}
		if temporary[name] {
			return fmt.Errorf("cycle detected involving stage '%s'", name)
		}
		temporary[name] = true

		for _, dep := range g.dependentsLocked(name) {
			if err := visit(dep); err != nil {
				return err
			}
		}

		delete(temporary, name)
		permanent[name] = true
		return nil
	}

	for _, name := range g.order {
		if !permanent[name] {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// dependentsLocked mirrors Dependents without taking the mutex.
func (g *Graph) dependentsLocked(stage string) []string {
	var dependents []string
	for _, name := range g.order {
		s := g.stages[name]
		for _, p := range s.Inputs {
			if b := s.bindings[p.Name]; b.Kind == Upstream && b.Stage == stage {
				dependents = append(dependents, name)
				break
			}
		}
	}
	return dependents
}

// topoOrder computes a deterministic linear extension of the dependency
// partial order using Kahn's algorithm with insertion-order tie breaking.
// Callers must hold the mutex and have already verified acyclicity.
func (g *Graph) topoOrder() []string {
	indegree := make(map[string]int, len(g.order))
	for _, name := range g.order {
		s := g.stages[name]
		seen := make(map[string]bool)
		for _, p := range s.Inputs {
			if b := s.bindings[p.Name]; b.Kind == Upstream && !seen[b.Stage] {
				seen[b.Stage] = true
				indegree[name]++
			}
		}
	}

	var order []string
	ready := make([]string, 0, len(g.order))
	for _, name := range g.order {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, dep := range g.dependentsLocked(name) {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	return order
}
