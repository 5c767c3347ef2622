// Package graph implements the mutable stage graph that backs one pipeline:
// named stages with typed ports, constant or upstream port bindings,
// hierarchical embedding, and freeze-time validation.
package graph

import (
	"fmt"
	"sync"

	"github.com/zclconf/go-cty/cty"
)

// Graph is a directed acyclic graph of stages. It is mutable until Freeze
// succeeds, after which every mutator returns an error.
type Graph struct {
	mutex  sync.RWMutex
	name   string
	stages map[string]*Stage
	// order preserves insertion order so freezes and renderings are
	// deterministic across runs.
	order  []string
	frozen bool
	topo   []string
}

// New creates and returns an initialized, empty graph with the given name.
func New(name string) *Graph {
	return &Graph{
		name:   name,
		stages: make(map[string]*Stage),
	}
}

// Name returns the graph's name.
func (g *Graph) Name() string { return g.name }

// Frozen reports whether Freeze has completed successfully.
func (g *Graph) Frozen() bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.frozen
}

// AddStage adds a stage to the graph. Duplicate names are rejected.
func (g *Graph) AddStage(s *Stage) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.frozen {
		return fmt.Errorf("graph %s is frozen", g.name)
	}
	if _, ok := g.stages[s.Name]; ok {
		return fmt.Errorf("duplicate stage name: %s", s.Name)
	}
	g.stages[s.Name] = s
	g.order = append(g.order, s.Name)
	return nil
}

// Stage returns the named stage, if present.
func (g *Graph) Stage(name string) (*Stage, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	s, ok := g.stages[name]
	return s, ok
}

// Stages returns all stages in insertion order.
func (g *Graph) Stages() []*Stage {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	out := make([]*Stage, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.stages[name])
	}
	return out
}

// Connect wires srcStage's output port to dstStage's input port. The
// destination port must exist, must not already have a producer, and both
// stages must already be members of the graph.
func (g *Graph) Connect(srcStage, srcPort, dstStage, dstPort string) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.frozen {
		return fmt.Errorf("graph %s is frozen", g.name)
	}
	src, ok := g.stages[srcStage]
	if !ok {
		return &DanglingReferenceError{Stage: srcStage}
	}
	dst, ok := g.stages[dstStage]
	if !ok {
		return &DanglingReferenceError{Stage: dstStage}
	}
	if _, ok := src.Out(srcPort); !ok {
		return &PortBindingError{Stage: srcStage, Port: srcPort, Reason: "no such output port"}
	}
	if _, ok := dst.In(dstPort); !ok {
		return &PortBindingError{Stage: dstStage, Port: dstPort, Reason: "no such input port"}
	}
	if b := dst.bindings[dstPort]; b.Kind != Unbound {
		return &PortBindingError{Stage: dstStage, Port: dstPort, Reason: "port already bound"}
	}

	dst.bindings[dstPort] = Binding{Kind: Upstream, Stage: srcStage, Port: srcPort}
	return nil
}

// BindConstant fixes an input port to a literal value.
func (g *Graph) BindConstant(stage, port string, value cty.Value) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.frozen {
		return fmt.Errorf("graph %s is frozen", g.name)
	}
	s, ok := g.stages[stage]
	if !ok {
		return &DanglingReferenceError{Stage: stage}
	}
	if _, ok := s.In(port); !ok {
		return &PortBindingError{Stage: stage, Port: port, Reason: "no such input port"}
	}
	if b := s.bindings[port]; b.Kind != Unbound {
		return &PortBindingError{Stage: stage, Port: port, Reason: "port already bound"}
	}

	s.bindings[port] = Binding{Kind: Constant, Value: value}
	return nil
}

// Clone copies an existing stage under a new name and adds the copy to the
// graph. The clone shares the origin's port schema and invocation but owns
// independent bindings, so rewiring one never affects the other.
func (g *Graph) Clone(stage, newName string) (*Stage, error) {
	g.mutex.Lock()
	origin, ok := g.stages[stage]
	if !ok {
		g.mutex.Unlock()
		return nil, &DanglingReferenceError{Stage: stage}
	}
	g.mutex.Unlock()

	c := origin.clone(newName)
	if err := g.AddStage(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Embed adds a child graph to this graph as a single opaque stage. The child
// is validated and frozen if the caller has not frozen it yet, with required
// inputs allowed to stay unbound: those and every child output are exposed on
// the composite stage, each namespaced as "stage.port", for this graph to
// wire.
func (g *Graph) Embed(child *Graph, asStageName string) (*Stage, error) {
	if !child.Frozen() {
		if err := child.freezeEmbedded(); err != nil {
			return nil, fmt.Errorf("cannot embed graph %s: %w", child.Name(), err)
		}
	}

	var inputs, outputs []Port
	for _, s := range child.Stages() {
		for _, p := range s.Inputs {
			if p.Required && s.bindings[p.Name].Kind == Unbound {
				inputs = append(inputs, Port{Name: s.Name + "." + p.Name, Required: true})
			}
		}
		for _, p := range s.Outputs {
			outputs = append(outputs, Port{Name: s.Name + "." + p.Name})
		}
	}

	stage := NewStage(asStageName, inputs, outputs, Invocation{Kind: KindSubgraph, Sub: child})
	if err := g.AddStage(stage); err != nil {
		return nil, err
	}
	return stage, nil
}

// Dependencies returns the names of stages that directly feed the given
// stage, deduplicated, in input-port order.
func (g *Graph) Dependencies(stage string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	s, ok := g.stages[stage]
	if !ok {
		return nil, &DanglingReferenceError{Stage: stage}
	}
	seen := make(map[string]bool)
	var deps []string
	for _, p := range s.Inputs {
		b := s.bindings[p.Name]
		if b.Kind == Upstream && !seen[b.Stage] {
			seen[b.Stage] = true
			deps = append(deps, b.Stage)
		}
	}
	return deps, nil
}

// Dependents returns the names of stages that directly consume any output of
// the given stage, in insertion order.
func (g *Graph) Dependents(stage string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	if _, ok := g.stages[stage]; !ok {
		return nil, &DanglingReferenceError{Stage: stage}
	}
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
	return dependents, nil
}
