package graph

import (
	"github.com/zclconf/go-cty/cty"
)

// InvocationKind distinguishes how a stage performs its work.
type InvocationKind int

const (
	// KindExec runs an external tool declared in a manifest. Success is a
	// zero exit code plus the presence of every declared output file.
	KindExec InvocationKind = iota
	// KindTransform calls a registered in-process handler.
	KindTransform
	// KindSubgraph runs an embedded child graph exposed as one opaque stage.
	KindSubgraph
)

// Invocation describes what a stage does when it runs. Exactly one of the
// fields relevant to Kind is set.
type Invocation struct {
	Kind InvocationKind

	// Tool is the manifest tool type for KindExec.
	Tool string
	// Transform is the registered handler type for KindTransform.
	Transform string
	// Sub is the frozen child graph for KindSubgraph.
	Sub *Graph
}

// Port is one named input or output slot on a stage.
type Port struct {
	Name string
	// Required marks an input that must be bound before Freeze. Output
	// ports ignore this field.
	Required bool
}

// BindingKind describes the producer of an input port's value.
type BindingKind int

const (
	// Unbound means no producer has been assigned yet.
	Unbound BindingKind = iota
	// Constant means the port carries a literal value fixed at build time.
	Constant
	// Upstream means the port consumes another stage's output port.
	Upstream
)

// Binding records the single producer of an input port.
type Binding struct {
	Kind  BindingKind
	Value cty.Value // Constant only
	Stage string    // Upstream only
	Port  string    // Upstream only
}

// Stage is a named unit of work with ordered, typed input and output ports
// and an invocation descriptor. Stages are mutated only through their owning
// graph before Freeze.
type Stage struct {
	Name       string
	Inputs     []Port
	Outputs    []Port
	Invocation Invocation

	bindings map[string]Binding
}

// NewStage creates a stage with the given port schema and invocation. All
// input ports start unbound.
func NewStage(name string, inputs, outputs []Port, inv Invocation) *Stage {
	s := &Stage{
		Name:       name,
		Inputs:     append([]Port(nil), inputs...),
		Outputs:    append([]Port(nil), outputs...),
		Invocation: inv,
		bindings:   make(map[string]Binding, len(inputs)),
	}
	return s
}

// ExecStage creates a stage backed by an external tool type.
func ExecStage(name, tool string, inputs, outputs []Port) *Stage {
	return NewStage(name, inputs, outputs, Invocation{Kind: KindExec, Tool: tool})
}

// TransformStage creates a stage backed by a registered handler type.
func TransformStage(name, transform string, inputs, outputs []Port) *Stage {
	return NewStage(name, inputs, outputs, Invocation{Kind: KindTransform, Transform: transform})
}

// In returns the input port with the given name, if declared.
func (s *Stage) In(name string) (Port, bool) {
	for _, p := range s.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// Out returns the output port with the given name, if declared.
func (s *Stage) Out(name string) (Port, bool) {
	for _, p := range s.Outputs {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// Binding returns the current binding of an input port. The zero Binding
// (Kind == Unbound) is returned for ports that have no producer yet.
func (s *Stage) Binding(port string) Binding {
	return s.bindings[port]
}

// clone returns a deep, independently bindable copy of the stage under a new
// name. Port schema and invocation carry over; the binding map is copied by
// value so the clone and its origin share no mutable state.
func (s *Stage) clone(newName string) *Stage {
	c := NewStage(newName, s.Inputs, s.Outputs, s.Invocation)
	for port, b := range s.bindings {
		c.bindings[port] = b
	}
	return c
}
