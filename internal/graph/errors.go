package graph

import (
	"fmt"
	"strings"
)

// PortBindingError reports an attempt to bind an input port that already has
// a producer, or to bind a port the stage does not declare.
type PortBindingError struct {
	Stage  string
	Port   string
	Reason string
}

// Error implements the error interface.
func (e *PortBindingError) Error() string {
	return fmt.Sprintf("port binding error on %s.%s: %s", e.Stage, e.Port, e.Reason)
}

// DanglingReferenceError reports a reference to a stage, or to an output
// port on a stage, that does not exist in the graph.
type DanglingReferenceError struct {
	Stage string
	Port  string
}

// Error implements the error interface.
func (e *DanglingReferenceError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("reference to nonexistent output port %s.%s", e.Stage, e.Port)
	}
	return fmt.Sprintf("stage not found in graph: %s", e.Stage)
}

// PortRef identifies one port on one stage.
type PortRef struct {
	Stage string
	Port  string
}

// String returns the dotted stage.port form.
func (r PortRef) String() string {
	return r.Stage + "." + r.Port
}

// ValidationError is returned by Freeze. It enumerates every required input
// port left without a producer and reports a dependency cycle if one exists.
type ValidationError struct {
	Unbound []PortRef
	Cycle   error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Unbound) > 0 {
		refs := make([]string, len(e.Unbound))
		for i, r := range e.Unbound {
			refs[i] = r.String()
		}
		parts = append(parts, fmt.Sprintf("unbound required ports: %s", strings.Join(refs, ", ")))
	}
	if e.Cycle != nil {
		parts = append(parts, e.Cycle.Error())
	}
	return "graph validation failed: " + strings.Join(parts, "; ")
}
