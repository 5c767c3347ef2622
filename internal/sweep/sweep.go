// Package sweep implements parameter dimensions attached to source stages
// and the deterministic cross product of run contexts enumerated from them.
package sweep

import (
	"fmt"
	"strings"
)

// Dimension is one independent axis of repetition: a name plus an ordered,
// deduplicated value sequence.
type Dimension struct {
	Name   string
	Values []string
}

// Assignment pins one dimension to one of its values.
type Assignment struct {
	Dimension string
	Value     string
}

// Context is one concrete assignment of values to all attached dimensions,
// in declared dimension order.
type Context struct {
	assignments []Assignment
}

// Value returns the context's value for the named dimension.
func (c Context) Value(dimension string) (string, bool) {
	for _, a := range c.assignments {
		if a.Dimension == dimension {
			return a.Value, true
		}
	}
	return "", false
}

// Assignments returns the context's assignments in declared dimension order.
func (c Context) Assignments() []Assignment {
	return append([]Assignment(nil), c.assignments...)
}

// Tags returns the context's path segments in declared dimension order, in
// the underscore-delimited form the output router rewrites through its sink
// rules (for example "_hemi_lh").
func (c Context) Tags() []string {
	tags := make([]string, len(c.assignments))
	for i, a := range c.assignments {
		tags[i] = "_" + a.Dimension + "_" + a.Value
	}
	return tags
}

// String renders the context for logging.
func (c Context) String() string {
	parts := make([]string, len(c.assignments))
	for i, a := range c.assignments {
		parts[i] = a.Dimension + "=" + a.Value
	}
	return strings.Join(parts, " ")
}

// Expander collects dimensions and the source stages they parameterize, and
// materializes the cross product of run contexts.
type Expander struct {
	dims    []Dimension
	sources map[string][]string
}

// NewExpander returns an empty expander.
func NewExpander() *Expander {
	return &Expander{sources: make(map[string][]string)}
}

// Attach registers a dimension and the source stages it parameterizes. The
// value sequence is deduplicated preserving first occurrence; attaching the
// same dimension name twice is an error since dimensions are independent.
func (e *Expander) Attach(d Dimension, sourceStages ...string) error {
	if d.Name == "" {
		return fmt.Errorf("dimension must have a name")
	}
	for _, existing := range e.dims {
		if existing.Name == d.Name {
			return fmt.Errorf("dimension already attached: %s", d.Name)
		}
	}
	if len(d.Values) == 0 {
		return fmt.Errorf("dimension %s has no values", d.Name)
	}

	seen := make(map[string]bool, len(d.Values))
	var values []string
	for _, v := range d.Values {
		if !seen[v] {
			seen[v] = true
			values = append(values, v)
		}
	}

	e.dims = append(e.dims, Dimension{Name: d.Name, Values: values})
	e.sources[d.Name] = append([]string(nil), sourceStages...)
	return nil
}

// Dimensions returns the attached dimensions in declared order.
func (e *Expander) Dimensions() []Dimension {
	return append([]Dimension(nil), e.dims...)
}

// Sources returns the source stages a dimension was attached to.
func (e *Expander) Sources(dimension string) []string {
	return append([]string(nil), e.sources[dimension]...)
}

// Expand materializes every run context: the cross product of all attached
// dimensions' value sequences, enumerated with the first-declared dimension
// outermost and each sequence in its original order. With no dimensions
// attached a single empty context is returned.
func (e *Expander) Expand() []Context {
	contexts := []Context{{}}
	for _, d := range e.dims {
		next := make([]Context, 0, len(contexts)*len(d.Values))
		for _, c := range contexts {
			for _, v := range d.Values {
				assignments := append(append([]Assignment(nil), c.assignments...),
					Assignment{Dimension: d.Name, Value: v})
				next = append(next, Context{assignments: assignments})
			}
		}
		contexts = next
	}
	return contexts
}
