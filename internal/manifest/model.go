// Package manifest loads the HCL manifests that declare the external tool
// and in-process transform types available to pipeline stages, and provides
// the value conversion between manifest/cty values and Go handler inputs.
package manifest

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// Input is the format-agnostic form of an input port declaration.
type Input struct {
	Name        string
	Description string
	Default     *cty.Value
	Optional    bool
}

// Output is the format-agnostic form of an output port declaration.
type Output struct {
	Name        string
	Description string
	// Filename is the template for the file written into the stage work
	// directory; nil means the output is named after the port.
	Filename hcl.Expression
}

// Tool is a declared external-process tool type.
type Tool struct {
	Type        string
	Description string
	Binary      string
	Inputs      map[string]*Input
	Outputs     []*Output
	Command     []hcl.Expression
}

// Output returns the named output declaration, if present.
func (t *Tool) Output(name string) (*Output, bool) {
	for _, o := range t.Outputs {
		if o.Name == name {
			return o, true
		}
	}
	return nil, false
}

// Transform is a declared in-process transform type.
type Transform struct {
	Type        string
	Description string
	Handler     string
	Inputs      map[string]*Input
	Outputs     []*Output
}

// Model is the merged view of every loaded manifest file.
type Model struct {
	Tools      map[string]*Tool
	Transforms map[string]*Transform
}
