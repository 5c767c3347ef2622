package manifest

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// InputDefinition declares a single input port for a tool or transform.
type InputDefinition struct {
	Name        string     `hcl:"name,label"`
	Description string     `hcl:"description,optional"`
	Default     *cty.Value `hcl:"default,optional"`
}

// OutputDefinition declares a single output port. For tools, Filename is the
// template for the file the tool writes into its stage work directory. It is
// captured as a bare expression because its variables are only known at
// execution time.
type OutputDefinition struct {
	Name        string         `hcl:"name,label"`
	Description string         `hcl:"description,optional"`
	Filename    hcl.Expression `hcl:"filename,optional"`
}

// ToolDefinition is the HCL manifest for an external-process tool type. The
// command is a list of argv templates evaluated against the stage's bound
// inputs and computed output paths, so it too is captured unevaluated.
type ToolDefinition struct {
	Type        string              `hcl:"type,label"`
	Description string              `hcl:"description,optional"`
	Binary      string              `hcl:"binary"`
	Inputs      []*InputDefinition  `hcl:"input,block"`
	Outputs     []*OutputDefinition `hcl:"output,block"`
	Command     hcl.Expression      `hcl:"command"`
}

// TransformDefinition is the HCL manifest for a pure in-process transform
// type, mapping it to a registered Go handler.
type TransformDefinition struct {
	Type        string              `hcl:"type,label"`
	Description string              `hcl:"description,optional"`
	Handler     string              `hcl:"handler"`
	Inputs      []*InputDefinition  `hcl:"input,block"`
	Outputs     []*OutputDefinition `hcl:"output,block"`
}

// fileRoot decodes all recognized top-level blocks from any manifest file.
type fileRoot struct {
	Tools      []*ToolDefinition      `hcl:"tool,block"`
	Transforms []*TransformDefinition `hcl:"transform,block"`
	Remain     hcl.Body               `hcl:",remain"`
}
