package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/mckenziephagen/mindboggle/internal/ctxlog"
)

// Loader parses HCL manifest files into the format-agnostic model.
type Loader struct{}

// NewLoader creates a new manifest loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load walks the given paths (files or directories), parses every .hcl file
// found, and merges all tool and transform definitions into one model.
// Later definitions of the same type name replace earlier ones.
func (l *Loader) Load(ctx context.Context, paths ...string) (*Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Manifest loader started.", "path_count", len(paths))

	model := &Model{
		Tools:      make(map[string]*Tool),
		Transforms: make(map[string]*Transform),
	}

	files, err := findHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered manifest files.", "count", len(files))

	parser := hclparse.NewParser()
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse manifest %s: %w", file, diags)
		}

		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode manifest %s: %w", file, diags)
		}

		for _, tool := range root.Tools {
			def, err := translateTool(tool)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			model.Tools[def.Type] = def
		}
		for _, tr := range root.Transforms {
			model.Transforms[tr.Type] = translateTransform(tr)
		}
	}

	logger.Debug("Manifest loading complete.",
		"tools", len(model.Tools), "transforms", len(model.Transforms))
	return model, nil
}

// translateTool converts the HCL-specific tool schema into the agnostic
// model. The command list is split into per-argv expressions here; evaluation
// waits until the executor knows the stage's bound inputs.
func translateTool(s *ToolDefinition) (*Tool, error) {
	argv, diags := hcl.ExprList(s.Command)
	if diags.HasErrors() {
		return nil, fmt.Errorf("tool %s: command must be a list of templates: %w", s.Type, diags)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("tool %s declares no command", s.Type)
	}
	t := &Tool{
		Type:        s.Type,
		Description: s.Description,
		Binary:      s.Binary,
		Inputs:      translateInputs(s.Inputs),
		Command:     argv,
	}
	for _, out := range s.Outputs {
		t.Outputs = append(t.Outputs, &Output{
			Name:        out.Name,
			Description: out.Description,
			Filename:    filenameExpr(out.Filename),
		})
	}
	return t, nil
}

// filenameExpr normalizes an absent filename attribute to nil. gohcl assigns
// a synthetic null expression when an optional expression attribute is
// missing from the block.
func filenameExpr(expr hcl.Expression) hcl.Expression {
	if expr == nil {
		return nil
	}
	if v, diags := expr.Value(nil); !diags.HasErrors() && v.IsNull() {
		return nil
	}
	return expr
}

// translateTransform converts the HCL-specific transform schema into the
// agnostic model.
func translateTransform(s *TransformDefinition) *Transform {
	t := &Transform{
		Type:        s.Type,
		Description: s.Description,
		Handler:     s.Handler,
		Inputs:      translateInputs(s.Inputs),
	}
	for _, out := range s.Outputs {
		t.Outputs = append(t.Outputs, &Output{Name: out.Name, Description: out.Description})
	}
	return t
}

func translateInputs(defs []*InputDefinition) map[string]*Input {
	inputs := make(map[string]*Input, len(defs))
	for _, in := range defs {
		var defaultVal = in.Default
		var isOptional bool
		// A default is only valid if it is non-null; a null default keeps
		// the input required.
		if defaultVal != nil && !defaultVal.IsNull() {
			isOptional = true
		} else {
			defaultVal = nil
		}
		inputs[in.Name] = &Input{
			Name:        in.Name,
			Description: in.Description,
			Default:     defaultVal,
			Optional:    isOptional,
		}
	}
	return inputs
}

// findHCLFiles walks all given paths and returns a flat list of all .hcl
// files found, deduplicated.
func findHCLFiles(paths []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]struct{})

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue // A configured path that doesn't exist is not an error.
			}
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}

		if info.IsDir() {
			err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if !info.IsDir() && filepath.Ext(p) == ".hcl" {
					if _, wasSeen := seen[p]; !wasSeen {
						allFiles = append(allFiles, p)
						seen[p] = struct{}{}
					}
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		} else if filepath.Ext(path) == ".hcl" {
			if _, wasSeen := seen[path]; !wasSeen {
				allFiles = append(allFiles, path)
				seen[path] = struct{}{}
			}
		}
	}
	return allFiles, nil
}
