package manifest

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// MustTemplate parses a "${...}" template string into an expression, for
// callers that build tool models in code rather than loading manifests. It
// panics on a malformed template.
func MustTemplate(tmpl string) hcl.Expression {
	expr, diags := hclsyntax.ParseTemplate([]byte(tmpl), "<template>", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		panic(fmt.Sprintf("invalid template %q: %s", tmpl, diags))
	}
	return expr
}

// RenderTemplate evaluates one template expression against a variable map and
// returns the resulting string.
func RenderTemplate(expr hcl.Expression, vars map[string]cty.Value) (string, error) {
	val, diags := expr.Value(&hcl.EvalContext{Variables: vars})
	if diags.HasErrors() {
		return "", fmt.Errorf("failed to evaluate template: %w", diags)
	}

	str, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", fmt.Errorf("template did not produce a string: %w", err)
	}
	if str.IsNull() {
		return "", fmt.Errorf("template produced a null value")
	}
	return str.AsString(), nil
}

// RenderCommand evaluates every argv template of a tool's command against
// the variable map. Elements that render to the empty string are dropped so
// optional arguments can disappear cleanly.
func (t *Tool) RenderCommand(vars map[string]cty.Value) ([]string, error) {
	argv := make([]string, 0, len(t.Command))
	for _, expr := range t.Command {
		arg, err := RenderTemplate(expr, vars)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", t.Type, err)
		}
		if arg == "" {
			continue
		}
		argv = append(argv, arg)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("tool %s rendered an empty command", t.Type)
	}
	return argv, nil
}
