package transforms

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/mckenziephagen/mindboggle/internal/registry"
)

// IdentityModule registers the pass-through handler behind sweep source
// stages. The executor substitutes the run context's dimension value before
// the handler would run, so the handler body is only reached by a stage that
// was never attached to a dimension.
type IdentityModule struct{}

// Register registers the module's handlers.
func (m *IdentityModule) Register(r *registry.Registry) {
	r.RegisterHandler("Identity", &registry.Handler{
		NewInput: func() any { return &struct{}{} },
		Fn: func(ctx context.Context, input any, workdir string) (map[string]cty.Value, error) {
			return map[string]cty.Value{}, nil
		},
	})
}
