// Package registry holds the Go handlers behind manifest-declared transform
// types and validates that code and manifests agree before a run starts.
package registry

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/mckenziephagen/mindboggle/internal/ctxlog"
	"github.com/mckenziephagen/mindboggle/internal/manifest"
)

// Handler is one registered transform implementation. NewInput returns a
// fresh input struct for the converter to populate; Fn performs the work in
// workdir and returns the produced output port values.
type Handler struct {
	NewInput func() any
	Fn       func(ctx context.Context, input any, workdir string) (map[string]cty.Value, error)
}

// Module is anything that can register handlers, typically one per package
// of related transforms.
type Module interface {
	Register(r *Registry)
}

// Registry maps handler names to implementations.
type Registry struct {
	handlers map[string]*Handler
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]*Handler)}
}

// RegisterHandler adds a named handler. Registering the same name twice is a
// programmer error and panics.
func (r *Registry) RegisterHandler(name string, h *Handler) {
	if _, ok := r.handlers[name]; ok {
		panic(fmt.Sprintf("handler registered twice: %s", name))
	}
	r.handlers[name] = h
}

// Handler returns the named handler, if registered.
func (r *Registry) Handler(name string) (*Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Validate checks the loaded manifest model against the registered Go
// handlers: every declared transform must resolve to a handler, and every
// tool must name a binary.
func (r *Registry) Validate(ctx context.Context, model *manifest.Model) error {
	logger := ctxlog.FromContext(ctx)

	for name, tr := range model.Transforms {
		if _, ok := r.handlers[tr.Handler]; !ok {
			return fmt.Errorf("transform %s names unregistered handler %s", name, tr.Handler)
		}
	}
	for name, tool := range model.Tools {
		if tool.Binary == "" {
			return fmt.Errorf("tool %s declares no binary", name)
		}
	}

	logger.Debug("Registry validation passed.",
		"handlers", len(r.handlers), "transforms", len(model.Transforms), "tools", len(model.Tools))
	return nil
}
