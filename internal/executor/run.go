package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/mckenziephagen/mindboggle/internal/ctxlog"
	"github.com/mckenziephagen/mindboggle/internal/graph"
	"github.com/mckenziephagen/mindboggle/internal/manifest"
)

// maxOutputTail bounds how much captured tool output is carried into an
// error message.
const maxOutputTail = 2048

// runNode executes one node: it resolves the stage's bound inputs, performs
// the invocation in the node's work directory, routes registered outputs,
// and persists the produced port values for downstream replay.
func (p *Plan) runNode(ctx context.Context, n *execNode) error {
	fs := n.stage
	runContext := p.contexts[n.ctxIdx]
	logger := ctxlog.FromContext(ctx).With("stage", fs.name, "run_context", runContext.String())

	workdir := p.workdirFor(n.ctxIdx, fs.name)
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}

	var (
		outputs map[string]cty.Value
		err     error
	)
	if dim, ok := p.env.DimensionSources[fs.name]; ok {
		value, bound := runContext.Value(dim)
		if !bound {
			return fmt.Errorf("source stage %s has no value for dimension %s", fs.name, dim)
		}
		outputs = map[string]cty.Value{dim: cty.StringVal(value)}
	} else {
		inputs, resolveErr := p.resolveInputs(n)
		if resolveErr != nil {
			return resolveErr
		}
		switch fs.stage.Invocation.Kind {
		case graph.KindExec:
			outputs, err = p.runTool(ctx, fs, inputs, workdir)
		case graph.KindTransform:
			outputs, err = p.runTransform(ctx, fs, inputs, workdir)
		default:
			err = fmt.Errorf("stage %s has unexpected invocation kind %d", fs.name, fs.stage.Invocation.Kind)
		}
		if err != nil {
			return err
		}
	}

	for _, port := range fs.stage.Outputs {
		if _, routed := p.env.Router.Category(fs.name, port.Name); !routed {
			continue
		}
		value, produced := outputs[port.Name]
		if !produced || value.Type() != cty.String || value.IsNull() || value.AsString() == "" {
			continue
		}
		if _, err := p.env.Router.Route(ctx, fs.name, port.Name, runContext.Tags(), value.AsString()); err != nil {
			return err
		}
	}

	if err := saveOutputs(workdir, outputs); err != nil {
		return err
	}
	n.setOutputs(outputs)
	logger.Debug("Stage completed.", "outputs", len(outputs))
	return nil
}

// resolveInputs gathers the values of every bound input port: constants as
// declared, upstream ports from the producer's published outputs, falling
// back to its persisted outputs when the producer ran in another process.
func (p *Plan) resolveInputs(n *execNode) (map[string]cty.Value, error) {
	fs := n.stage
	inputs := make(map[string]cty.Value, len(fs.stage.Inputs))
	loaded := make(map[string]map[string]cty.Value)

	for _, port := range fs.stage.Inputs {
		b := fs.bindings[port.Name]
		switch b.Kind {
		case graph.Constant:
			inputs[port.Name] = b.Value
		case graph.Upstream:
			produced, err := p.upstreamOutputs(n, b.Stage, loaded)
			if err != nil {
				return nil, fmt.Errorf("input %s of stage %s: %w", port.Name, fs.name, err)
			}
			value, ok := produced[b.Port]
			if !ok {
				return nil, fmt.Errorf("upstream stage %s produced no output %s (needed by %s.%s)",
					b.Stage, b.Port, fs.name, port.Name)
			}
			inputs[port.Name] = value
		}
	}
	return inputs, nil
}

// upstreamOutputs returns a producer's port values, from memory when the
// producer node ran in this process, otherwise from its outputs file.
func (p *Plan) upstreamOutputs(n *execNode, stage string, loaded map[string]map[string]cty.Value) (map[string]cty.Value, error) {
	for _, d := range n.deps {
		if d.stage.name == stage {
			if outputs := d.Outputs(); outputs != nil {
				return outputs, nil
			}
		}
	}
	if outputs, ok := loaded[stage]; ok {
		return outputs, nil
	}
	outputs, err := loadOutputs(p.workdirFor(n.ctxIdx, stage))
	if err != nil {
		return nil, fmt.Errorf("outputs of upstream stage %s unavailable: %w", stage, err)
	}
	loaded[stage] = outputs
	return outputs, nil
}

// runTool renders and executes an external tool command. Success is a zero
// exit code plus the presence of every declared output file.
func (p *Plan) runTool(ctx context.Context, fs *flatStage, inputs map[string]cty.Value, workdir string) (map[string]cty.Value, error) {
	tool, ok := p.env.Model.Tools[fs.stage.Invocation.Tool]
	if !ok {
		return nil, fmt.Errorf("stage %s names undeclared tool %s", fs.name, fs.stage.Invocation.Tool)
	}

	binary := tool.Binary
	if p.env.ToolsDir != "" {
		binary = filepath.Join(p.env.ToolsDir, binary)
	}

	vars := make(map[string]cty.Value, len(inputs)+len(tool.Outputs)+1)
	for name, value := range inputs {
		vars[name] = value
	}
	vars["binary"] = cty.StringVal(binary)
	// Unbound optional ports fall back to their manifest defaults so the
	// command templates can still reference them.
	for name, decl := range tool.Inputs {
		if _, bound := vars[name]; !bound && decl.Default != nil {
			vars[name] = *decl.Default
		}
	}

	outPaths := make(map[string]string, len(tool.Outputs))
	for _, out := range tool.Outputs {
		filename := out.Name
		if out.Filename != nil {
			rendered, err := manifest.RenderTemplate(out.Filename, vars)
			if err != nil {
				return nil, fmt.Errorf("tool %s output %s: %w", tool.Type, out.Name, err)
			}
			filename = rendered
		}
		path := filepath.Join(workdir, filename)
		outPaths[out.Name] = path
		vars[out.Name] = cty.StringVal(path)
	}

	argv, err := tool.RenderCommand(vars)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workdir
	combined, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("tool %s failed: %w\n%s", tool.Type, err, outputTail(combined))
	}

	outputs := make(map[string]cty.Value, len(outPaths))
	for name, path := range outPaths {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("tool %s exited cleanly but declared output %s is missing at %s", tool.Type, name, path)
		}
		outputs[name] = cty.StringVal(path)
	}
	return outputs, nil
}

// runTransform calls the registered in-process handler behind a declared
// transform type.
func (p *Plan) runTransform(ctx context.Context, fs *flatStage, inputs map[string]cty.Value, workdir string) (map[string]cty.Value, error) {
	tr, ok := p.env.Model.Transforms[fs.stage.Invocation.Transform]
	if !ok {
		return nil, fmt.Errorf("stage %s names undeclared transform %s", fs.name, fs.stage.Invocation.Transform)
	}
	handler, ok := p.env.Registry.Handler(tr.Handler)
	if !ok {
		return nil, fmt.Errorf("transform %s names unregistered handler %s", tr.Type, tr.Handler)
	}

	input := handler.NewInput()
	if err := p.env.Converter.DecodeInputs(ctx, input, inputs, tr.Inputs); err != nil {
		return nil, fmt.Errorf("transform %s: %w", tr.Type, err)
	}
	return handler.Fn(ctx, input, workdir)
}

// outputTail returns at most the last maxOutputTail bytes of captured tool
// output, trimmed.
func outputTail(combined []byte) string {
	s := strings.TrimSpace(string(combined))
	if len(s) > maxOutputTail {
		s = "..." + s[len(s)-maxOutputTail:]
	}
	return s
}
