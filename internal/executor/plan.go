package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mckenziephagen/mindboggle/internal/graph"
	"github.com/mckenziephagen/mindboggle/internal/manifest"
	"github.com/mckenziephagen/mindboggle/internal/registry"
	"github.com/mckenziephagen/mindboggle/internal/router"
	"github.com/mckenziephagen/mindboggle/internal/sweep"
)

// Env collects the collaborators every stage execution needs.
type Env struct {
	Model     *manifest.Model
	Registry  *registry.Registry
	Converter *manifest.Converter
	Router    *router.Router

	// WorkRoot is the workspace directory. Each (context, stage) pair gets
	// its own subdirectory under it.
	WorkRoot string
	// ToolsDir, when set, prefixes every tool binary path.
	ToolsDir string

	// DimensionSources maps flattened source stage names to the dimension
	// whose per-context value they emit instead of invoking anything.
	DimensionSources map[string]string
}

// flatStage is one concrete stage of the flattened execution graph. Stages
// of embedded subgraphs appear under dotted names ("embed.stage") with their
// bindings rewired to flattened producers.
type flatStage struct {
	name     string
	stage    *graph.Stage
	bindings map[string]graph.Binding
}

// deps returns the flattened upstream stage names, deduplicated, in
// input-port order.
func (fs *flatStage) deps() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range fs.stage.Inputs {
		b := fs.bindings[p.Name]
		if b.Kind == graph.Upstream && !seen[b.Stage] {
			seen[b.Stage] = true
			out = append(out, b.Stage)
		}
	}
	return out
}

// Plan is the executable form of one frozen graph crossed with its run
// contexts: the flattened stages in topological order plus everything needed
// to run them.
type Plan struct {
	env      Env
	contexts []sweep.Context
	stages   []*flatStage
	index    map[string]*flatStage
}

// NewPlan flattens a frozen graph into an execution plan over the given run
// contexts. Embedded subgraphs are expanded in place so the plan contains
// only exec and transform stages.
func NewPlan(g *graph.Graph, contexts []sweep.Context, env Env) (*Plan, error) {
	if !g.Frozen() {
		return nil, fmt.Errorf("cannot plan unfrozen graph %s", g.Name())
	}
	if len(contexts) == 0 {
		contexts = []sweep.Context{{}}
	}

	index := make(map[string]*flatStage)
	var order []string
	if err := flattenInto(g, "", index, &order); err != nil {
		return nil, err
	}

	topo, err := topoSort(index, order)
	if err != nil {
		return nil, err
	}

	stages := make([]*flatStage, len(topo))
	for i, name := range topo {
		stages[i] = index[name]
	}
	return &Plan{env: env, contexts: contexts, stages: stages, index: index}, nil
}

// Contexts returns the plan's run contexts.
func (p *Plan) Contexts() []sweep.Context {
	return append([]sweep.Context(nil), p.contexts...)
}

// StageNames returns the flattened stage names in topological order.
func (p *Plan) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, fs := range p.stages {
		names[i] = fs.name
	}
	return names
}

// workdirFor returns the work directory of one (context, stage) execution.
func (p *Plan) workdirFor(ctxIdx int, stage string) string {
	segments := append([]string{p.env.WorkRoot}, p.contexts[ctxIdx].Tags()...)
	segments = append(segments, stage)
	return filepath.Join(segments...)
}

// buildNodes materializes the execution nodes of one run context, wired with
// dependency counts and dependent lists, in topological order.
func (p *Plan) buildNodes(ctxIdx int) []*execNode {
	byName := make(map[string]*execNode, len(p.stages))
	nodes := make([]*execNode, len(p.stages))
	for i, fs := range p.stages {
		n := &execNode{stage: fs, ctxIdx: ctxIdx}
		byName[fs.name] = n
		nodes[i] = n
	}
	for _, n := range nodes {
		for _, dep := range n.stage.deps() {
			d := byName[dep]
			n.deps = append(n.deps, d)
			d.dependents = append(d.dependents, n)
		}
		n.depCount.Store(int32(len(n.deps)))
	}
	return nodes
}

// flattenInto walks a graph, expanding embedded subgraphs under dotted name
// prefixes and rewiring every upstream binding to its concrete producer.
func flattenInto(g *graph.Graph, prefix string, out map[string]*flatStage, order *[]string) error {
	for _, s := range g.Stages() {
		if s.Invocation.Kind != graph.KindSubgraph {
			fs := &flatStage{
				name:     prefix + s.Name,
				stage:    s,
				bindings: make(map[string]graph.Binding, len(s.Inputs)),
			}
			for _, p := range s.Inputs {
				b := s.Binding(p.Name)
				if b.Kind == graph.Upstream {
					src, srcPort, err := resolveInner(g, prefix, b.Stage, b.Port)
					if err != nil {
						return err
					}
					b.Stage, b.Port = src, srcPort
				}
				fs.bindings[p.Name] = b
			}
			out[fs.name] = fs
			*order = append(*order, fs.name)
			continue
		}

		if err := flattenInto(s.Invocation.Sub, prefix+s.Name+".", out, order); err != nil {
			return err
		}
		// Push the embedded stage's own bindings down onto the child
		// stages whose ports they expose.
		for _, p := range s.Inputs {
			b := s.Binding(p.Name)
			if b.Kind == graph.Unbound {
				continue
			}
			target, targetPort, err := resolveInner(g, prefix, s.Name, p.Name)
			if err != nil {
				return err
			}
			if b.Kind == graph.Upstream {
				src, srcPort, err := resolveInner(g, prefix, b.Stage, b.Port)
				if err != nil {
					return err
				}
				b.Stage, b.Port = src, srcPort
			}
			fs, ok := out[target]
			if !ok {
				return fmt.Errorf("embedded port %s.%s resolves to unknown stage %s", s.Name, p.Name, target)
			}
			fs.bindings[targetPort] = b
		}
	}
	return nil
}

// resolveInner walks nested embeddings down to the concrete stage that owns
// the given port, returning its flattened name and the undotted port name.
func resolveInner(g *graph.Graph, prefix, stage, port string) (string, string, error) {
	s, ok := g.Stage(stage)
	if !ok {
		return "", "", fmt.Errorf("unknown stage %s in graph %s", stage, g.Name())
	}
	if s.Invocation.Kind != graph.KindSubgraph {
		return prefix + stage, port, nil
	}
	inner, innerPort, found := strings.Cut(port, ".")
	if !found {
		return "", "", fmt.Errorf("embedded stage %s port %s is not namespaced", stage, port)
	}
	return resolveInner(s.Invocation.Sub, prefix+stage+".", inner, innerPort)
}

// topoSort orders the flattened stages with Kahn's algorithm, breaking ties
// by insertion order so plans are deterministic.
func topoSort(index map[string]*flatStage, order []string) ([]string, error) {
	inDegree := make(map[string]int, len(order))
	dependents := make(map[string][]string, len(order))
	for _, name := range order {
		fs := index[name]
		deps := fs.deps()
		inDegree[name] = len(deps)
		for _, dep := range deps {
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf("stage %s depends on unknown stage %s", name, dep)
			}
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue, topo []string
	for _, name := range order {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		topo = append(topo, name)
		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if len(topo) != len(order) {
		return nil, fmt.Errorf("cycle in flattened graph")
	}
	return topo, nil
}

// Policy runs a plan to completion and reports per-context stage outcomes.
type Policy interface {
	Name() string
	Run(ctx context.Context, plan *Plan) (*Report, error)
}
