// Package pipeline assembles the conditional mindboggle stage graph from the
// resolved feature flags: per-hemisphere surface flows, volume labeling, the
// parameter sweep over subjects, hemispheres and atlases, and the sink routes
// that place results in the output tree.
package pipeline

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/mckenziephagen/mindboggle/internal/ctxlog"
	"github.com/mckenziephagen/mindboggle/internal/flags"
	"github.com/mckenziephagen/mindboggle/internal/graph"
	"github.com/mckenziephagen/mindboggle/internal/manifest"
	"github.com/mckenziephagen/mindboggle/internal/refcache"
	"github.com/mckenziephagen/mindboggle/internal/router"
	"github.com/mckenziephagen/mindboggle/internal/sweep"
)

const (
	// DefaultAtlasVolume is the built-in volume atlas; --atlases extends it.
	DefaultAtlasVolume = "OASIS-TRT-20_jointfusion_DKT31_CMA_labels_in_MNI152.nii.gz"
	// AtroposToMNI152Affine maps the Atropos template into MNI152 space.
	AtroposToMNI152Affine = "OASIS-30_Atropos_template_to_MNI152_affine.txt"
	// ReferenceURL is the base URL for reference data fetches.
	ReferenceURL = "https://media.mindboggle.info/data/cache/atlases"
	// SurfaceClassifier is the atlas-based surface label classifier.
	SurfaceClassifier = "DKTatlas40"
)

// Hemispheres is the fixed hemisphere sweep dimension.
var Hemispheres = []string{"lh", "rh"}

// DefaultSinkRules rewrites internal context tags and stage file names into
// their published forms.
func DefaultSinkRules() []router.SinkRule {
	return []router.SinkRule{
		{Match: "_hemi_lh", Replace: "left_surface"},
		{Match: "_hemi_rh", Replace: "right_surface"},
		{Match: "_subject_", Replace: ""},
		{Match: "_atlas_", Replace: ""},
		{Match: "smooth_skeletons.vtk", Replace: "smooth_fundi.vtk"},
		{Match: DefaultAtlasVolume, Replace: "atlas"},
	}
}

// Params carries the non-flag assembly configuration.
type Params struct {
	Subjects    []string
	Atlases     []string
	SubjectsDir string
	OutputRoot  string
	ANTsDir     string
	ANTsStem    string
}

// Assembly is everything the executor needs from graph construction: the
// frozen graph, the sweep, the configured router, and the source stages that
// emit sweep dimension values.
type Assembly struct {
	Graph            *graph.Graph
	Sweep            *sweep.Expander
	Router           *router.Router
	DimensionSources map[string]string
}

// builder accumulates graph construction. Wiring errors are programming
// errors in the assembly tables, so the first one is kept and construction
// short-circuits.
type builder struct {
	g       *graph.Graph
	router  *router.Router
	primary flags.Primary
	derived flags.Derived
	params  Params
	err     error
}

func (b *builder) check(err error) {
	if b.err == nil && err != nil {
		b.err = err
	}
}

func (b *builder) add(s *graph.Stage) {
	b.check(b.g.AddStage(s))
}

func (b *builder) connect(srcStage, srcPort, dstStage, dstPort string) {
	b.check(b.g.Connect(srcStage, srcPort, dstStage, dstPort))
}

func (b *builder) constant(stage, port string, v cty.Value) {
	b.check(b.g.BindConstant(stage, port, v))
}

func (b *builder) str(stage, port, v string) {
	b.constant(stage, port, cty.StringVal(v))
}

// in declares required input ports.
func in(names ...string) []graph.Port {
	ports := make([]graph.Port, len(names))
	for i, n := range names {
		ports[i] = graph.Port{Name: n, Required: true}
	}
	return ports
}

// optional declares non-required input ports appended to ports.
func optional(ports []graph.Port, names ...string) []graph.Port {
	for _, n := range names {
		ports = append(ports, graph.Port{Name: n})
	}
	return ports
}

// out declares output ports.
func out(names ...string) []graph.Port {
	ports := make([]graph.Port, len(names))
	for i, n := range names {
		ports[i] = graph.Port{Name: n}
	}
	return ports
}

// Assemble builds and freezes the pipeline graph for one invocation. The
// reference cache is consulted at assembly time only for paths that become
// graph constants; everything else resolves during execution.
func Assemble(ctx context.Context, primary flags.Primary, derived flags.Derived, params Params, model *manifest.Model, cache *refcache.Cache) (*Assembly, error) {
	logger := ctxlog.FromContext(ctx)
	if len(params.Subjects) == 0 {
		return nil, fmt.Errorf("at least one subject is required")
	}

	b := &builder{
		g:       graph.New("mindboggle"),
		router:  router.New(params.OutputRoot, DefaultSinkRules()),
		primary: primary,
		derived: derived,
		params:  params,
	}
	exp := sweep.NewExpander()
	sources := make(map[string]string)

	b.add(graph.TransformStage("input_subjects", "identity", nil, out("subject")))
	sources["input_subjects"] = "subject"
	b.check(exp.Attach(sweep.Dimension{Name: "subject", Values: params.Subjects}, "input_subjects"))

	buildVolumeLabels := derived.Volumes && derived.Labels && (primary.FreeSurferInputs || primary.ANTs)

	if derived.Surfaces || buildVolumeLabels {
		b.add(graph.TransformStage("input_hemispheres", "identity", nil, out("hemi")))
		sources["input_hemispheres"] = "hemi"
		b.check(exp.Attach(sweep.Dimension{Name: "hemi", Values: Hemispheres}, "input_hemispheres"))
	}

	if primary.ANTs {
		b.add(graph.TransformStage("fetch_ants_data", "fetch_ants_data",
			in("subjects_dir", "subject", "stem"),
			out("brain", "segments", "affine", "warp", "invwarp")))
		b.str("fetch_ants_data", "subjects_dir", params.ANTsDir)
		b.connect("input_subjects", "subject", "fetch_ants_data", "subject")
		b.str("fetch_ants_data", "stem", params.ANTsStem)
	}

	if derived.Surfaces {
		b.buildSurfaceFlows(ctx)
	}
	if buildVolumeLabels {
		// Only the ANTs chain consumes volume atlases; without it the atlas
		// sweep dimension would multiply contexts for nothing.
		if primary.ANTs {
			b.add(graph.TransformStage("input_volume_atlases", "identity", nil, out("atlas")))
			sources["input_volume_atlases"] = "atlas"
			atlases := append([]string{DefaultAtlasVolume}, params.Atlases...)
			b.check(exp.Attach(sweep.Dimension{Name: "atlas", Values: atlases}, "input_volume_atlases"))
		}

		b.buildVolumeLabelFlow(ctx, cache)
	}

	if b.err != nil {
		return nil, b.err
	}
	if err := validateTypes(b.g, model); err != nil {
		return nil, err
	}
	if err := b.g.Freeze(); err != nil {
		return nil, err
	}

	logger.Info("Assembled pipeline graph.",
		"stages", len(b.g.Stages()), "run_contexts", len(exp.Expand()))
	return &Assembly{
		Graph:            b.g,
		Sweep:            exp,
		Router:           b.router,
		DimensionSources: sources,
	}, nil
}

// validateTypes checks, recursively through embedded graphs, that every
// stage's tool or transform type is declared in the loaded manifests.
func validateTypes(g *graph.Graph, model *manifest.Model) error {
	for _, s := range g.Stages() {
		switch s.Invocation.Kind {
		case graph.KindExec:
			if _, ok := model.Tools[s.Invocation.Tool]; !ok {
				return fmt.Errorf("stage %s uses undeclared tool type %s", s.Name, s.Invocation.Tool)
			}
		case graph.KindTransform:
			if _, ok := model.Transforms[s.Invocation.Transform]; !ok {
				return fmt.Errorf("stage %s uses undeclared transform type %s", s.Name, s.Invocation.Transform)
			}
		case graph.KindSubgraph:
			if err := validateTypes(s.Invocation.Sub, model); err != nil {
				return err
			}
		}
	}
	return nil
}
