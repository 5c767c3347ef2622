package flags

// rule computes one slice of the derived flag map. A rule may read primary
// flags and any derived flag computed by an earlier rule, never a later one;
// the table order below is the topological order of the rules.
type rule struct {
	name  string
	apply func(p Primary, d *Derived)
}

// rules is the fixed, total derivation table. The combined-labels override
// comes first so the exclusion rules that follow see the forced values.
var rules = []rule{
	{
		// A combined ANTs+FreeSurfer labeling run needs the surface, volume,
		// and label subgraphs regardless of the individual exclusion flags,
		// so it wins over them. This mirrors the behavior of the original
		// command line, where --antsurfer_labels silently re-enables all
		// three.
		name: "combined_labels_override",
		apply: func(p Primary, d *Derived) {
			d.Surfaces = !p.NoSurfaces || p.AntsurferLabels
			d.Volumes = !p.NoVolumes || p.AntsurferLabels
			d.Labels = !p.NoLabels || p.AntsurferLabels
		},
	},
	{
		name: "features_from_sulci_or_fundi",
		apply: func(p Primary, d *Derived) {
			d.Features = p.Sulci || p.Fundi
		},
	},
	{
		name: "shapes_unless_excluded",
		apply: func(p Primary, d *Derived) {
			d.Shapes = !p.NoShapes
		},
	},
	{
		// Spectral and moment measures need a positive numeric parameter
		// AND an enabled parent category.
		name: "spectra_and_moments",
		apply: func(p Primary, d *Derived) {
			measured := (d.Labels || d.Features) && d.Shapes
			d.Spectra = measured && p.SpectrumCount > 0
			d.Zernike = measured && p.MomentsOrder > 0
		},
	},
	{
		name: "freesurfer_shape_overlays",
		apply: func(p Primary, d *Derived) {
			d.FreeSurferThickness = d.Shapes && p.FreeSurferInputs
			d.FreeSurferConvexity = d.Shapes && p.FreeSurferInputs
		},
	},
	{
		// Fundus smoothing exists in the graph but has never shipped
		// enabled.
		name: "smooth_fundi_disabled",
		apply: func(p Primary, d *Derived) {
			d.SmoothFundi = false
		},
	},
	{
		name: "volume_thickness_tables",
		apply: func(p Primary, d *Derived) {
			d.VolumeThickness = p.Thickness && d.Shapes && d.Volumes
		},
	},
	{
		name: "vertex_table",
		apply: func(p Primary, d *Derived) {
			d.VertexTable = p.Vertices && d.Shapes && d.Surfaces
		},
	},
}

// Resolve computes the derived flag map for a primary assignment. It is a
// pure function; callers may resolve as often as they like and always get
// the same result.
func Resolve(p Primary) Derived {
	var d Derived
	for _, r := range rules {
		r.apply(p, &d)
	}
	return d
}

// RuleNames returns the derivation rule names in evaluation order, for
// diagnostics.
func RuleNames() []string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.name
	}
	return names
}
