// Package flags resolves the primary configuration switches into the derived
// inclusion flags that gate pipeline assembly. Derivation is a pure function:
// the same primary assignment always yields the same derived map, and derived
// flags are never mutated after resolution.
package flags

// SurfaceLabelSource selects where surface labels come from.
type SurfaceLabelSource string

const (
	// LabelsFreeSurfer uses FreeSurfer annot files (the default).
	LabelsFreeSurfer SurfaceLabelSource = "freesurfer"
	// LabelsAtlas runs the atlas-based classifier.
	LabelsAtlas SurfaceLabelSource = "atlas"
	// LabelsManual uses manually edited label files.
	LabelsManual SurfaceLabelSource = "manual"
)

// Primary holds the flags set directly from configuration. Nothing here is
// derived; the zero value is a valid (if mostly disabled) assignment.
type Primary struct {
	SurfaceLabels   SurfaceLabelSource
	Sulci           bool
	Fundi           bool
	SpectrumCount   int
	MomentsOrder    int
	Thickness       bool
	AntsurferLabels bool
	NoVolumes       bool
	NoSurfaces      bool
	NoLabels        bool
	NoShapes        bool
	Vertices        bool

	// ANTs is true when an ANTs data directory and file stem were supplied.
	ANTs bool
	// FreeSurferInputs is true when FreeSurfer files are the input source.
	FreeSurferInputs bool
}

// Derived is the fully resolved flag map consumed by graph assembly. Each
// field is computed by exactly one rule in the table below.
type Derived struct {
	Surfaces bool
	Volumes  bool
	Labels   bool
	Features bool
	Shapes   bool

	Spectra bool
	Zernike bool

	FreeSurferThickness bool
	FreeSurferConvexity bool
	SmoothFundi         bool

	VolumeThickness bool
	VertexTable     bool
}
