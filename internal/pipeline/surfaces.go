package pipeline

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/mckenziephagen/mindboggle/internal/ctxlog"
	"github.com/mckenziephagen/mindboggle/internal/flags"
	"github.com/mckenziephagen/mindboggle/internal/graph"
)

// buildSurfaceFlows adds the per-hemisphere surface side of the pipeline:
// surface grabbing and conversion, then the label, shape, feature and
// feature-shape subflows gated by the derived flags, then the shape and
// vertex tables.
func (b *builder) buildSurfaceFlows(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)

	b.add(graph.TransformStage("surfaces", "grab_surfaces",
		in("subjects_dir", "subject", "hemi"),
		out("pial", "white", "thickness", "sulc")))
	b.str("surfaces", "subjects_dir", b.params.SubjectsDir)
	b.connect("input_subjects", "subject", "surfaces", "subject")
	b.connect("input_hemispheres", "hemi", "surfaces", "hemi")

	b.add(graph.ExecStage("surface_to_vtk", "surface_to_vtk",
		in("surface_file"), out("vtk_file")))
	b.connect("surfaces", "pial", "surface_to_vtk", "surface_file")

	if b.derived.Labels {
		b.buildSurfaceLabelFlow()
	}
	if b.derived.Shapes {
		b.buildSurfaceShapeFlow()
	}
	if b.derived.Features && b.derived.Shapes {
		b.buildSurfaceFeatureFlow()
	}
	if (b.derived.Spectra || b.derived.Zernike) && b.derived.Labels {
		b.buildFeatureShapeFlow()
	}
	if b.derived.Shapes {
		b.buildShapeTables()
	}
	if b.derived.VertexTable && b.derived.Shapes {
		b.buildVertexTable()
	}

	logger.Debug("Surface flows assembled.", "label_source", string(b.primary.SurfaceLabels))
}

// buildSurfaceLabelFlow assembles the surface_labels subflow. The labeling
// chain depends on the configured label source; each variant ends in the
// reindexing stage whose output is the routed label file.
func (b *builder) buildSurfaceLabelFlow() {
	child := graph.New("surface_labels")
	add := func(s *graph.Stage) {
		b.check(child.AddStage(s))
	}
	connect := func(srcStage, srcPort, dstStage, dstPort string) {
		b.check(child.Connect(srcStage, srcPort, dstStage, dstPort))
	}

	// Ports the parent graph wires after embedding.
	var subjectPorts, hemiPorts, vtkPorts []string
	var labelsStage string

	switch b.primary.SurfaceLabels {
	case flags.LabelsAtlas:
		add(graph.TransformStage("fetch_classifier", "fetch_classifier",
			optional(in("hemi"), "classifier", "url", "hash"),
			out("classifier_file")))
		// classifier and url fall back to manifest defaults; pin the url
		// here so offline caches still resolve by key.
		b.check(child.BindConstant("fetch_classifier", "url", cty.StringVal(ReferenceURL)))

		add(graph.ExecStage("classifier", "mris_ca_label",
			in("subjects_dir", "subject", "hemi", "classifier_file"),
			out("annot_file")))
		b.check(child.BindConstant("classifier", "subjects_dir", cty.StringVal(b.params.SubjectsDir)))
		connect("fetch_classifier", "classifier_file", "classifier", "classifier_file")

		add(graph.ExecStage("classifier_to_vtk", "annot_to_vtk",
			in("annot_file", "vtk_file"), out("labels_file")))
		connect("classifier", "annot_file", "classifier_to_vtk", "annot_file")

		subjectPorts = []string{"classifier.subject"}
		hemiPorts = []string{"fetch_classifier.hemi", "classifier.hemi"}
		vtkPorts = []string{"classifier_to_vtk.vtk_file"}
		labelsStage = "classifier_to_vtk"

	case flags.LabelsManual:
		add(graph.TransformStage("manual_annot", "grab_annot",
			optional(in("subjects_dir", "subject", "hemi"), "annot"),
			out("annot_file")))
		b.check(child.BindConstant("manual_annot", "subjects_dir", cty.StringVal(b.params.SubjectsDir)))
		b.check(child.BindConstant("manual_annot", "annot", cty.StringVal("manual.annot")))

		add(graph.ExecStage("manual_annot_to_vtk", "annot_to_vtk",
			in("annot_file", "vtk_file"), out("labels_file")))
		connect("manual_annot", "annot_file", "manual_annot_to_vtk", "annot_file")

		subjectPorts = []string{"manual_annot.subject"}
		hemiPorts = []string{"manual_annot.hemi"}
		vtkPorts = []string{"manual_annot_to_vtk.vtk_file"}
		labelsStage = "manual_annot_to_vtk"

	default: // FreeSurfer annot files
		add(graph.TransformStage("freesurfer_annot", "grab_annot",
			optional(in("subjects_dir", "subject", "hemi"), "annot"),
			out("annot_file")))
		b.check(child.BindConstant("freesurfer_annot", "subjects_dir", cty.StringVal(b.params.SubjectsDir)))

		add(graph.ExecStage("freesurfer_annot_to_vtk", "annot_to_vtk",
			in("annot_file", "vtk_file"), out("labels_file")))
		connect("freesurfer_annot", "annot_file", "freesurfer_annot_to_vtk", "annot_file")

		subjectPorts = []string{"freesurfer_annot.subject"}
		hemiPorts = []string{"freesurfer_annot.hemi"}
		vtkPorts = []string{"freesurfer_annot_to_vtk.vtk_file"}
		labelsStage = "freesurfer_annot_to_vtk"
	}

	add(graph.ExecStage("reindex_labels", "relabel_surface",
		in("labels_file"), out("relabeled_file")))
	connect(labelsStage, "labels_file", "reindex_labels", "labels_file")

	if _, err := b.g.Embed(child, "surface_labels"); err != nil {
		b.check(err)
		return
	}

	for _, port := range subjectPorts {
		b.connect("input_subjects", "subject", "surface_labels", port)
	}
	for _, port := range hemiPorts {
		b.connect("input_hemispheres", "hemi", "surface_labels", port)
	}
	for _, port := range vtkPorts {
		b.connect("surface_to_vtk", "vtk_file", "surface_labels", port)
	}

	b.router.Register("surface_labels.reindex_labels", "relabeled_file", "labels")
}

// buildSurfaceShapeFlow assembles the surface_shapes subflow: per-vertex
// shape measures over the converted pial surface plus optional FreeSurfer
// overlay conversions.
func (b *builder) buildSurfaceShapeFlow() {
	child := graph.New("surface_shapes")
	add := func(s *graph.Stage) {
		b.check(child.AddStage(s))
	}

	add(graph.ExecStage("surface_area", "surface_area",
		in("surface_file"), out("area_file")))
	add(graph.ExecStage("travel_depth", "travel_depth",
		in("surface_file"), out("depth_file")))
	add(graph.ExecStage("geodesic_depth", "geodesic_depth",
		in("surface_file"), out("depth_file")))
	add(graph.ExecStage("curvature", "curvature",
		in("surface_file"), out("mean_curvature_file")))

	vtkPorts := []string{
		"surface_area.surface_file",
		"travel_depth.surface_file",
		"geodesic_depth.surface_file",
		"curvature.surface_file",
	}

	if b.primary.Fundi {
		add(graph.ExecStage("rescale_travel_depth", "rescale_travel_depth",
			in("depth_file"), out("rescaled_file")))
		b.check(child.Connect("travel_depth", "depth_file", "rescale_travel_depth", "depth_file"))
	}

	overlayPorts := make(map[string]string)
	if b.derived.FreeSurferConvexity {
		add(graph.ExecStage("convexity_to_vtk", "overlay_to_vtk",
			in("overlay_file", "vtk_file", "output_name"), out("output_file")))
		b.check(child.BindConstant("convexity_to_vtk", "output_name", cty.StringVal("freesurfer_convexity.vtk")))
		overlayPorts["convexity_to_vtk"] = "sulc"
		vtkPorts = append(vtkPorts, "convexity_to_vtk.vtk_file")
	}
	if b.derived.FreeSurferThickness {
		add(graph.ExecStage("thickness_to_vtk", "overlay_to_vtk",
			in("overlay_file", "vtk_file", "output_name"), out("output_file")))
		b.check(child.BindConstant("thickness_to_vtk", "output_name", cty.StringVal("freesurfer_thickness.vtk")))
		overlayPorts["thickness_to_vtk"] = "thickness"
		vtkPorts = append(vtkPorts, "thickness_to_vtk.vtk_file")
	}

	if _, err := b.g.Embed(child, "surface_shapes"); err != nil {
		b.check(err)
		return
	}

	for _, port := range vtkPorts {
		b.connect("surface_to_vtk", "vtk_file", "surface_shapes", port)
	}
	for stage, overlay := range overlayPorts {
		b.connect("surfaces", overlay, "surface_shapes", stage+".overlay_file")
	}

	b.router.Register("surface_shapes.surface_area", "area_file", "shapes")
	b.router.Register("surface_shapes.travel_depth", "depth_file", "shapes")
	b.router.Register("surface_shapes.geodesic_depth", "depth_file", "shapes")
	b.router.Register("surface_shapes.curvature", "mean_curvature_file", "shapes")
	if b.derived.FreeSurferConvexity {
		b.router.Register("surface_shapes.convexity_to_vtk", "output_file", "shapes")
	}
	if b.derived.FreeSurferThickness {
		b.router.Register("surface_shapes.thickness_to_vtk", "output_file", "shapes")
	}
}

// buildSurfaceFeatureFlow assembles the surface_features subflow: folds,
// then sulci and fundi as configured.
func (b *builder) buildSurfaceFeatureFlow() {
	child := graph.New("surface_features")
	add := func(s *graph.Stage) {
		b.check(child.AddStage(s))
	}

	add(graph.ExecStage("folds", "extract_folds",
		in("depth_file"), out("folds_file")))
	b.router.Register("surface_features.folds", "folds_file", "features")

	if b.primary.Sulci {
		add(graph.ExecStage("sulci", "extract_sulci",
			in("folds_file"), out("sulci_file")))
		b.check(child.Connect("folds", "folds_file", "sulci", "folds_file"))
		b.router.Register("surface_features.sulci", "sulci_file", "features")
	}

	if b.primary.Fundi {
		add(graph.ExecStage("fundus_per_fold", "extract_fundi",
			in("folds_file", "curvature_file", "depth_file"), out("fundi_file")))
		b.check(child.Connect("folds", "folds_file", "fundus_per_fold", "folds_file"))
		b.router.Register("surface_features.fundus_per_fold", "fundi_file", "features")

		if b.primary.Sulci {
			add(graph.ExecStage("fundus_per_sulcus", "segment_fundi",
				in("fundi_file", "sulci_file"), out("sulcus_fundi_file")))
			b.check(child.Connect("fundus_per_fold", "fundi_file", "fundus_per_sulcus", "fundi_file"))
			b.check(child.Connect("sulci", "sulci_file", "fundus_per_sulcus", "sulci_file"))
			b.router.Register("surface_features.fundus_per_sulcus", "sulcus_fundi_file", "features")
		}
	}

	if _, err := b.g.Embed(child, "surface_features"); err != nil {
		b.check(err)
		return
	}

	b.connect("surface_shapes", "travel_depth.depth_file", "surface_features", "folds.depth_file")
	if b.primary.Fundi {
		b.connect("surface_shapes", "curvature.mean_curvature_file",
			"surface_features", "fundus_per_fold.curvature_file")
		b.connect("surface_shapes", "rescale_travel_depth.rescaled_file",
			"surface_features", "fundus_per_fold.depth_file")
	}
}

// buildFeatureShapeFlow assembles the surface_feature_shapes subflow:
// spectral and moment measures over the reindexed label regions, with cloned
// stages measuring extracted sulcus regions the same way.
func (b *builder) buildFeatureShapeFlow() {
	child := graph.New("surface_feature_shapes")
	add := func(s *graph.Stage) {
		b.check(child.AddStage(s))
	}
	clone := func(stage, newName string) {
		_, err := child.Clone(stage, newName)
		b.check(err)
		b.check(child.BindConstant(newName, "prefix", cty.StringVal("sulci")))
	}

	// The sulcus variants reuse the label stages wholesale; only their
	// input feature file and output name prefix differ.
	sulciShapes := b.primary.Sulci && b.derived.Features && b.derived.Shapes

	var labelPorts, sulciPorts []string
	if b.derived.Spectra {
		add(graph.ExecStage("spectra_labels", "spectra_per_label",
			optional(in("labels_file", "spectrum_number"), "prefix"), out("spectra_file")))
		b.check(child.BindConstant("spectra_labels", "spectrum_number",
			cty.NumberIntVal(int64(b.primary.SpectrumCount))))
		labelPorts = append(labelPorts, "spectra_labels.labels_file")
		b.router.Register("surface_feature_shapes.spectra_labels", "spectra_file", "shapes")

		if sulciShapes {
			clone("spectra_labels", "spectra_sulci")
			sulciPorts = append(sulciPorts, "spectra_sulci.labels_file")
			b.router.Register("surface_feature_shapes.spectra_sulci", "spectra_file", "shapes")
		}
	}
	if b.derived.Zernike {
		add(graph.ExecStage("zernike_labels", "zernike_moments_per_label",
			optional(in("labels_file", "order"), "prefix"), out("moments_file")))
		b.check(child.BindConstant("zernike_labels", "order",
			cty.NumberIntVal(int64(b.primary.MomentsOrder))))
		labelPorts = append(labelPorts, "zernike_labels.labels_file")
		b.router.Register("surface_feature_shapes.zernike_labels", "moments_file", "shapes")

		if sulciShapes {
			clone("zernike_labels", "zernike_sulci")
			sulciPorts = append(sulciPorts, "zernike_sulci.labels_file")
			b.router.Register("surface_feature_shapes.zernike_sulci", "moments_file", "shapes")
		}
	}

	if _, err := b.g.Embed(child, "surface_feature_shapes"); err != nil {
		b.check(err)
		return
	}

	for _, port := range labelPorts {
		b.connect("surface_labels", "reindex_labels.relabeled_file", "surface_feature_shapes", port)
	}
	for _, port := range sulciPorts {
		b.connect("surface_features", "sulci.sulci_file", "surface_feature_shapes", port)
	}
}

// buildShapeTables gathers the per-hemisphere shape files into a table.
func (b *builder) buildShapeTables() {
	b.add(graph.TransformStage("shape_table_files", "list_strings",
		optional(nil, "string1", "string2", "string3", "string4"),
		out("string_list")))
	b.connect("surface_shapes", "travel_depth.depth_file", "shape_table_files", "string1")
	b.connect("surface_shapes", "geodesic_depth.depth_file", "shape_table_files", "string2")
	b.connect("surface_shapes", "curvature.mean_curvature_file", "shape_table_files", "string3")
	b.connect("surface_shapes", "surface_area.area_file", "shape_table_files", "string4")

	b.add(graph.TransformStage("shape_tables", "write_columns",
		optional(in("columns", "output_table"), "column_names", "delimiter"),
		out("output_table")))
	b.connect("shape_table_files", "string_list", "shape_tables", "columns")
	b.constant("shape_tables", "column_names", cty.ListVal([]cty.Value{cty.StringVal("shape_file")}))
	b.str("shape_tables", "output_table", "shape_files.csv")

	b.router.Register("shape_tables", "output_table", "tables")
}

// buildVertexTable adds the per-vertex measure table.
func (b *builder) buildVertexTable() {
	b.add(graph.ExecStage("vertex_table", "vertex_table",
		in("depth_file", "curvature_file"), out("table_file")))
	b.connect("surface_shapes", "travel_depth.depth_file", "vertex_table", "depth_file")
	b.connect("surface_shapes", "curvature.mean_curvature_file", "vertex_table", "curvature_file")

	b.router.Register("vertex_table", "table_file", "tables")
}
