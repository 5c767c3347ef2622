package pipeline

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/mckenziephagen/mindboggle/internal/graph"
	"github.com/mckenziephagen/mindboggle/internal/refcache"
)

// buildVolumeLabelFlow adds the volume side of the pipeline: FreeSurfer
// volume conversion, the atlas fetch when ANTs data is present, the
// volume_labels subflow filling cortex and noncortex with labels, and the
// label volume tables.
func (b *builder) buildVolumeLabelFlow(ctx context.Context, cache *refcache.Cache) {
	if b.primary.FreeSurferInputs {
		b.add(graph.TransformStage("grab_aseg", "grab_volume",
			in("subjects_dir", "subject", "volume"), out("volume_file")))
		b.str("grab_aseg", "subjects_dir", b.params.SubjectsDir)
		b.connect("input_subjects", "subject", "grab_aseg", "subject")
		b.str("grab_aseg", "volume", "aseg.mgz")

		b.add(graph.ExecStage("aseg_nifti", "mri_convert",
			optional(in("in_file", "output_name"), "out_type"), out("out_file")))
		b.connect("grab_aseg", "volume_file", "aseg_nifti", "in_file")
		b.str("aseg_nifti", "output_name", "aseg.nii.gz")

		b.add(graph.TransformStage("grab_filled", "grab_volume",
			in("subjects_dir", "subject", "volume"), out("volume_file")))
		b.str("grab_filled", "subjects_dir", b.params.SubjectsDir)
		b.connect("input_subjects", "subject", "grab_filled", "subject")
		b.str("grab_filled", "volume", "filled.mgz")

		b.add(graph.ExecStage("filled_nifti", "mri_convert",
			optional(in("in_file", "output_name"), "out_type"), out("out_file")))
		b.connect("grab_filled", "volume_file", "filled_nifti", "in_file")
		b.str("filled_nifti", "output_name", "filled.nii.gz")
	}

	if b.primary.ANTs {
		b.add(graph.TransformStage("fetch_atlas", "fetch_reference",
			optional(in("data_file"), "url", "hash"), out("data_path")))
		b.connect("input_volume_atlases", "atlas", "fetch_atlas", "data_file")
		b.str("fetch_atlas", "url", ReferenceURL)
	}

	child := graph.New("volume_labels")
	add := func(s *graph.Stage) {
		b.check(child.AddStage(s))
	}
	connect := func(srcStage, srcPort, dstStage, dstPort string) {
		b.check(child.Connect(srcStage, srcPort, dstStage, dstPort))
	}

	if b.primary.FreeSurferInputs {
		add(graph.ExecStage("remove_medial_labels", "remove_labels",
			in("label_volume"), out("out_file")))
		add(graph.ExecStage("fill_brain", "fill_left_right",
			in("filled_volume"), out("out_file")))
		add(graph.ExecStage("split_brain", "split_brain",
			in("label_volume"), out("out_file")))
		connect("fill_brain", "out_file", "split_brain", "label_volume")
		add(graph.ExecStage("hemi_mask", "create_hemi_mask",
			in("hemi", "split_volume"), out("mask_file")))
		connect("split_brain", "out_file", "hemi_mask", "split_volume")
		add(graph.ExecStage("mask_hemi", "mask_volume",
			in("mask_file", "label_volume"), out("out_file")))
		connect("hemi_mask", "mask_file", "mask_hemi", "mask_file")
		connect("remove_medial_labels", "out_file", "mask_hemi", "label_volume")
		add(graph.ExecStage("fill_cortex_freesurfer", "fill_cortex",
			in("label_volume"), out("out_file")))
		connect("mask_hemi", "out_file", "fill_cortex_freesurfer", "label_volume")
		add(graph.ExecStage("freesurfer_filled_labels", "mri_convert",
			optional(in("in_file", "output_name"), "out_type"), out("out_file")))
		connect("fill_cortex_freesurfer", "out_file", "freesurfer_filled_labels", "in_file")
		b.check(child.BindConstant("freesurfer_filled_labels", "output_name",
			cty.StringVal("freesurfer_filled_labels.nii.gz")))
	}

	if b.primary.ANTs {
		// The Atropos-to-MNI152 affine is a build-time constant resolved
		// through the cache once per invocation.
		affinePath, err := cache.Resolve(ctx, AtroposToMNI152Affine,
			ReferenceURL+"/"+AtroposToMNI152Affine, "")
		b.check(err)

		add(graph.ExecStage("ants_apply_transforms", "ants_apply_transforms",
			in("atlas_file", "reference_file", "warp_file", "affine_file"),
			out("out_file")))
		b.check(child.BindConstant("ants_apply_transforms", "affine_file", cty.StringVal(affinePath)))
		add(graph.ExecStage("fill_cortex_ants", "fill_cortex",
			in("label_volume"), out("out_file")))
		connect("ants_apply_transforms", "out_file", "fill_cortex_ants", "label_volume")
		add(graph.ExecStage("ants_filled_labels", "mri_convert",
			optional(in("in_file", "output_name"), "out_type"), out("out_file")))
		connect("fill_cortex_ants", "out_file", "ants_filled_labels", "in_file")
		b.check(child.BindConstant("ants_filled_labels", "output_name",
			cty.StringVal("ants_filled_labels.nii.gz")))
	}

	if _, err := b.g.Embed(child, "volume_labels"); err != nil {
		b.check(err)
		return
	}

	if b.primary.FreeSurferInputs {
		b.connect("aseg_nifti", "out_file", "volume_labels", "remove_medial_labels.label_volume")
		b.connect("filled_nifti", "out_file", "volume_labels", "fill_brain.filled_volume")
		b.connect("input_hemispheres", "hemi", "volume_labels", "hemi_mask.hemi")
		b.router.Register("volume_labels.freesurfer_filled_labels", "out_file", "labels")
	}
	if b.primary.ANTs {
		b.connect("fetch_atlas", "data_path", "volume_labels", "ants_apply_transforms.atlas_file")
		b.connect("fetch_ants_data", "brain", "volume_labels", "ants_apply_transforms.reference_file")
		b.connect("fetch_ants_data", "invwarp", "volume_labels", "ants_apply_transforms.warp_file")
		b.router.Register("volume_labels.ants_filled_labels", "out_file", "labels")
	}

	if b.derived.Shapes {
		b.buildVolumeTables()
	}
}

// buildVolumeTables adds the per-label volume tables measured over the
// filled label volumes.
func (b *builder) buildVolumeTables() {
	labelsStage, labelsPort := "volume_labels", "freesurfer_filled_labels.out_file"
	if !b.primary.FreeSurferInputs {
		labelsPort = "ants_filled_labels.out_file"
	}

	b.add(graph.ExecStage("label_volumes", "label_volumes",
		in("labels_file"), out("table_file")))
	b.connect(labelsStage, labelsPort, "label_volumes", "labels_file")
	b.router.Register("label_volumes", "table_file", "tables")

	if b.derived.VolumeThickness {
		b.add(graph.ExecStage("cortex_thickness_table", "thickness_table",
			in("labels_file"), out("table_file")))
		b.connect(labelsStage, labelsPort, "cortex_thickness_table", "labels_file")
		b.router.Register("cortex_thickness_table", "table_file", "tables")
	}
}
