package transforms

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zclconf/go-cty/cty"

	"github.com/mckenziephagen/mindboggle/internal/registry"
)

// FreeSurferModule registers the locators for per-subject FreeSurfer files.
type FreeSurferModule struct{}

// GrabSurfacesInput is the input schema for the grab_surfaces transform.
type GrabSurfacesInput struct {
	SubjectsDir string `mb:"subjects_dir"`
	Subject     string `mb:"subject"`
	Hemi        string `mb:"hemi"`
}

// onGrabSurfaces locates one hemisphere's surface and overlay files in the
// FreeSurfer subjects layout. Only the pial surface is mandatory; overlay
// ports for absent files resolve to the empty string.
func onGrabSurfaces(ctx context.Context, input any, workdir string) (map[string]cty.Value, error) {
	in := input.(*GrabSurfacesInput)
	surfDir := filepath.Join(in.SubjectsDir, in.Subject, "surf")

	pial := filepath.Join(surfDir, in.Hemi+".pial")
	if _, err := os.Stat(pial); err != nil {
		return nil, fmt.Errorf("missing pial surface for %s/%s: %s", in.Subject, in.Hemi, pial)
	}

	optional := func(name string) cty.Value {
		path := filepath.Join(surfDir, in.Hemi+"."+name)
		if _, err := os.Stat(path); err != nil {
			return cty.StringVal("")
		}
		return cty.StringVal(path)
	}

	return map[string]cty.Value{
		"pial":      cty.StringVal(pial),
		"white":     optional("white"),
		"thickness": optional("thickness"),
		"sulc":      optional("sulc"),
	}, nil
}

// GrabAnnotInput is the input schema for the grab_annot transform.
type GrabAnnotInput struct {
	SubjectsDir string `mb:"subjects_dir"`
	Subject     string `mb:"subject"`
	Hemi        string `mb:"hemi"`
	Annot       string `mb:"annot"`
}

// onGrabAnnot locates one hemisphere's annotation file.
func onGrabAnnot(ctx context.Context, input any, workdir string) (map[string]cty.Value, error) {
	in := input.(*GrabAnnotInput)
	annot := in.Annot
	if annot == "" {
		annot = "aparc.annot"
	}
	path := filepath.Join(in.SubjectsDir, in.Subject, "label", in.Hemi+"."+annot)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("missing annot file for %s/%s: %s", in.Subject, in.Hemi, path)
	}
	return map[string]cty.Value{"annot_file": cty.StringVal(path)}, nil
}

// GrabVolumeInput is the input schema for the grab_volume transform.
type GrabVolumeInput struct {
	SubjectsDir string `mb:"subjects_dir"`
	Subject     string `mb:"subject"`
	Volume      string `mb:"volume"`
}

// onGrabVolume locates one file under a subject's mri directory.
func onGrabVolume(ctx context.Context, input any, workdir string) (map[string]cty.Value, error) {
	in := input.(*GrabVolumeInput)
	path := filepath.Join(in.SubjectsDir, in.Subject, "mri", in.Volume)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("missing volume for %s: %s", in.Subject, path)
	}
	return map[string]cty.Value{"volume_file": cty.StringVal(path)}, nil
}

// Register registers the module's handlers.
func (m *FreeSurferModule) Register(r *registry.Registry) {
	r.RegisterHandler("GrabSurfaces", &registry.Handler{
		NewInput: func() any { return new(GrabSurfacesInput) },
		Fn:       onGrabSurfaces,
	})
	r.RegisterHandler("GrabAnnot", &registry.Handler{
		NewInput: func() any { return new(GrabAnnotInput) },
		Fn:       onGrabAnnot,
	})
	r.RegisterHandler("GrabVolume", &registry.Handler{
		NewInput: func() any { return new(GrabVolumeInput) },
		Fn:       onGrabVolume,
	})
}
