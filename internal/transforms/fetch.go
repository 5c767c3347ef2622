package transforms

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zclconf/go-cty/cty"

	"github.com/mckenziephagen/mindboggle/internal/refcache"
	"github.com/mckenziephagen/mindboggle/internal/registry"
)

// FetchModule registers the reference-data fetcher. It is constructed with
// the process-wide cache so every run context shares one verified copy of
// each reference file.
type FetchModule struct {
	Cache *refcache.Cache
}

// FetchReferenceInput is the input schema for the fetch_reference transform.
type FetchReferenceInput struct {
	DataFile string `mb:"data_file"`
	URL      string `mb:"url"`
	Hash     string `mb:"hash"`
}

// FetchClassifierInput is the input schema for the fetch_classifier
// transform.
type FetchClassifierInput struct {
	Hemi       string `mb:"hemi"`
	Classifier string `mb:"classifier"`
	URL        string `mb:"url"`
	Hash       string `mb:"hash"`
}

// Register registers the module's handlers.
func (m *FetchModule) Register(r *registry.Registry) {
	r.RegisterHandler("FetchReference", &registry.Handler{
		NewInput: func() any { return new(FetchReferenceInput) },
		Fn: func(ctx context.Context, input any, workdir string) (map[string]cty.Value, error) {
			in := input.(*FetchReferenceInput)
			url := in.URL
			if url != "" && in.DataFile != "" {
				url = url + "/" + in.DataFile
			}
			path, err := m.Cache.Resolve(ctx, in.DataFile, url, in.Hash)
			if err != nil {
				return nil, err
			}
			return map[string]cty.Value{"data_path": cty.StringVal(path)}, nil
		},
	})
	r.RegisterHandler("FetchClassifier", &registry.Handler{
		NewInput: func() any { return new(FetchClassifierInput) },
		Fn: func(ctx context.Context, input any, workdir string) (map[string]cty.Value, error) {
			in := input.(*FetchClassifierInput)
			dataFile := in.Hemi + "." + in.Classifier + ".gcs"
			url := in.URL
			if url != "" {
				url = url + "/" + dataFile
			}
			path, err := m.Cache.Resolve(ctx, dataFile, url, in.Hash)
			if err != nil {
				return nil, err
			}
			return map[string]cty.Value{"classifier_file": cty.StringVal(path)}, nil
		},
	})
}

// ANTsModule registers the ANTs output locator.
type ANTsModule struct{}

// FetchANTsInput is the input schema for the fetch_ants_data transform.
type FetchANTsInput struct {
	SubjectsDir string `mb:"subjects_dir"`
	Subject     string `mb:"subject"`
	Stem        string `mb:"stem"`
}

// onFetchANTsData composes the paths of the antsCorticalThickness.sh outputs
// for one subject and verifies they exist.
func onFetchANTsData(ctx context.Context, input any, workdir string) (map[string]cty.Value, error) {
	in := input.(*FetchANTsInput)
	base := filepath.Join(in.SubjectsDir, in.Subject, in.Stem)

	outputs := map[string]string{
		"brain":    base + "BrainExtractionBrain.nii.gz",
		"segments": base + "BrainSegmentation.nii.gz",
		"affine":   base + "SubjectToTemplate0GenericAffine.mat",
		"warp":     base + "SubjectToTemplate1Warp.nii.gz",
		"invwarp":  base + "TemplateToSubject0Warp.nii.gz",
	}

	result := make(map[string]cty.Value, len(outputs))
	for port, path := range outputs {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("missing ANTs output for subject %s: %s", in.Subject, path)
		}
		result[port] = cty.StringVal(path)
	}
	return result, nil
}

// Register registers the module's handlers.
func (m *ANTsModule) Register(r *registry.Registry) {
	r.RegisterHandler("FetchANTsData", &registry.Handler{
		NewInput: func() any { return new(FetchANTsInput) },
		Fn:       onFetchANTsData,
	})
}
