package router

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyRulesInOrder(t *testing.T) {
	r := New("/out", []SinkRule{
		{Match: "_hemi_lh", Replace: "left_surface"},
		{Match: "smooth_skeletons.vtk", Replace: "smooth_fundi.vtk"},
	})

	got := r.ApplyRules("sub/_hemi_lh/out/smooth_skeletons.vtk")
	assert.Equal(t, "sub/left_surface/out/smooth_fundi.vtk", got)
}

func TestApplyRulesEachOnPreviousResult(t *testing.T) {
	// The second rule matches only the output of the first.
	r := New("/out", []SinkRule{
		{Match: "_subject_", Replace: "subj-"},
		{Match: "subj-S1", Replace: "first_subject"},
	})
	assert.Equal(t, "first_subject/file.vtk", r.ApplyRules("_subject_S1/file.vtk"))
}

func TestRoutePlacesFile(t *testing.T) {
	workdir := t.TempDir()
	produced := filepath.Join(workdir, "smooth_skeletons.vtk")
	require.NoError(t, os.WriteFile(produced, []byte("vtk-data"), 0o644))

	root := t.TempDir()
	r := New(root, []SinkRule{
		{Match: "_hemi_lh", Replace: "left_surface"},
		{Match: "_subject_", Replace: ""},
		{Match: "smooth_skeletons.vtk", Replace: "smooth_fundi.vtk"},
	})
	r.Register("smooth_fundi", "skeletons", "features")

	final, err := r.Route(context.Background(), "smooth_fundi", "skeletons",
		[]string{"_subject_S1", "_hemi_lh"}, produced)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "features", "S1", "left_surface", "smooth_fundi.vtk"), final)

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "vtk-data", string(data))
}

func TestRouteUnregisteredPort(t *testing.T) {
	r := New(t.TempDir(), nil)
	_, err := r.Route(context.Background(), "stage", "port", nil, "file")
	assert.ErrorContains(t, err, "no route registered")
}

func TestRouteDuplicateProducers(t *testing.T) {
	workdir := t.TempDir()
	produced := filepath.Join(workdir, "labels.nii.gz")
	require.NoError(t, os.WriteFile(produced, []byte("x"), 0o644))

	r := New(t.TempDir(), nil)
	r.Register("freesurfer_filled_labels", "output_file", "labels")
	r.Register("ants_filled_labels", "output_file", "labels")

	_, err := r.Route(context.Background(), "freesurfer_filled_labels", "output_file", nil, produced)
	require.NoError(t, err)

	var rerr *RoutingError
	_, err = r.Route(context.Background(), "ants_filled_labels", "output_file", nil, produced)
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "ants_filled_labels.output_file", rerr.Producer)
	assert.Equal(t, "freesurfer_filled_labels.output_file", rerr.Existing)
}

func TestRouteSameProducerOverwrites(t *testing.T) {
	workdir := t.TempDir()
	produced := filepath.Join(workdir, "table.csv")
	require.NoError(t, os.WriteFile(produced, []byte("v1"), 0o644))

	r := New(t.TempDir(), nil)
	r.Register("shape_tables", "label_table", "tables")

	first, err := r.Route(context.Background(), "shape_tables", "label_table", nil, produced)
	require.NoError(t, err)

	// A rerun of the same stage/port overwrites in place.
	require.NoError(t, os.WriteFile(produced, []byte("v2"), 0o644))
	second, err := r.Route(context.Background(), "shape_tables", "label_table", nil, produced)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	data, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}
