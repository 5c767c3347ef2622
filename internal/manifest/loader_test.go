package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

// writeManifests writes the given relative-path -> content map into a fresh
// temporary directory and returns its root.
func writeManifests(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestLoadToolManifest(t *testing.T) {
	root := writeManifests(t, map[string]string{
		"freesurfer/manifest.hcl": `
tool "mri_convert" {
  description = "Convert between image formats."
  binary      = "mri_convert"

  input "in_file" {}
  input "out_type" {
    default = "niigz"
  }

  output "out_file" {
    filename = "converted.nii.gz"
  }

  command = ["${binary}", "--out_type", "${out_type}", "${in_file}", "${out_file}"]
}
`,
	})

	model, err := NewLoader().Load(context.Background(), root)
	require.NoError(t, err)

	tool, ok := model.Tools["mri_convert"]
	require.True(t, ok)
	assert.Equal(t, "mri_convert", tool.Binary)
	require.Len(t, tool.Outputs, 1)
	filename, err := RenderTemplate(tool.Outputs[0].Filename, nil)
	require.NoError(t, err)
	assert.Equal(t, "converted.nii.gz", filename)

	require.Contains(t, tool.Inputs, "in_file")
	assert.False(t, tool.Inputs["in_file"].Optional)
	require.Contains(t, tool.Inputs, "out_type")
	assert.True(t, tool.Inputs["out_type"].Optional)
	assert.Equal(t, "niigz", tool.Inputs["out_type"].Default.AsString())
}

func TestLoadTransformManifest(t *testing.T) {
	root := writeManifests(t, map[string]string{
		"transforms.hcl": `
transform "write_columns" {
  handler = "WriteColumns"

  input "columns" {}
  input "delimiter" {
    default = ","
  }

  output "output_table" {}
}
`,
	})

	model, err := NewLoader().Load(context.Background(), root)
	require.NoError(t, err)

	tr, ok := model.Transforms["write_columns"]
	require.True(t, ok)
	assert.Equal(t, "WriteColumns", tr.Handler)
	require.Len(t, tr.Outputs, 1)
	assert.Equal(t, "output_table", tr.Outputs[0].Name)
}

func TestLoadToolWithTemplatedCommand(t *testing.T) {
	root := writeManifests(t, map[string]string{
		"overlay.hcl": `
tool "overlay_to_vtk" {
  binary = "overlay_to_vtk"

  input "overlay_file" {}
  input "vtk_file" {}
  input "output_name" {}
  input "flag" {
    default = ""
  }

  output "output_file" {
    filename = "${output_name}"
  }

  command = [
    "${binary}",
    "%{ if flag != "" }--flag%{ endif }",
    "${overlay_file}",
    "${vtk_file}",
    "${output_file}",
  ]
}
`,
	})

	// Variable references in command and filename stay unevaluated at load
	// time; they only resolve once the executor supplies the stage's values.
	model, err := NewLoader().Load(context.Background(), root)
	require.NoError(t, err)
	tool, ok := model.Tools["overlay_to_vtk"]
	require.True(t, ok)
	require.Len(t, tool.Command, 5)

	require.NotNil(t, tool.Outputs[0].Filename)
	filename, err := RenderTemplate(tool.Outputs[0].Filename, map[string]cty.Value{
		"output_name": cty.StringVal("thickness.vtk"),
	})
	require.NoError(t, err)
	assert.Equal(t, "thickness.vtk", filename)

	argv, err := tool.RenderCommand(map[string]cty.Value{
		"binary":       cty.StringVal("/opt/tools/overlay_to_vtk"),
		"flag":         cty.StringVal(""),
		"overlay_file": cty.StringVal("lh.thickness"),
		"vtk_file":     cty.StringVal("pial.vtk"),
		"output_file":  cty.StringVal("thickness.vtk"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/opt/tools/overlay_to_vtk", "lh.thickness", "pial.vtk", "thickness.vtk",
	}, argv)
}

func TestLoadToolWithoutFilename(t *testing.T) {
	root := writeManifests(t, map[string]string{
		"plain.hcl": `
tool "plain" {
  binary = "plain"

  output "out_file" {}

  command = ["${binary}", "${out_file}"]
}
`,
	})
	model, err := NewLoader().Load(context.Background(), root)
	require.NoError(t, err)
	assert.Nil(t, model.Tools["plain"].Outputs[0].Filename)
}

func TestLoadRejectsToolWithoutCommand(t *testing.T) {
	root := writeManifests(t, map[string]string{
		"bad.hcl": `
tool "broken" {
  binary  = "broken"
  command = []
}
`,
	})
	_, err := NewLoader().Load(context.Background(), root)
	assert.ErrorContains(t, err, "declares no command")
}

func TestLoadMissingPathIsNotAnError(t *testing.T) {
	model, err := NewLoader().Load(context.Background(), filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, model.Tools)
}

func TestRenderCommand(t *testing.T) {
	tool := &Tool{
		Type:   "travel_depth",
		Binary: "TravelDepthMain",
		Command: []hcl.Expression{
			MustTemplate("${binary}"),
			MustTemplate("${surface_file}"),
			MustTemplate("${out_file}"),
			MustTemplate("${extra}"),
		},
	}

	argv, err := tool.RenderCommand(map[string]cty.Value{
		"binary":       cty.StringVal("/opt/tools/TravelDepthMain"),
		"surface_file": cty.StringVal("lh.pial.vtk"),
		"out_file":     cty.StringVal("depth.vtk"),
		"extra":        cty.StringVal(""),
	})
	require.NoError(t, err)
	// Empty renderings drop out of the argv.
	assert.Equal(t, []string{"/opt/tools/TravelDepthMain", "lh.pial.vtk", "depth.vtk"}, argv)

	_, err = tool.RenderCommand(map[string]cty.Value{"binary": cty.StringVal("x")})
	assert.ErrorContains(t, err, "failed to evaluate template")
}

func TestDecodeInputs(t *testing.T) {
	type input struct {
		Columns   []string `mb:"columns"`
		Delimiter string   `mb:"delimiter"`
	}

	defs := map[string]*Input{
		"columns": {Name: "columns"},
		"delimiter": {
			Name:     "delimiter",
			Optional: true,
			Default:  ptr(cty.StringVal(",")),
		},
	}

	var in input
	err := NewConverter().DecodeInputs(context.Background(), &in, map[string]cty.Value{
		"columns": cty.ListVal([]cty.Value{cty.StringVal("label"), cty.StringVal("volume")}),
	}, defs)
	require.NoError(t, err)
	assert.Equal(t, []string{"label", "volume"}, in.Columns)
	assert.Equal(t, ",", in.Delimiter, "default applies when the value is absent")

	t.Run("missing required input", func(t *testing.T) {
		var in input
		err := NewConverter().DecodeInputs(context.Background(), &in, nil, defs)
		assert.ErrorContains(t, err, `missing required input "columns"`)
	})
}

func ptr(v cty.Value) *cty.Value { return &v }
