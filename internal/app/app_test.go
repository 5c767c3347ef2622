package app

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mckenziephagen/mindboggle/internal/flags"
	"github.com/mckenziephagen/mindboggle/internal/manifest"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Subjects:      []string{"S1"},
		SubjectsDir:   t.TempDir(),
		OutputRoot:    t.TempDir(),
		CacheRoot:     t.TempDir(),
		ManifestPaths: []string{filepath.Join("..", "..", "tools")},
		LogLevel:      "error",
		Primary: flags.Primary{
			SurfaceLabels:    flags.LabelsFreeSurfer,
			FreeSurferInputs: true,
		},
	}
}

func TestNewConfigValidation(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		_, err := NewConfig(validConfig(t))
		require.NoError(t, err)
	})

	t.Run("no subjects", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Subjects = nil
		_, err := NewConfig(cfg)
		var confErr *ConfigurationError
		require.ErrorAs(t, err, &confErr)
		assert.Contains(t, confErr.Message, "SUBJECT")
	})

	t.Run("no subjects directory", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.SubjectsDir = ""
		_, err := NewConfig(cfg)
		var confErr *ConfigurationError
		assert.ErrorAs(t, err, &confErr)
	})

	t.Run("ants stem without directory", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.ANTsStem = "stem_"
		_, err := NewConfig(cfg)
		var confErr *ConfigurationError
		require.ErrorAs(t, err, &confErr)
		assert.Contains(t, confErr.Message, "--ants_data")
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("json format", func(t *testing.T) {
		var out bytes.Buffer
		newLogger("info", "json", &out).Info("hello")
		assert.Contains(t, out.String(), `"msg":"hello"`)
	})

	t.Run("text by default", func(t *testing.T) {
		var out bytes.Buffer
		newLogger("info", "", &out).Info("hello")
		assert.Contains(t, out.String(), "msg=hello")
	})

	t.Run("level filters", func(t *testing.T) {
		var out bytes.Buffer
		newLogger("error", "text", &out).Info("hello")
		assert.Empty(t, out.String())
	})
}

func TestNewAppLoadsShippedManifests(t *testing.T) {
	cfg := validConfig(t)
	a := NewApp(io.Discard, &cfg, manifest.NewLoader())

	_, ok := a.Registry().Handler("Identity")
	assert.True(t, ok)
	_, ok = a.Registry().Handler("GrabSurfaces")
	assert.True(t, ok)
	assert.NotNil(t, a.Cache())
}

func TestNewAppPanicsOnUnregisteredHandler(t *testing.T) {
	dir := t.TempDir()
	broken := `
transform "broken" {
  handler = "NotRegistered"
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.hcl"), []byte(broken), 0o644))

	cfg := validConfig(t)
	cfg.ManifestPaths = []string{dir}

	require.Panics(t, func() {
		NewApp(io.Discard, &cfg, manifest.NewLoader())
	})
}

func TestRunRendersGraphInVisualMode(t *testing.T) {
	cfg := validConfig(t)
	cfg.Visual = "hier"

	var out bytes.Buffer
	a := NewApp(&out, &cfg, manifest.NewLoader())
	require.NoError(t, a.Run(context.Background(), &cfg))

	dot := out.String()
	assert.Contains(t, dot, `digraph "mindboggle"`)
	assert.Contains(t, dot, "input_subjects")
}

func TestRunFailsOnAssemblyError(t *testing.T) {
	cfg := validConfig(t)
	cfg.Subjects = []string{}

	a := NewApp(io.Discard, &cfg, manifest.NewLoader())
	err := a.Run(context.Background(), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assemble")
}
