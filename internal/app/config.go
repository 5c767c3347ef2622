package app

import (
	"github.com/mckenziephagen/mindboggle/internal/flags"
)

// ConfigurationError reports an invalid flag or environment combination. It
// is always raised before any graph construction happens.
type ConfigurationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return e.Message
}

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// Subjects are the dataset identifiers swept by the subject dimension.
	Subjects []string
	// SubjectsDir is the FreeSurfer subjects root directory.
	SubjectsDir string
	// OutputRoot receives the routed result tree.
	OutputRoot string
	// Atlases extends the built-in volume atlas sweep values.
	Atlases []string

	// ANTsDir and ANTsStem locate antsCorticalThickness.sh outputs; both
	// are set together or not at all.
	ANTsDir  string
	ANTsStem string

	// Primary is the feature flag assignment before derivation.
	Primary flags.Primary

	WorkerCount int
	Cluster     bool
	// Visual, when set, renders the assembled graph instead of running it.
	Visual string
	// RunStage is a single job id to execute in worker mode.
	RunStage string

	// CacheEnvVar names the environment variable that overrides the
	// reference cache root; CacheRoot is the fallback.
	CacheEnvVar string
	CacheRoot   string
	// ToolsDir, when set, prefixes every external tool binary path.
	ToolsDir string
	// ManifestPaths are the files or directories searched for tool and
	// transform manifests.
	ManifestPaths []string

	LogFormat string
	LogLevel  string
}

// NewConfig validates a configuration. Violations are ConfigurationErrors so
// callers can exit before any stage is constructed.
func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.Subjects) == 0 {
		return nil, &ConfigurationError{Message: "at least one SUBJECT argument is required"}
	}
	if cfg.SubjectsDir == "" {
		return nil, &ConfigurationError{Message: "no FreeSurfer subjects directory: set SUBJECTS_DIR or pass --freesurfer_data"}
	}
	if (cfg.ANTsDir == "") != (cfg.ANTsStem == "") {
		return nil, &ConfigurationError{Message: "--ants_data requires exactly two values: the ANTs data directory and the file stem"}
	}
	if cfg.CacheRoot == "" {
		return nil, &ConfigurationError{Message: "cache root must not be empty"}
	}
	return &cfg, nil
}
