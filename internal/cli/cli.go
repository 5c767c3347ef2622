package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mckenziephagen/mindboggle/internal/app"
	"github.com/mckenziephagen/mindboggle/internal/flags"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments and the environment. It returns a
// validated Config, a boolean indicating if the program should exit cleanly,
// or an error (ExitError for flag-level problems, app.ConfigurationError for
// invalid configurations).
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")

	// --ants_data takes two tokens, which the flag package cannot express,
	// so it is pulled out of the argument list first.
	args, antsDir, antsStem, err := extractANTsData(args)
	if err != nil {
		return nil, false, err
	}

	flagSet := flag.NewFlagSet("mindboggle", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
Mindboggle - automated shape analysis of brain image data.

Usage:
  mindboggle [options] SUBJECT [SUBJECT...]

Arguments:
  SUBJECT
    FreeSurfer subject identifier under SUBJECTS_DIR (or --freesurfer_data).

Options:
  --ants_data DIR STEM
    Directory and file stem of antsCorticalThickness.sh output.
`)
		flagSet.PrintDefaults()
	}

	outputFlag := flagSet.String("o", defaultOutputRoot(), "Output root directory for routed results.")
	workersFlag := flagSet.Int("n", 1, "Number of concurrent workers. 1 selects sequential execution.")
	clusterFlag := flagSet.Bool("cluster", false, "Submit the run to HTCondor instead of executing locally.")

	surfaceLabelsFlag := flagSet.String("surface_labels", "freesurfer", "Surface label source. Options: 'freesurfer', 'atlas' or 'manual'.")
	sulciFlag := flagSet.Bool("sulci", false, "Extract sulci from folds.")
	fundiFlag := flagSet.Bool("fundi", false, "Extract a fundus curve per fold.")
	spectraFlag := flagSet.Int("spectra", 0, "Number of Laplace-Beltrami spectrum components per label. 0 disables spectra.")
	momentsFlag := flagSet.Int("moments", 0, "Order of Zernike moments per label. 0 disables moments.")
	thicknessFlag := flagSet.Bool("thickness", false, "Compute cortical thickness tables.")
	antsurferFlag := flagSet.Bool("antsurfer_labels", false, "Combine ANTs and FreeSurfer volume labels.")
	noVolumesFlag := flagSet.Bool("no_volumes", false, "Skip volume processing.")
	noSurfacesFlag := flagSet.Bool("no_surfaces", false, "Skip surface processing.")
	noLabelsFlag := flagSet.Bool("no_labels", false, "Skip labeling.")
	noShapesFlag := flagSet.Bool("no_shapes", false, "Skip shape measurement.")
	verticesFlag := flagSet.Bool("vertices", false, "Write the per-vertex shape table.")

	var atlases stringList
	flagSet.Var(&atlases, "atlases", "Additional volume atlas file name. Repeatable, or comma separated.")
	freesurferDataFlag := flagSet.String("freesurfer_data", "", "FreeSurfer subjects directory. Overrides SUBJECTS_DIR.")
	visualFlag := flagSet.String("visual", "", "Render the assembled graph instead of running. Options: 'hier', 'flat' or 'exec'.")
	runStageFlag := flagSet.String("run_stage", "", "Execute a single stage job and exit. Used by cluster workers.")
	manifestsFlag := flagSet.String("manifests", "tools", "Path to the directory containing tool manifest definitions.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	subjects := flagSet.Args()
	if len(subjects) == 0 {
		slog.Debug("No subjects provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	switch *visualFlag {
	case "", "hier", "flat", "exec":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid visual mode: must be 'hier', 'flat', or 'exec'"}
	}

	var labelSource flags.SurfaceLabelSource
	switch *surfaceLabelsFlag {
	case "freesurfer":
		labelSource = flags.LabelsFreeSurfer
	case "atlas":
		labelSource = flags.LabelsAtlas
	case "manual":
		labelSource = flags.LabelsManual
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid surface_labels: must be 'freesurfer', 'atlas', or 'manual'"}
	}
	slog.Debug("CLI parameter validation complete.")

	subjectsDir := *freesurferDataFlag
	if subjectsDir == "" {
		subjectsDir = os.Getenv("SUBJECTS_DIR")
	}
	if subjectsDir == "" {
		return nil, false, &app.ConfigurationError{
			Message: "no FreeSurfer subjects directory: set SUBJECTS_DIR or pass --freesurfer_data",
		}
	}

	config, err := app.NewConfig(app.Config{
		Subjects:    subjects,
		SubjectsDir: subjectsDir,
		OutputRoot:  *outputFlag,
		Atlases:     atlases,
		ANTsDir:     antsDir,
		ANTsStem:    antsStem,
		Primary: flags.Primary{
			SurfaceLabels:    labelSource,
			Sulci:            *sulciFlag,
			Fundi:            *fundiFlag,
			SpectrumCount:    *spectraFlag,
			MomentsOrder:     *momentsFlag,
			Thickness:        *thicknessFlag,
			AntsurferLabels:  *antsurferFlag,
			NoVolumes:        *noVolumesFlag,
			NoSurfaces:       *noSurfacesFlag,
			NoLabels:         *noLabelsFlag,
			NoShapes:         *noShapesFlag,
			Vertices:         *verticesFlag,
			ANTs:             antsDir != "",
			FreeSurferInputs: true,
		},
		WorkerCount:   *workersFlag,
		Cluster:       *clusterFlag,
		Visual:        *visualFlag,
		RunStage:      *runStageFlag,
		CacheEnvVar:   "MINDBOGGLE_CACHE",
		CacheRoot:     defaultCacheRoot(),
		ToolsDir:      os.Getenv("MINDBOGGLE_TOOLS"),
		ManifestPaths: []string{*manifestsFlag},
		LogFormat:     logFormat,
		LogLevel:      logLevel,
	})
	if err != nil {
		return nil, false, err
	}

	slog.Debug("CLI parser finished successfully.", "subjects", len(config.Subjects))
	return config, false, nil
}

// extractANTsData removes the two-token --ants_data argument from args.
// Exactly two tokens (the data directory and the file stem) must follow the
// flag; any other count is a configuration error.
func extractANTsData(args []string) (rest []string, dir, stem string, err error) {
	for i := 0; i < len(args); i++ {
		if args[i] != "--ants_data" && args[i] != "-ants_data" {
			rest = append(rest, args[i])
			continue
		}
		var tokens []string
		for j := i + 1; j < len(args) && j <= i+2; j++ {
			if strings.HasPrefix(args[j], "-") {
				break
			}
			tokens = append(tokens, args[j])
		}
		if len(tokens) != 2 {
			return nil, "", "", &app.ConfigurationError{
				Message: "--ants_data requires exactly two values: the ANTs data directory and the file stem",
			}
		}
		dir, stem = tokens[0], tokens[1]
		i += 2
	}
	return rest, dir, stem, nil
}

// stringList is a repeatable, comma separable list flag value.
type stringList []string

// String implements flag.Value.
func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

// Set implements flag.Value.
func (l *stringList) Set(v string) error {
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			*l = append(*l, s)
		}
	}
	return nil
}

// defaultOutputRoot is the per-user result directory used when -o is absent.
func defaultOutputRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "mindboggled"
	}
	return filepath.Join(home, "mindboggled")
}

// defaultCacheRoot is the cache directory used when MINDBOGGLE_CACHE is
// unset.
func defaultCacheRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "mindboggle_cache"
	}
	return filepath.Join(home, "mindboggle_cache")
}
