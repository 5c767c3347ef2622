package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mckenziephagen/mindboggle/internal/ctxlog"
	"github.com/mckenziephagen/mindboggle/internal/executor"
	"github.com/mckenziephagen/mindboggle/internal/flags"
	"github.com/mckenziephagen/mindboggle/internal/pipeline"
)

// Run executes the main application logic based on the provided configuration.
func (a *App) Run(ctx context.Context, cfg *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	derived := flags.Resolve(cfg.Primary)
	a.logger.Debug("Feature flags resolved.", "rules", flags.RuleNames())

	asm, err := pipeline.Assemble(ctx, cfg.Primary, derived, pipeline.Params{
		Subjects:    cfg.Subjects,
		Atlases:     cfg.Atlases,
		SubjectsDir: cfg.SubjectsDir,
		OutputRoot:  cfg.OutputRoot,
		ANTsDir:     cfg.ANTsDir,
		ANTsStem:    cfg.ANTsStem,
	}, a.model, a.cache)
	if err != nil {
		return fmt.Errorf("failed to assemble pipeline: %w", err)
	}

	if cfg.Visual != "" {
		a.logger.Debug("Rendering graph instead of running.", "mode", cfg.Visual)
		return asm.Graph.WriteDot(a.outW, cfg.Visual, len(asm.Sweep.Expand()))
	}

	if err := os.MkdirAll(cfg.OutputRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create output root: %w", err)
	}

	plan, err := executor.NewPlan(asm.Graph, asm.Sweep.Expand(), executor.Env{
		Model:            a.model,
		Registry:         a.registry,
		Converter:        a.converter,
		Router:           asm.Router,
		WorkRoot:         filepath.Join(a.cache.Root(), "workspace"),
		ToolsDir:         cfg.ToolsDir,
		DimensionSources: asm.DimensionSources,
	})
	if err != nil {
		return fmt.Errorf("failed to plan execution: %w", err)
	}

	if cfg.RunStage != "" {
		// Worker mode: a queue job re-entered the binary for one stage.
		a.logger.Info("Running single stage job.", "job", cfg.RunStage)
		return plan.RunJob(ctx, cfg.RunStage)
	}

	policy := a.policyFor(cfg, plan)
	a.logger.Info("🚀 Starting pipeline run.",
		"policy", policy.Name(), "stages", len(plan.StageNames()), "run_contexts", len(plan.Contexts()))

	report, err := policy.Run(ctx, plan)
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}

	counts := report.Counts()
	a.logger.Info("🏁 Run finished.", "run_id", report.RunID,
		"done", counts[executor.Done], "failed", counts[executor.Failed], "skipped", counts[executor.Skipped])

	if report.Failed() {
		return fmt.Errorf("run %s failed: %w", report.RunID, report.Err())
	}
	return nil
}

// policyFor selects the execution policy: the condor queue when requested, a
// worker pool above one worker, else the sequential walk.
func (a *App) policyFor(cfg *Config, plan *executor.Plan) executor.Policy {
	if cfg.Cluster {
		return executor.Cluster{
			Queue: &executor.CondorQueue{
				Workspace:  filepath.Join(a.cache.Root(), "condor"),
				WorkerArgs: os.Args,
				Plan:       plan,
			},
		}
	}
	if cfg.WorkerCount > 1 {
		return executor.Parallel{Workers: cfg.WorkerCount}
	}
	return executor.Sequential{}
}
