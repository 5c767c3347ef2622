package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mckenziephagen/mindboggle/internal/ctxlog"
)

// JobState is the lifecycle of one submitted queue job.
type JobState int

const (
	JobPending JobState = iota
	JobRunning
	JobDone
	JobFailed
	JobSkipped
)

// Job is one (run context, stage) execution handed to a queue.
type Job struct {
	ID        string
	Stage     string
	Context   int
	DependsOn []string
}

// Queue is the boundary to a scheduler that runs jobs out of process.
// Submit hands over the whole job graph; the queue owns dependency ordering
// from then on. Poll reports per-job states and whether the run is terminal.
type Queue interface {
	Submit(ctx context.Context, runID string, jobs []Job) error
	Poll(ctx context.Context, runID string) (map[string]JobState, bool, error)
}

// Jobs flattens the plan into queue jobs, one per (context, stage), in
// context-major topological order.
func (p *Plan) Jobs() []Job {
	jobs := make([]Job, 0, len(p.contexts)*len(p.stages))
	for ctxIdx := range p.contexts {
		for _, fs := range p.stages {
			job := Job{
				ID:      jobID(ctxIdx, fs.name),
				Stage:   fs.name,
				Context: ctxIdx,
			}
			for _, dep := range fs.deps() {
				job.DependsOn = append(job.DependsOn, jobID(ctxIdx, dep))
			}
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// RunJob replays a single job in this process, reading upstream outputs
// from the workspace. Queue workers re-enter the binary through this path.
// On failure a marker is left in the stage's work directory so polling
// observes it.
func (p *Plan) RunJob(ctx context.Context, id string) error {
	ctxIdx, stage, err := parseJobID(id)
	if err != nil {
		return err
	}
	if ctxIdx < 0 || ctxIdx >= len(p.contexts) {
		return fmt.Errorf("job %s names unknown run context %d", id, ctxIdx)
	}
	fs, ok := p.index[stage]
	if !ok {
		return fmt.Errorf("job %s names unknown stage %s", id, stage)
	}

	n := &execNode{stage: fs, ctxIdx: ctxIdx}
	if err := p.runNode(ctx, n); err != nil {
		cause := &StageExecutionError{Stage: stage, Context: p.contexts[ctxIdx].String(), Err: err}
		writeFailedMarker(p.workdirFor(ctxIdx, stage), cause)
		return cause
	}
	return nil
}

// jobID composes the stable identifier of one (context, stage) job.
func jobID(ctxIdx int, stage string) string {
	return strconv.Itoa(ctxIdx) + ":" + stage
}

// parseJobID splits a job identifier back into its context index and stage
// name.
func parseJobID(id string) (int, string, error) {
	idxStr, stage, found := strings.Cut(id, ":")
	if !found {
		return 0, "", fmt.Errorf("malformed job id %q", id)
	}
	ctxIdx, err := strconv.Atoi(idxStr)
	if err != nil {
		return 0, "", fmt.Errorf("malformed job id %q: %w", id, err)
	}
	return ctxIdx, stage, nil
}

// Cluster runs the plan through an external queue, polling until the queue
// reports a terminal run.
type Cluster struct {
	Queue        Queue
	PollInterval time.Duration
}

// Name implements Policy.
func (Cluster) Name() string { return "cluster" }

// Run implements Policy.
func (c Cluster) Run(ctx context.Context, p *Plan) (*Report, error) {
	logger := ctxlog.FromContext(ctx)
	report := newReport("cluster", p.contexts)

	jobs := p.Jobs()
	if err := c.Queue.Submit(ctx, report.RunID, jobs); err != nil {
		return report, fmt.Errorf("queue submission failed: %w", err)
	}
	logger.Info("Submitted run to queue.", "run_id", report.RunID, "jobs", len(jobs))

	interval := c.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		states, terminal, err := c.Queue.Poll(ctx, report.RunID)
		if err != nil {
			return report, fmt.Errorf("queue poll failed: %w", err)
		}
		recordJobStates(report, p, jobs, states)
		if terminal {
			return report, nil
		}

		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-ticker.C:
		}
	}
}

// recordJobStates maps queue job states onto the report. Failure causes stay
// behind the queue boundary, so failed jobs carry a generic error.
func recordJobStates(report *Report, p *Plan, jobs []Job, states map[string]JobState) {
	for _, job := range jobs {
		result := StageResult{Status: Pending}
		switch states[job.ID] {
		case JobRunning:
			result.Status = Running
		case JobDone:
			result.Status = Done
		case JobFailed:
			result.Status = Failed
			result.Err = &StageExecutionError{
				Stage:   job.Stage,
				Context: p.contexts[job.Context].String(),
				Err:     fmt.Errorf("job failed on the queue"),
			}
		case JobSkipped:
			result.Status = Skipped
		}
		report.Contexts[job.Context].Stages[job.Stage] = result
	}
}
