package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mckenziephagen/mindboggle/internal/ctxlog"
)

// CondorQueue submits the job graph to HTCondor as one DAGMan run. Each DAG
// node re-invokes this binary on the worker with a single-job argument, so
// the stage executes against the shared workspace; progress is observed
// through the outputs and failure markers the jobs leave behind.
type CondorQueue struct {
	// Workspace holds the generated DAG and submit files, one directory
	// per run.
	Workspace string
	// WorkerArgs is the argv prefix of a worker invocation. The job id is
	// appended behind the worker flag.
	WorkerArgs []string
	// WorkerFlag is the flag that puts the binary into single-job mode.
	WorkerFlag string
	// SubmitCommand overrides the DAGMan submission argv; the DAG file
	// path is appended. Defaults to condor_submit_dag -f.
	SubmitCommand []string

	// Plan locates each job's work directory during polling.
	Plan *Plan
}

// Submit implements Queue: it writes the DAG description plus one submit
// file per job, then hands the DAG to condor_submit_dag.
func (c *CondorQueue) Submit(ctx context.Context, runID string, jobs []Job) error {
	logger := ctxlog.FromContext(ctx)

	runDir := filepath.Join(c.Workspace, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("failed to create DAG directory: %w", err)
	}

	var dag strings.Builder
	for _, job := range jobs {
		submitPath, err := c.writeSubmitFile(runDir, job)
		if err != nil {
			return err
		}
		fmt.Fprintf(&dag, "JOB %s %s\n", dagNodeName(job.ID), submitPath)
	}
	for _, job := range jobs {
		for _, dep := range job.DependsOn {
			fmt.Fprintf(&dag, "PARENT %s CHILD %s\n", dagNodeName(dep), dagNodeName(job.ID))
		}
	}

	dagPath := filepath.Join(runDir, "pipeline.dag")
	if err := os.WriteFile(dagPath, []byte(dag.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write DAG file: %w", err)
	}

	submit := c.SubmitCommand
	if len(submit) == 0 {
		submit = []string{"condor_submit_dag", "-f"}
	}
	argv := append(append([]string(nil), submit...), dagPath)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = runDir
	if combined, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("DAG submission failed: %w\n%s", err, outputTail(combined))
	}

	logger.Info("Submitted DAG.", "run_id", runID, "dag", dagPath, "jobs", len(jobs))
	return nil
}

// Poll implements Queue by inspecting the workspace: persisted outputs mean
// a job finished, a failure marker means it failed, and jobs downstream of a
// failure count as skipped.
func (c *CondorQueue) Poll(ctx context.Context, runID string) (map[string]JobState, bool, error) {
	jobs := c.Plan.Jobs()
	states := make(map[string]JobState, len(jobs))

	for _, job := range jobs {
		workdir := c.Plan.workdirFor(job.Context, job.Stage)
		switch {
		case hasFailed(workdir):
			states[job.ID] = JobFailed
		case hasOutputs(workdir):
			states[job.ID] = JobDone
		default:
			states[job.ID] = JobPending
		}
	}

	// DAGMan never starts children of a failed node; fold that into the
	// reported states so the run can reach a terminal verdict.
	changed := true
	for changed {
		changed = false
		for _, job := range jobs {
			if states[job.ID] != JobPending {
				continue
			}
			for _, dep := range job.DependsOn {
				if s := states[dep]; s == JobFailed || s == JobSkipped {
					states[job.ID] = JobSkipped
					changed = true
					break
				}
			}
		}
	}

	terminal := true
	for _, s := range states {
		if s == JobPending || s == JobRunning {
			terminal = false
			break
		}
	}
	return states, terminal, nil
}

// writeSubmitFile renders the HTCondor submit description of one job.
func (c *CondorQueue) writeSubmitFile(runDir string, job Job) (string, error) {
	if len(c.WorkerArgs) == 0 {
		return "", fmt.Errorf("condor queue has no worker command")
	}
	flag := c.WorkerFlag
	if flag == "" {
		flag = "--run_stage"
	}

	args := append(append([]string(nil), c.WorkerArgs[1:]...), flag, job.ID)
	node := dagNodeName(job.ID)

	var sub strings.Builder
	fmt.Fprintf(&sub, "universe   = vanilla\n")
	fmt.Fprintf(&sub, "executable = %s\n", c.WorkerArgs[0])
	fmt.Fprintf(&sub, "arguments  = %s\n", strings.Join(args, " "))
	fmt.Fprintf(&sub, "log        = %s.log\n", node)
	fmt.Fprintf(&sub, "output     = %s.out\n", node)
	fmt.Fprintf(&sub, "error      = %s.err\n", node)
	fmt.Fprintf(&sub, "getenv     = True\n")
	fmt.Fprintf(&sub, "queue\n")

	path := filepath.Join(runDir, node+".sub")
	if err := os.WriteFile(path, []byte(sub.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write submit file for job %s: %w", job.ID, err)
	}
	return path, nil
}

// dagNodeName sanitizes a job id into a DAGMan node name.
func dagNodeName(jobID string) string {
	replacer := strings.NewReplacer(":", "_", ".", "_", "/", "_")
	return replacer.Replace(jobID)
}
