package executor

import (
	"context"

	"github.com/mckenziephagen/mindboggle/internal/ctxlog"
)

// Sequential runs every (context, stage) execution one at a time, contexts
// in sweep order, stages in topological order. A failure skips only the
// failing stage's dependents; independent branches and later contexts still
// run.
type Sequential struct{}

// Name implements Policy.
func (Sequential) Name() string { return "sequential" }

// Run implements Policy.
func (Sequential) Run(ctx context.Context, p *Plan) (*Report, error) {
	logger := ctxlog.FromContext(ctx)

	all := make([][]*execNode, len(p.contexts))
	for i := range p.contexts {
		nodes := p.buildNodes(i)
		all[i] = nodes

		for _, n := range nodes {
			if ctx.Err() != nil {
				n.setResult(Skipped, nil)
				continue
			}
			if !depsDone(n) {
				n.setResult(Skipped, nil)
				continue
			}
			runAndMark(ctx, p, n)
		}
	}

	report := buildReport("sequential", p.contexts, all)
	if err := ctx.Err(); err != nil {
		logger.Warn("Run interrupted.", "run_id", report.RunID)
		return report, err
	}
	return report, nil
}

// depsDone reports whether every direct dependency of a node completed.
func depsDone(n *execNode) bool {
	for _, d := range n.deps {
		if d.Status() != Done {
			return false
		}
	}
	return true
}

// runAndMark executes one node and records its terminal status.
func runAndMark(ctx context.Context, p *Plan, n *execNode) {
	logger := ctxlog.FromContext(ctx)
	n.status.Store(int32(Running))

	if err := p.runNode(ctx, n); err != nil {
		cause := &StageExecutionError{
			Stage:   n.stage.name,
			Context: p.contexts[n.ctxIdx].String(),
			Err:     err,
		}
		n.setResult(Failed, cause)
		logger.Error("Stage failed.", "stage", n.stage.name, "error", err)
		return
	}
	n.setResult(Done, nil)
}
