package executor

import (
	"context"
	"sync"

	"github.com/mckenziephagen/mindboggle/internal/ctxlog"
)

// Parallel runs executions across a bounded worker pool. Every run context's
// nodes enter the same pool, so independent contexts interleave freely. A
// failure is isolated to the failing node's transitive dependents within its
// own context.
type Parallel struct {
	Workers int
}

// Name implements Policy.
func (Parallel) Name() string { return "parallel" }

// Run implements Policy.
func (w Parallel) Run(ctx context.Context, p *Plan) (*Report, error) {
	logger := ctxlog.FromContext(ctx)

	all := make([][]*execNode, len(p.contexts))
	total := 0
	for i := range p.contexts {
		all[i] = p.buildNodes(i)
		total += len(all[i])
	}

	readyChan := make(chan *execNode, total)
	var wg sync.WaitGroup
	wg.Add(total)
	for _, nodes := range all {
		for _, n := range nodes {
			if n.depCount.Load() == 0 {
				readyChan <- n
			}
		}
	}
	go func() {
		wg.Wait()
		close(readyChan)
	}()

	workers := w.Workers
	if workers < 1 {
		workers = 1
	}
	logger.Debug("Starting worker pool.", "workers", workers, "executions", total)

	var workerWg sync.WaitGroup
	for i := 0; i < workers; i++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			for n := range readyChan {
				w.process(ctx, p, n, readyChan, &wg)
			}
		}()
	}
	workerWg.Wait()

	report := buildReport("parallel", p.contexts, all)
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// process claims and runs one ready node, then either releases its
// dependents or skips them on failure.
func (w Parallel) process(ctx context.Context, p *Plan, n *execNode, readyChan chan<- *execNode, wg *sync.WaitGroup) {
	// A node can reach the pool after a skip cascade already retired it.
	if !n.status.CompareAndSwap(int32(Pending), int32(Running)) {
		return
	}

	if ctx.Err() != nil {
		n.setResult(Skipped, nil)
		wg.Done()
		skipDependents(n, wg)
		return
	}

	if err := p.runNode(ctx, n); err != nil {
		cause := &StageExecutionError{
			Stage:   n.stage.name,
			Context: p.contexts[n.ctxIdx].String(),
			Err:     err,
		}
		n.setResult(Failed, cause)
		ctxlog.FromContext(ctx).Error("Stage failed.",
			"stage", n.stage.name, "run_context", p.contexts[n.ctxIdx].String(), "error", err)
		wg.Done()
		skipDependents(n, wg)
		return
	}

	n.setResult(Done, nil)
	wg.Done()
	for _, d := range n.dependents {
		if d.depCount.Add(-1) == 0 {
			readyChan <- d
		}
	}
}

// skipDependents marks a node's transitive dependents skipped. skipOnce
// keeps the cascade from retiring a node twice when it sits downstream of
// several failures.
func skipDependents(n *execNode, wg *sync.WaitGroup) {
	for _, d := range n.dependents {
		d.skipOnce.Do(func() {
			d.setResult(Skipped, nil)
			wg.Done()
			skipDependents(d, wg)
		})
	}
}
