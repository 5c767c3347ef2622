package executor

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mckenziephagen/mindboggle/internal/sweep"
)

// StageResult is the outcome of one stage in one run context.
type StageResult struct {
	Status Status
	Err    error
}

// ContextReport collects the stage outcomes of one run context.
type ContextReport struct {
	Context sweep.Context
	Stages  map[string]StageResult
}

// Failed reports whether any stage of the context failed.
func (c *ContextReport) Failed() bool {
	for _, r := range c.Stages {
		if r.Status == Failed {
			return true
		}
	}
	return false
}

// Report is the full outcome of one run.
type Report struct {
	RunID    string
	Policy   string
	Contexts []ContextReport
}

// newReport creates an empty report with a fresh run identifier.
func newReport(policy string, contexts []sweep.Context) *Report {
	r := &Report{
		RunID:    uuid.NewString(),
		Policy:   policy,
		Contexts: make([]ContextReport, len(contexts)),
	}
	for i, c := range contexts {
		r.Contexts[i] = ContextReport{Context: c, Stages: make(map[string]StageResult)}
	}
	return r
}

// record stores one node's terminal outcome.
func (r *Report) record(n *execNode) {
	r.Contexts[n.ctxIdx].Stages[n.stage.name] = StageResult{Status: n.Status(), Err: n.Err()}
}

// Failed reports whether any stage of any context failed.
func (r *Report) Failed() bool {
	for i := range r.Contexts {
		if r.Contexts[i].Failed() {
			return true
		}
	}
	return false
}

// Err aggregates the root-cause failures of the run, one per failed stage,
// or nil when everything completed.
func (r *Report) Err() error {
	var causes []error
	for i := range r.Contexts {
		for stage, result := range r.Contexts[i].Stages {
			if result.Status != Failed {
				continue
			}
			if result.Err != nil {
				causes = append(causes, result.Err)
			} else {
				causes = append(causes, fmt.Errorf("stage %s failed in context [%s]", stage, r.Contexts[i].Context.String()))
			}
		}
	}
	return errors.Join(causes...)
}

// Counts returns the totals of each terminal status across all contexts.
func (r *Report) Counts() map[Status]int {
	counts := make(map[Status]int)
	for i := range r.Contexts {
		for _, result := range r.Contexts[i].Stages {
			counts[result.Status]++
		}
	}
	return counts
}

// buildReport assembles the report for nodes run in this process.
func buildReport(policy string, contexts []sweep.Context, nodes [][]*execNode) *Report {
	report := newReport(policy, contexts)
	for _, contextNodes := range nodes {
		for _, n := range contextNodes {
			report.record(n)
		}
	}
	return report
}
