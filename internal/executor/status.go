// Package executor turns a frozen stage graph and its run contexts into an
// execution plan and runs it under one of three policies: sequential,
// bounded parallel, or cluster via an external queue.
package executor

import "fmt"

// Status is the lifecycle of one (run context, stage) execution.
type Status int32

const (
	// Pending means the stage has not started.
	Pending Status = iota
	// Running means the stage is currently executing.
	Running
	// Done means the stage completed and its outputs are available.
	Done
	// Failed means the stage's invocation returned an error.
	Failed
	// Skipped means the stage never ran because something upstream of it
	// failed or was skipped.
	Skipped
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// StageExecutionError reports one stage failing in one run context.
type StageExecutionError struct {
	Stage   string
	Context string
	Err     error
}

// Error implements the error interface.
func (e *StageExecutionError) Error() string {
	if e.Context == "" {
		return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s failed in context [%s]: %v", e.Stage, e.Context, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StageExecutionError) Unwrap() error { return e.Err }
