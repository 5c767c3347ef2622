package executor

import (
	"sync"
	"sync/atomic"

	"github.com/zclconf/go-cty/cty"
)

// execNode is one (run context, stage) execution. Its status moves through
// atomics so the parallel policy's workers never race on it.
type execNode struct {
	stage  *flatStage
	ctxIdx int

	deps       []*execNode
	dependents []*execNode
	depCount   atomic.Int32

	status   atomic.Int32
	skipOnce sync.Once

	mu      sync.Mutex
	err     error
	outputs map[string]cty.Value
}

// Status returns the node's current status.
func (n *execNode) Status() Status {
	return Status(n.status.Load())
}

// setResult records a terminal status and, for failures, the cause.
func (n *execNode) setResult(s Status, err error) {
	n.mu.Lock()
	n.err = err
	n.mu.Unlock()
	n.status.Store(int32(s))
}

// Err returns the recorded failure cause, if any.
func (n *execNode) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// setOutputs publishes the node's produced port values.
func (n *execNode) setOutputs(outputs map[string]cty.Value) {
	n.mu.Lock()
	n.outputs = outputs
	n.mu.Unlock()
}

// Outputs returns the published port values, or nil before completion.
func (n *execNode) Outputs() map[string]cty.Value {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.outputs
}
