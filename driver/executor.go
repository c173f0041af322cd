// Package driver provides the workflow execution engine — a per-stage
// executor registry and a Driver that advances workflows through the
// pipeline: invoking executors through middleware, applying router
// decisions and classifier verdicts, and enforcing single ownership.
package driver

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/victorbash400/rainmaker/gate"
	"github.com/victorbash400/rainmaker/pipeline"
)

// Executor performs the work of one pipeline stage. It receives a clone of
// the workflow state (mutations are discarded) and returns the opaque
// payload evidencing the stage's success.
//
// An executor that cannot proceed without a human action returns an error
// wrapping rainmaker.ErrAssistanceRequested after raising the pause through
// the gate. All other failures should be classified with pipeline.NewFault;
// unclassified errors are treated as critical-service failures.
type Executor interface {
	Execute(ctx context.Context, st *pipeline.State) (json.RawMessage, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, st *pipeline.State) (json.RawMessage, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, st *pipeline.State) (json.RawMessage, error) {
	return f(ctx, st)
}

// Binding attaches an executor to a pipeline stage together with the
// stage's entry behavior.
type Binding struct {
	// Stage is the pipeline stage this binding serves.
	Stage pipeline.Stage

	// Executor performs the stage's work.
	Executor Executor

	// AwaitsReply marks a pausable-on-entry stage: the driver parks the
	// workflow on entry and runs the executor only after an external event
	// payload has been delivered.
	AwaitsReply bool

	// Precondition is an optional entry check. When it fails the workflow
	// pauses for assistance, and a resume re-runs the check before the
	// executor is invoked.
	Precondition gate.Precondition
}

// Registry maps pipeline stages to their executor bindings.
// It implements gate.PreconditionSource so resumes re-validate entry
// preconditions without the gate importing this package's internals.
type Registry struct {
	mu       sync.RWMutex
	bindings map[pipeline.Stage]Binding
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[pipeline.Stage]Binding)}
}

// Bind registers a stage binding, replacing any previous binding for the
// same stage.
func (r *Registry) Bind(b Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[b.Stage] = b
}

// Get returns the binding for a stage.
func (r *Registry) Get(stage pipeline.Stage) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[stage]
	return b, ok
}

// Precondition implements gate.PreconditionSource.
func (r *Registry) Precondition(stage pipeline.Stage) gate.Precondition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bindings[stage].Precondition
}

// Stages returns the stages that have a bound executor.
func (r *Registry) Stages() []pipeline.Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stages := make([]pipeline.Stage, 0, len(r.bindings))
	for stage := range r.bindings {
		stages = append(stages, stage)
	}
	return stages
}

var _ gate.PreconditionSource = (*Registry)(nil)
