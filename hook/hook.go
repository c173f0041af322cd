// Package hook defines the lifecycle extension system for the pipeline
// core. Extensions are notified of workflow transitions (created, stage
// completed, paused, cancelled, etc.) and can react to them — streaming,
// metrics, audit trails.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about. Hook failures are logged and dropped;
// they never affect pipeline correctness.
package hook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/victorbash400/rainmaker/pipeline"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Workflow lifecycle hooks
// ──────────────────────────────────────────────────

// WorkflowCreated is called after a prospect enters the pipeline.
type WorkflowCreated interface {
	OnWorkflowCreated(ctx context.Context, st *pipeline.State) error
}

// StageStarted is called when the driver invokes a stage executor.
type StageStarted interface {
	OnStageStarted(ctx context.Context, st *pipeline.State, stage pipeline.Stage) error
}

// StageCompleted is called after a stage executor returns a result.
type StageCompleted interface {
	OnStageCompleted(ctx context.Context, st *pipeline.State, stage pipeline.Stage, result json.RawMessage, elapsed time.Duration) error
}

// StageFailed is called when a stage executor fails with a classified fault.
type StageFailed interface {
	OnStageFailed(ctx context.Context, st *pipeline.State, stage pipeline.Stage, stageErr error) error
}

// StageRetrying is called when a transient stage failure is scheduled
// for retry.
type StageRetrying interface {
	OnStageRetrying(ctx context.Context, st *pipeline.State, stage pipeline.Stage, attempt int, delay time.Duration) error
}

// WorkflowPaused is called when automatic progression is suspended for a
// human (review, escalation, or executor-requested assistance).
type WorkflowPaused interface {
	OnWorkflowPaused(ctx context.Context, st *pipeline.State, pause *pipeline.PauseContext) error
}

// WorkflowResumed is called after a human lifts a pause and the workflow
// re-enters the driver loop.
type WorkflowResumed interface {
	OnWorkflowResumed(ctx context.Context, st *pipeline.State) error
}

// WorkflowRerouted is called when the router sends a workflow back to an
// earlier stage.
type WorkflowRerouted interface {
	OnWorkflowRerouted(ctx context.Context, st *pipeline.State, from, to pipeline.Stage) error
}

// WorkflowAwaiting is called when the driver parks a workflow at a
// pausable-on-entry stage to wait for an external event.
type WorkflowAwaiting interface {
	OnWorkflowAwaiting(ctx context.Context, st *pipeline.State, stage pipeline.Stage) error
}

// WorkflowCancelled is called when an operator cancels a workflow.
type WorkflowCancelled interface {
	OnWorkflowCancelled(ctx context.Context, st *pipeline.State) error
}

// WorkflowCompleted is called when a workflow reaches its successful
// terminal state.
type WorkflowCompleted interface {
	OnWorkflowCompleted(ctx context.Context, st *pipeline.State) error
}

// WorkflowFailed is called when a workflow fails terminally.
type WorkflowFailed interface {
	OnWorkflowFailed(ctx context.Context, st *pipeline.State, reason string) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
