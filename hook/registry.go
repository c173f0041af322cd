package hook

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/victorbash400/rainmaker/pipeline"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type workflowCreatedEntry struct {
	name string
	hook WorkflowCreated
}

type stageStartedEntry struct {
	name string
	hook StageStarted
}

type stageCompletedEntry struct {
	name string
	hook StageCompleted
}

type stageFailedEntry struct {
	name string
	hook StageFailed
}

type stageRetryingEntry struct {
	name string
	hook StageRetrying
}

type workflowPausedEntry struct {
	name string
	hook WorkflowPaused
}

type workflowResumedEntry struct {
	name string
	hook WorkflowResumed
}

type workflowReroutedEntry struct {
	name string
	hook WorkflowRerouted
}

type workflowAwaitingEntry struct {
	name string
	hook WorkflowAwaiting
}

type workflowCancelledEntry struct {
	name string
	hook WorkflowCancelled
}

type workflowCompletedEntry struct {
	name string
	hook WorkflowCompleted
}

type workflowFailedEntry struct {
	name string
	hook WorkflowFailed
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	workflowCreated   []workflowCreatedEntry
	stageStarted      []stageStartedEntry
	stageCompleted    []stageCompletedEntry
	stageFailed       []stageFailedEntry
	stageRetrying     []stageRetryingEntry
	workflowPaused    []workflowPausedEntry
	workflowResumed   []workflowResumedEntry
	workflowRerouted  []workflowReroutedEntry
	workflowAwaiting  []workflowAwaitingEntry
	workflowCancelled []workflowCancelledEntry
	workflowCompleted []workflowCompletedEntry
	workflowFailed    []workflowFailedEntry
	shutdown          []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(WorkflowCreated); ok {
		r.workflowCreated = append(r.workflowCreated, workflowCreatedEntry{name, h})
	}
	if h, ok := e.(StageStarted); ok {
		r.stageStarted = append(r.stageStarted, stageStartedEntry{name, h})
	}
	if h, ok := e.(StageCompleted); ok {
		r.stageCompleted = append(r.stageCompleted, stageCompletedEntry{name, h})
	}
	if h, ok := e.(StageFailed); ok {
		r.stageFailed = append(r.stageFailed, stageFailedEntry{name, h})
	}
	if h, ok := e.(StageRetrying); ok {
		r.stageRetrying = append(r.stageRetrying, stageRetryingEntry{name, h})
	}
	if h, ok := e.(WorkflowPaused); ok {
		r.workflowPaused = append(r.workflowPaused, workflowPausedEntry{name, h})
	}
	if h, ok := e.(WorkflowResumed); ok {
		r.workflowResumed = append(r.workflowResumed, workflowResumedEntry{name, h})
	}
	if h, ok := e.(WorkflowRerouted); ok {
		r.workflowRerouted = append(r.workflowRerouted, workflowReroutedEntry{name, h})
	}
	if h, ok := e.(WorkflowAwaiting); ok {
		r.workflowAwaiting = append(r.workflowAwaiting, workflowAwaitingEntry{name, h})
	}
	if h, ok := e.(WorkflowCancelled); ok {
		r.workflowCancelled = append(r.workflowCancelled, workflowCancelledEntry{name, h})
	}
	if h, ok := e.(WorkflowCompleted); ok {
		r.workflowCompleted = append(r.workflowCompleted, workflowCompletedEntry{name, h})
	}
	if h, ok := e.(WorkflowFailed); ok {
		r.workflowFailed = append(r.workflowFailed, workflowFailedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Event emitters
// ──────────────────────────────────────────────────

// EmitWorkflowCreated notifies all extensions that implement WorkflowCreated.
func (r *Registry) EmitWorkflowCreated(ctx context.Context, st *pipeline.State) {
	for _, e := range r.workflowCreated {
		if err := e.hook.OnWorkflowCreated(ctx, st); err != nil {
			r.logHookError("OnWorkflowCreated", e.name, err)
		}
	}
}

// EmitStageStarted notifies all extensions that implement StageStarted.
func (r *Registry) EmitStageStarted(ctx context.Context, st *pipeline.State, stage pipeline.Stage) {
	for _, e := range r.stageStarted {
		if err := e.hook.OnStageStarted(ctx, st, stage); err != nil {
			r.logHookError("OnStageStarted", e.name, err)
		}
	}
}

// EmitStageCompleted notifies all extensions that implement StageCompleted.
func (r *Registry) EmitStageCompleted(ctx context.Context, st *pipeline.State, stage pipeline.Stage, result json.RawMessage, elapsed time.Duration) {
	for _, e := range r.stageCompleted {
		if err := e.hook.OnStageCompleted(ctx, st, stage, result, elapsed); err != nil {
			r.logHookError("OnStageCompleted", e.name, err)
		}
	}
}

// EmitStageFailed notifies all extensions that implement StageFailed.
func (r *Registry) EmitStageFailed(ctx context.Context, st *pipeline.State, stage pipeline.Stage, stageErr error) {
	for _, e := range r.stageFailed {
		if err := e.hook.OnStageFailed(ctx, st, stage, stageErr); err != nil {
			r.logHookError("OnStageFailed", e.name, err)
		}
	}
}

// EmitStageRetrying notifies all extensions that implement StageRetrying.
func (r *Registry) EmitStageRetrying(ctx context.Context, st *pipeline.State, stage pipeline.Stage, attempt int, delay time.Duration) {
	for _, e := range r.stageRetrying {
		if err := e.hook.OnStageRetrying(ctx, st, stage, attempt, delay); err != nil {
			r.logHookError("OnStageRetrying", e.name, err)
		}
	}
}

// EmitWorkflowPaused notifies all extensions that implement WorkflowPaused.
func (r *Registry) EmitWorkflowPaused(ctx context.Context, st *pipeline.State, pause *pipeline.PauseContext) {
	for _, e := range r.workflowPaused {
		if err := e.hook.OnWorkflowPaused(ctx, st, pause); err != nil {
			r.logHookError("OnWorkflowPaused", e.name, err)
		}
	}
}

// EmitWorkflowResumed notifies all extensions that implement WorkflowResumed.
func (r *Registry) EmitWorkflowResumed(ctx context.Context, st *pipeline.State) {
	for _, e := range r.workflowResumed {
		if err := e.hook.OnWorkflowResumed(ctx, st); err != nil {
			r.logHookError("OnWorkflowResumed", e.name, err)
		}
	}
}

// EmitWorkflowRerouted notifies all extensions that implement WorkflowRerouted.
func (r *Registry) EmitWorkflowRerouted(ctx context.Context, st *pipeline.State, from, to pipeline.Stage) {
	for _, e := range r.workflowRerouted {
		if err := e.hook.OnWorkflowRerouted(ctx, st, from, to); err != nil {
			r.logHookError("OnWorkflowRerouted", e.name, err)
		}
	}
}

// EmitWorkflowAwaiting notifies all extensions that implement WorkflowAwaiting.
func (r *Registry) EmitWorkflowAwaiting(ctx context.Context, st *pipeline.State, stage pipeline.Stage) {
	for _, e := range r.workflowAwaiting {
		if err := e.hook.OnWorkflowAwaiting(ctx, st, stage); err != nil {
			r.logHookError("OnWorkflowAwaiting", e.name, err)
		}
	}
}

// EmitWorkflowCancelled notifies all extensions that implement WorkflowCancelled.
func (r *Registry) EmitWorkflowCancelled(ctx context.Context, st *pipeline.State) {
	for _, e := range r.workflowCancelled {
		if err := e.hook.OnWorkflowCancelled(ctx, st); err != nil {
			r.logHookError("OnWorkflowCancelled", e.name, err)
		}
	}
}

// EmitWorkflowCompleted notifies all extensions that implement WorkflowCompleted.
func (r *Registry) EmitWorkflowCompleted(ctx context.Context, st *pipeline.State) {
	for _, e := range r.workflowCompleted {
		if err := e.hook.OnWorkflowCompleted(ctx, st); err != nil {
			r.logHookError("OnWorkflowCompleted", e.name, err)
		}
	}
}

// EmitWorkflowFailed notifies all extensions that implement WorkflowFailed.
func (r *Registry) EmitWorkflowFailed(ctx context.Context, st *pipeline.State, reason string) {
	for _, e := range r.workflowFailed {
		if err := e.hook.OnWorkflowFailed(ctx, st, reason); err != nil {
			r.logHookError("OnWorkflowFailed", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a hook failure. Extension failures never propagate
// into the driver.
func (r *Registry) logHookError(hookName, extName string, err error) {
	r.logger.Warn("extension hook failed",
		slog.String("hook", hookName),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
