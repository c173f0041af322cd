package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/victorbash400/rainmaker/hook"
	"github.com/victorbash400/rainmaker/id"
	"github.com/victorbash400/rainmaker/pipeline"
)

// Compile-time interface checks.
var (
	_ hook.Extension         = (*Recorder)(nil)
	_ hook.WorkflowCreated   = (*Recorder)(nil)
	_ hook.StageStarted      = (*Recorder)(nil)
	_ hook.StageCompleted    = (*Recorder)(nil)
	_ hook.StageFailed       = (*Recorder)(nil)
	_ hook.StageRetrying     = (*Recorder)(nil)
	_ hook.WorkflowPaused    = (*Recorder)(nil)
	_ hook.WorkflowResumed   = (*Recorder)(nil)
	_ hook.WorkflowRerouted  = (*Recorder)(nil)
	_ hook.WorkflowAwaiting  = (*Recorder)(nil)
	_ hook.WorkflowCancelled = (*Recorder)(nil)
	_ hook.WorkflowCompleted = (*Recorder)(nil)
	_ hook.WorkflowFailed    = (*Recorder)(nil)
)

// Recorder bridges the lifecycle hook system to the audit trail. Each hook
// appends a structured record through the Store. Recording failures are
// logged and never propagate into pipeline correctness.
type Recorder struct {
	store   Store
	enabled map[string]bool // nil = all enabled
	logger  *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithActions restricts the recorder to the listed actions. By default all
// actions are recorded. Unknown actions are silently ignored.
func WithActions(actions ...string) Option {
	return func(r *Recorder) {
		r.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			r.enabled[a] = true
		}
	}
}

// NewRecorder creates a Recorder that appends records through the store.
func NewRecorder(store Store, logger *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name implements hook.Extension.
func (r *Recorder) Name() string { return "audit-recorder" }

// ── Lifecycle hooks ─────────────────────────────────

func (r *Recorder) OnWorkflowCreated(ctx context.Context, st *pipeline.State) error {
	return r.record(ctx, st, ActionWorkflowCreated, SeverityInfo, OutcomeSuccess, "",
		"prospect_ref", st.ProspectRef,
	)
}

func (r *Recorder) OnStageStarted(ctx context.Context, st *pipeline.State, stage pipeline.Stage) error {
	return r.recordStage(ctx, st, stage, ActionStageStarted, SeverityInfo, OutcomeSuccess, "",
		"retry_count", st.RetryCount,
	)
}

func (r *Recorder) OnStageCompleted(ctx context.Context, st *pipeline.State, stage pipeline.Stage, _ json.RawMessage, elapsed time.Duration) error {
	return r.recordStage(ctx, st, stage, ActionStageCompleted, SeverityInfo, OutcomeSuccess, "",
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

func (r *Recorder) OnStageFailed(ctx context.Context, st *pipeline.State, stage pipeline.Stage, stageErr error) error {
	return r.recordStage(ctx, st, stage, ActionStageFailed, SeverityWarning, OutcomeFailure, stageErr.Error(),
		"retry_count", st.RetryCount,
	)
}

func (r *Recorder) OnStageRetrying(ctx context.Context, st *pipeline.State, stage pipeline.Stage, attempt int, delay time.Duration) error {
	return r.recordStage(ctx, st, stage, ActionStageRetrying, SeverityWarning, OutcomeFailure, "",
		"attempt", attempt,
		"delay_ms", delay.Milliseconds(),
	)
}

func (r *Recorder) OnWorkflowPaused(ctx context.Context, st *pipeline.State, pause *pipeline.PauseContext) error {
	return r.recordStage(ctx, st, st.CurrentStage, ActionWorkflowPaused, SeverityWarning, OutcomeSuccess, pause.Reason,
		"pause_kind", string(pause.Kind),
		"resume_token", pause.ResumeToken.String(),
	)
}

func (r *Recorder) OnWorkflowResumed(ctx context.Context, st *pipeline.State) error {
	return r.recordStage(ctx, st, st.CurrentStage, ActionWorkflowResumed, SeverityInfo, OutcomeSuccess, "")
}

func (r *Recorder) OnWorkflowRerouted(ctx context.Context, st *pipeline.State, from, to pipeline.Stage) error {
	return r.record(ctx, st, ActionWorkflowRerouted, SeverityInfo, OutcomeSuccess, "",
		"from", string(from),
		"to", string(to),
	)
}

func (r *Recorder) OnWorkflowAwaiting(ctx context.Context, st *pipeline.State, stage pipeline.Stage) error {
	return r.recordStage(ctx, st, stage, ActionWorkflowAwaiting, SeverityInfo, OutcomeSuccess, "")
}

func (r *Recorder) OnWorkflowCancelled(ctx context.Context, st *pipeline.State) error {
	return r.recordStage(ctx, st, st.CurrentStage, ActionWorkflowCancelled, SeverityWarning, OutcomeSuccess, "")
}

func (r *Recorder) OnWorkflowCompleted(ctx context.Context, st *pipeline.State) error {
	return r.record(ctx, st, ActionWorkflowCompleted, SeverityInfo, OutcomeSuccess, "",
		"prospect_ref", st.ProspectRef,
		"stages_completed", len(st.CompletedStages),
	)
}

func (r *Recorder) OnWorkflowFailed(ctx context.Context, st *pipeline.State, reason string) error {
	return r.recordStage(ctx, st, st.CurrentStage, ActionWorkflowFailed, SeverityCritical, OutcomeFailure, reason,
		"error_count", len(st.Errors),
	)
}

// ── Internal helpers ────────────────────────────────

func (r *Recorder) record(ctx context.Context, st *pipeline.State, action, severity, outcome, reason string, kvPairs ...any) error {
	return r.recordStage(ctx, st, "", action, severity, outcome, reason, kvPairs...)
}

// recordStage builds and appends one audit record if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (r *Recorder) recordStage(ctx context.Context, st *pipeline.State, stage pipeline.Stage, action, severity, outcome, reason string, kvPairs ...any) error {
	if r.enabled != nil && !r.enabled[action] {
		return nil
	}

	var meta map[string]any
	if len(kvPairs) > 0 {
		meta = make(map[string]any, len(kvPairs)/2)
		for i := 0; i+1 < len(kvPairs); i += 2 {
			key, ok := kvPairs[i].(string)
			if !ok {
				continue
			}
			meta[key] = kvPairs[i+1]
		}
	}

	rec := &Record{
		ID:         id.NewAuditID(),
		WorkflowID: st.ID,
		Action:     action,
		Stage:      string(stage),
		Severity:   severity,
		Outcome:    outcome,
		Reason:     reason,
		Metadata:   meta,
		CreatedAt:  time.Now().UTC(),
	}

	if err := r.store.AppendAudit(ctx, rec); err != nil {
		r.logger.Warn("audit: failed to append record",
			slog.String("action", action),
			slog.String("workflow_id", st.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
