// Package audit keeps the durable audit trail of the pipeline: one
// immutable record per lifecycle event, persisted through the store and
// retained after the workflow terminates. The [Recorder] extension bridges
// the hook system to the trail.
package audit

import (
	"context"
	"time"

	"github.com/victorbash400/rainmaker/id"
)

// Audit actions. Each constant corresponds to one lifecycle hook and
// becomes the Action field of the record.
const (
	ActionWorkflowCreated   = "workflow.created"
	ActionStageStarted      = "stage.started"
	ActionStageCompleted    = "stage.completed"
	ActionStageFailed       = "stage.failed"
	ActionStageRetrying     = "stage.retrying"
	ActionWorkflowPaused    = "workflow.paused"
	ActionWorkflowResumed   = "workflow.resumed"
	ActionWorkflowRerouted  = "workflow.rerouted"
	ActionWorkflowAwaiting  = "workflow.awaiting_reply"
	ActionWorkflowCancelled = "workflow.cancelled"
	ActionWorkflowCompleted = "workflow.completed"
	ActionWorkflowFailed    = "workflow.failed"
)

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AllActions returns every action the recorder can emit.
func AllActions() []string {
	return []string{
		ActionWorkflowCreated,
		ActionStageStarted,
		ActionStageCompleted,
		ActionStageFailed,
		ActionStageRetrying,
		ActionWorkflowPaused,
		ActionWorkflowResumed,
		ActionWorkflowRerouted,
		ActionWorkflowAwaiting,
		ActionWorkflowCancelled,
		ActionWorkflowCompleted,
		ActionWorkflowFailed,
	}
}

// Record is one immutable entry in the audit trail.
type Record struct {
	ID         id.AuditID     `json:"id"`
	WorkflowID id.WorkflowID  `json:"workflow_id"`
	Action     string         `json:"action"`
	Stage      string         `json:"stage,omitempty"`
	Severity   string         `json:"severity"`
	Outcome    string         `json:"outcome"`
	Reason     string         `json:"reason,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ListOpts controls filtering and pagination for audit queries.
type ListOpts struct {
	// Limit is the maximum number of records to return. Zero means no limit.
	Limit int
	// Offset is the number of records to skip.
	Offset int
	// Action filters by action name. Empty means all actions.
	Action string
}

// Store defines the persistence contract for the audit trail. Records are
// append-only: there is no update or delete.
type Store interface {
	// AppendAudit persists one audit record.
	AppendAudit(ctx context.Context, rec *Record) error

	// ListAudit returns a workflow's audit records in append order.
	// Returns rainmaker.ErrAuditNotFound when the workflow has no trail.
	ListAudit(ctx context.Context, workflowID id.WorkflowID, opts ListOpts) ([]*Record, error)
}
