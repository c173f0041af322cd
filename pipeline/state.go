package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/victorbash400/rainmaker"
	"github.com/victorbash400/rainmaker/id"
)

// SchemaVersion is the current workflow state document version. Stored on
// every document so persistence can migrate additively.
const SchemaVersion = 1

// Status is the user-visible workflow status derived from state.
type Status string

const (
	StatusExecuting      Status = "executing"
	StatusPausedForHuman Status = "paused_for_human"
	StatusNeedsReview    Status = "needs_review"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
	StatusCompleted      Status = "completed"
)

// PauseKind distinguishes why a workflow is suspended for a human.
type PauseKind string

const (
	// PauseNeedsReview is a router verdict: results exist but a human must
	// judge them before the pipeline proceeds.
	PauseNeedsReview PauseKind = "needs_review"
	// PauseEscalated is a classifier verdict: a failure that automation
	// must not retry or paper over.
	PauseEscalated PauseKind = "escalated"
	// PauseAssistance is raised by a stage executor itself when it cannot
	// proceed without a human action (e.g. an authenticated session).
	PauseAssistance PauseKind = "assistance"
)

// ErrorRecord is one immutable entry in the workflow's audit trail of
// failures. The errors list never shrinks and is never reordered.
type ErrorRecord struct {
	Stage     Stage     `json:"stage"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

// PauseContext records why automatic progression is suspended and what the
// human needs in order to act. Present iff the workflow is paused.
type PauseContext struct {
	Kind        PauseKind       `json:"kind"`
	Reason      string          `json:"reason"`
	ResumeToken id.PauseID      `json:"resume_token"`
	Context     json.RawMessage `json:"context,omitempty"`
	PausedAt    time.Time       `json:"paused_at"`
}

// State is the workflow state document: one per prospect pipeline run,
// persisted as a single versioned record keyed by workflow ID.
type State struct {
	rainmaker.Entity

	ID          id.WorkflowID `json:"id"`
	ProspectRef string        `json:"prospect_ref"`

	CurrentStage    Stage                     `json:"current_stage"`
	CompletedStages []Stage                   `json:"completed_stages"`
	StageResults    map[Stage]json.RawMessage `json:"stage_results,omitempty"`
	Errors          []ErrorRecord             `json:"errors,omitempty"`
	RetryCount      int                       `json:"retry_count"`
	Pause           *PauseContext             `json:"pause,omitempty"`

	// Failed marks a failed-terminal workflow. CurrentStage stays at the
	// failing stage so the audit trail shows where the pipeline stopped.
	Failed bool `json:"failed,omitempty"`

	// AwaitingReply is the sub-state of a pausable-on-entry stage: the
	// stage expects an external event (e.g. a prospect's email reply)
	// before its executor may run.
	AwaitingReply bool `json:"awaiting_reply,omitempty"`

	// PendingReply carries the external event payload delivered while
	// AwaitingReply was set, for the stage executor to consume.
	PendingReply json.RawMessage `json:"pending_reply,omitempty"`

	// Generation fences in-flight executor results against cancellation:
	// a cancel bumps it, and results observed under a stale generation
	// are discarded rather than applied.
	Generation int64 `json:"generation"`

	SchemaVersion int        `json:"schema_version"`
	ArchivedAt    *time.Time `json:"archived_at,omitempty"`
}

// NewState creates the state document for a prospect entering the
// pipeline, positioned at the first Discovery attempt.
func NewState(prospectRef string) *State {
	return &State{
		Entity:        rainmaker.NewEntity(),
		ID:            id.NewWorkflowID(),
		ProspectRef:   prospectRef,
		CurrentStage:  StageDiscovery,
		StageResults:  make(map[Stage]json.RawMessage),
		SchemaVersion: SchemaVersion,
	}
}

// Terminal reports whether the workflow has ended (completed, cancelled,
// or failed-terminal).
func (s *State) Terminal() bool {
	return s.CurrentStage.Terminal() || s.Failed
}

// Status derives the user-visible workflow status.
func (s *State) Status() Status {
	switch {
	case s.CurrentStage == StageCancelled:
		return StatusCancelled
	case s.CurrentStage == StageCompleted:
		return StatusCompleted
	case s.Failed:
		return StatusFailed
	case s.Pause != nil && s.Pause.Kind == PauseNeedsReview:
		return StatusNeedsReview
	case s.Pause != nil:
		return StatusPausedForHuman
	default:
		return StatusExecuting
	}
}

// Result returns the recorded payload for a stage, or nil.
func (s *State) Result(stage Stage) json.RawMessage {
	return s.StageResults[stage]
}

// LastError returns the most recent error record, or nil.
func (s *State) LastError() *ErrorRecord {
	if len(s.Errors) == 0 {
		return nil
	}
	return &s.Errors[len(s.Errors)-1]
}

// MarkStageComplete records the payload evidencing the stage's success and
// appends the stage to CompletedStages if not already present. A re-run
// stage (after a reroute) overwrites only its own stale result; results of
// other stages are always preserved.
func (s *State) MarkStageComplete(stage Stage, payload json.RawMessage) {
	if s.StageResults == nil {
		s.StageResults = make(map[Stage]json.RawMessage)
	}
	s.StageResults[stage] = payload

	for _, done := range s.CompletedStages {
		if done == stage {
			s.Touch()
			return
		}
	}
	s.CompletedStages = append(s.CompletedStages, stage)
	s.Touch()
}

// SetStage moves the workflow to a new current stage. RetryCount resets to
// zero exactly here: it counts retries of the current stage only.
func (s *State) SetStage(stage Stage) {
	if stage == s.CurrentStage {
		return
	}
	s.CurrentStage = stage
	s.RetryCount = 0
	s.AwaitingReply = false
	s.Touch()
}

// RerouteTo moves the workflow back to an earlier stage, truncating
// CompletedStages to keep the prefix invariant. Stage results and the
// error trail are preserved (merge-preserve: a re-run overwrites only its
// own entry).
func (s *State) RerouteTo(stage Stage) error {
	i := stage.Index()
	if i < 0 {
		return fmt.Errorf("pipeline: cannot reroute to %q", stage)
	}
	if !stage.Before(s.CurrentStage) && stage != s.CurrentStage {
		return fmt.Errorf("pipeline: reroute target %q is not an earlier stage than %q", stage, s.CurrentStage)
	}
	if len(s.CompletedStages) > i {
		s.CompletedStages = s.CompletedStages[:i]
	}
	s.SetStage(stage)
	return nil
}

// RecordError appends a classified failure to the audit trail. Retryable
// is the classifier's verdict for this occurrence, not the kind's general
// retryability: a transient failure that spent its retry budget records
// false.
func (s *State) RecordError(stage Stage, kind ErrorKind, message string, retryable bool) {
	s.Errors = append(s.Errors, ErrorRecord{
		Stage:     stage,
		Kind:      kind,
		Message:   message,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	})
	s.Touch()
}

// SetPause suspends automatic progression. The driver performs no stage
// invocation while the pause is present.
func (s *State) SetPause(kind PauseKind, reason string, collaboratorCtx json.RawMessage) *PauseContext {
	s.Pause = &PauseContext{
		Kind:        kind,
		Reason:      reason,
		ResumeToken: id.NewPauseID(),
		Context:     collaboratorCtx,
		PausedAt:    time.Now().UTC(),
	}
	s.Touch()
	return s.Pause
}

// ClearPause lifts the suspension.
func (s *State) ClearPause() {
	s.Pause = nil
	s.Touch()
}

// Archive stamps the terminal workflow for retention. Archived workflows
// keep their errors and stage results indefinitely; nothing is deleted.
func (s *State) Archive() {
	now := time.Now().UTC()
	s.ArchivedAt = &now
	s.Touch()
}

// Clone returns a deep copy. The driver hands clones to stage executors so
// they cannot mutate the document it owns.
func (s *State) Clone() *State {
	cp := *s

	cp.CompletedStages = append([]Stage(nil), s.CompletedStages...)

	cp.StageResults = make(map[Stage]json.RawMessage, len(s.StageResults))
	for stage, payload := range s.StageResults {
		cp.StageResults[stage] = append(json.RawMessage(nil), payload...)
	}

	cp.Errors = append([]ErrorRecord(nil), s.Errors...)

	if s.Pause != nil {
		p := *s.Pause
		p.Context = append(json.RawMessage(nil), s.Pause.Context...)
		cp.Pause = &p
	}

	cp.PendingReply = append(json.RawMessage(nil), s.PendingReply...)

	if s.ArchivedAt != nil {
		t := *s.ArchivedAt
		cp.ArchivedAt = &t
	}

	return &cp
}

// Validate checks the document invariants. It is called at every
// persistence boundary; a document that fails validation is never written.
func (s *State) Validate() error {
	if s.ID.IsNil() {
		return fmt.Errorf("%w: missing workflow id", rainmaker.ErrInvalidState)
	}
	if s.ProspectRef == "" {
		return fmt.Errorf("%w: missing prospect reference", rainmaker.ErrInvalidState)
	}
	if !s.CurrentStage.Valid() {
		return fmt.Errorf("%w: unknown current stage %q", rainmaker.ErrInvalidState, s.CurrentStage)
	}
	if s.SchemaVersion <= 0 || s.SchemaVersion > SchemaVersion {
		return fmt.Errorf("%w: unsupported schema version %d", rainmaker.ErrInvalidState, s.SchemaVersion)
	}
	if s.RetryCount < 0 {
		return fmt.Errorf("%w: negative retry count", rainmaker.ErrInvalidState)
	}

	// CompletedStages must be a gap-free, duplicate-free prefix of the
	// canonical order, and every completed stage must be evidenced by a
	// recorded result.
	for i, stage := range s.CompletedStages {
		if stage.Index() != i {
			return fmt.Errorf("%w: completed stages %v are not a canonical prefix", rainmaker.ErrInvalidState, s.CompletedStages)
		}
		if len(s.StageResults[stage]) == 0 {
			return fmt.Errorf("%w: stage %q completed without a recorded result", rainmaker.ErrInvalidState, stage)
		}
	}

	for _, rec := range s.Errors {
		if !rec.Kind.Valid() {
			return fmt.Errorf("%w: unknown error kind %q in audit trail", rainmaker.ErrInvalidState, rec.Kind)
		}
	}

	if s.Pause != nil && s.Pause.ResumeToken.IsNil() {
		return fmt.Errorf("%w: pause context missing resume token", rainmaker.ErrInvalidState)
	}

	return nil
}
