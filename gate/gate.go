// Package gate implements the human-in-the-loop control point. It is the
// one place that suspends and resumes automatic progression: executors
// request assistance through it, the classifier escalates through it, and
// operators lift pauses through it. While a pause context is present the
// driver performs no stage invocation for that workflow.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/victorbash400/rainmaker"
	"github.com/victorbash400/rainmaker/hook"
	"github.com/victorbash400/rainmaker/id"
	"github.com/victorbash400/rainmaker/pipeline"
)

// Precondition is a stage-entry check. It returns nil when the stage may
// run, or an error describing what is still missing.
type Precondition func(ctx context.Context, st *pipeline.State) error

// PreconditionSource resolves the entry precondition bound to a stage.
// The driver's executor registry implements this.
type PreconditionSource interface {
	// Precondition returns the entry check for a stage, or nil when the
	// stage has none.
	Precondition(stage pipeline.Stage) Precondition
}

// Gate suspends and resumes workflows pending human action.
type Gate struct {
	store    pipeline.Store
	hooks    *hook.Registry
	preconds PreconditionSource
	logger   *slog.Logger
}

// New creates a gate over the given store. preconds may be nil when no
// stage carries an entry precondition.
func New(store pipeline.Store, hooks *hook.Registry, preconds PreconditionSource, logger *slog.Logger) *Gate {
	return &Gate{
		store:    store,
		hooks:    hooks,
		preconds: preconds,
		logger:   logger,
	}
}

// RequestAssistance suspends a workflow because a stage executor cannot
// proceed without a human action. The collaborator context travels on the
// pause so the human sees what the executor needs.
func (g *Gate) RequestAssistance(ctx context.Context, workflowID id.WorkflowID, reason string, collabCtx json.RawMessage) (*pipeline.PauseContext, error) {
	st, err := g.store.GetState(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if st.Terminal() {
		return nil, fmt.Errorf("%w: workflow %s", rainmaker.ErrTerminal, workflowID)
	}
	if st.Pause != nil {
		return nil, fmt.Errorf("%w: workflow %s", rainmaker.ErrPaused, workflowID)
	}

	pause := st.SetPause(pipeline.PauseAssistance, reason, collabCtx)
	if err := g.store.PutState(ctx, st); err != nil {
		return nil, fmt.Errorf("persist assistance pause: %w", err)
	}

	g.logger.Info("workflow paused for assistance",
		slog.String("workflow_id", workflowID.String()),
		slog.String("stage", string(st.CurrentStage)),
		slog.String("reason", reason))
	g.hooks.EmitWorkflowPaused(ctx, st, pause)
	return pause, nil
}

// Escalate suspends an already-loaded workflow. The driver calls this when
// the classifier's verdict is escalation or the router demands review. The
// pause is persisted together with whatever the driver recorded on st.
func (g *Gate) Escalate(ctx context.Context, st *pipeline.State, kind pipeline.PauseKind, reason string) error {
	pause := st.SetPause(kind, reason, nil)
	if err := g.store.PutState(ctx, st); err != nil {
		return fmt.Errorf("persist escalation pause: %w", err)
	}
	g.logger.Info("workflow escalated to human",
		slog.String("workflow_id", st.ID.String()),
		slog.String("stage", string(st.CurrentStage)),
		slog.String("kind", string(kind)),
		slog.String("reason", reason))
	g.hooks.EmitWorkflowPaused(ctx, st, pause)
	return nil
}

// Resume lifts a pause after the human has acted. The current stage's
// entry precondition is re-validated first: a resume does not assert the
// blocking condition is gone, it asks the system to check again. When the
// precondition is still unmet the workflow re-pauses with an updated
// reason and Resume returns rainmaker.ErrPreconditionUnmet.
func (g *Gate) Resume(ctx context.Context, workflowID id.WorkflowID) error {
	st, err := g.store.GetState(ctx, workflowID)
	if err != nil {
		return err
	}
	if st.Terminal() {
		return fmt.Errorf("%w: workflow %s", rainmaker.ErrTerminal, workflowID)
	}
	if st.Pause == nil {
		return fmt.Errorf("%w: workflow %s", rainmaker.ErrNotPaused, workflowID)
	}

	if pre := g.precondition(st.CurrentStage); pre != nil {
		if preErr := pre(ctx, st); preErr != nil {
			pause := st.SetPause(st.Pause.Kind, preErr.Error(), st.Pause.Context)
			if err := g.store.PutState(ctx, st); err != nil {
				return fmt.Errorf("persist re-pause: %w", err)
			}
			g.logger.Warn("resume blocked, precondition still unmet",
				slog.String("workflow_id", workflowID.String()),
				slog.String("stage", string(st.CurrentStage)),
				slog.String("reason", preErr.Error()))
			g.hooks.EmitWorkflowPaused(ctx, st, pause)
			return fmt.Errorf("%w: %s", rainmaker.ErrPreconditionUnmet, preErr.Error())
		}
	}

	st.ClearPause()
	if err := g.store.PutState(ctx, st); err != nil {
		return fmt.Errorf("persist resume: %w", err)
	}

	g.logger.Info("workflow resumed",
		slog.String("workflow_id", workflowID.String()),
		slog.String("stage", string(st.CurrentStage)))
	g.hooks.EmitWorkflowResumed(ctx, st)
	return nil
}

func (g *Gate) precondition(stage pipeline.Stage) Precondition {
	if g.preconds == nil {
		return nil
	}
	return g.preconds.Precondition(stage)
}
