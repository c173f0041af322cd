// Package router decides the next pipeline action for a workflow state.
//
// Decide and DecideFailure are pure functions: they only read stage
// results and the error trail, never mutate state, and identical input
// always yields an identical decision. That keeps routing independently
// testable by replay, without any execution-graph framework.
package router

import (
	"encoding/json"
	"fmt"

	"github.com/victorbash400/rainmaker/pipeline"
)

// Kind discriminates the Decision union.
type Kind string

const (
	KindProceed     Kind = "proceed"
	KindRetrySame   Kind = "retry_same"
	KindReroute     Kind = "reroute"
	KindNeedsReview Kind = "needs_review"
	KindTerminate   Kind = "terminate"
)

// Outcome is the terminal result carried by a Terminate decision.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Decision is the closed union of pipeline actions the router can choose.
type Decision struct {
	Kind    Kind
	Next    pipeline.Stage // KindProceed
	Target  pipeline.Stage // KindReroute
	Reason  string         // KindNeedsReview, KindTerminate
	Outcome Outcome        // KindTerminate
}

// Proceed advances the workflow to the given stage.
func Proceed(next pipeline.Stage) Decision {
	return Decision{Kind: KindProceed, Next: next}
}

// RetrySame re-runs the current stage.
func RetrySame() Decision {
	return Decision{Kind: KindRetrySame}
}

// RerouteTo sends the workflow back to an earlier stage.
func RerouteTo(target pipeline.Stage) Decision {
	return Decision{Kind: KindReroute, Target: target}
}

// NeedsReview suspends the workflow for human judgement.
func NeedsReview(reason string) Decision {
	return Decision{Kind: KindNeedsReview, Reason: reason}
}

// Terminate ends the workflow with the given outcome.
func Terminate(outcome Outcome, reason string) Decision {
	return Decision{Kind: KindTerminate, Outcome: outcome, Reason: reason}
}

// transitions is the explicit stage-transition table: which stage follows
// each working stage on plain success. The last working stage terminates.
var transitions = map[pipeline.Stage]pipeline.Stage{
	pipeline.StageDiscovery:    pipeline.StageEnrichment,
	pipeline.StageEnrichment:   pipeline.StageOutreach,
	pipeline.StageOutreach:     pipeline.StageConversation,
	pipeline.StageConversation: pipeline.StageProposal,
	pipeline.StageProposal:     pipeline.StageMeeting,
}

// Policy holds the business thresholds the router applies. They are
// parameters, not part of the routing contract.
type Policy struct {
	// MinEnrichmentConfidence is the confidence score below which an
	// enrichment result goes to human review instead of outreach.
	MinEnrichmentConfidence float64
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{MinEnrichmentConfidence: 0.5}
}

// Router chooses the next pipeline action for a workflow state.
type Router struct {
	policy Policy
}

// New creates a Router with the given policy.
func New(policy Policy) *Router {
	return &Router{policy: policy}
}

// Decide maps a workflow state whose current stage just completed to the
// next action. It reads only StageResults and is deterministic over the
// state value. Failures take DecideFailure instead: the presence of a
// result proves nothing about the last run, because a reroute keeps the
// results of stages it walks back over.
func (r *Router) Decide(st *pipeline.State) Decision {
	stage := st.CurrentStage

	if stage.Terminal() {
		return decideTerminal(stage)
	}

	if len(st.Result(stage)) == 0 {
		return NeedsReview(fmt.Sprintf("stage %s completed without a result", stage))
	}

	switch stage {
	case pipeline.StageEnrichment:
		return r.decideEnrichment(st)
	case pipeline.StageMeeting:
		return Terminate(OutcomeCompleted, "meeting booked")
	default:
		return Proceed(transitions[stage])
	}
}

// DecideFailure maps a workflow state whose current stage just failed to
// the next action. It routes on the error trail alone and ignores stage
// results, which after a reroute may be stale leftovers of earlier runs.
func (r *Router) DecideFailure(st *pipeline.State) Decision {
	stage := st.CurrentStage

	if stage.Terminal() {
		return decideTerminal(stage)
	}
	return r.decideFailed(st, stage)
}

func decideTerminal(stage pipeline.Stage) Decision {
	outcome := OutcomeCompleted
	if stage == pipeline.StageCancelled {
		outcome = OutcomeFailed
	}
	return Terminate(outcome, "workflow already terminal")
}

// decideFailed routes a stage that finished without a usable result.
// Data-quality failures of enrichment mean discovery fed it a thin
// prospect, so the pipeline walks back; everything else needs a human.
func (r *Router) decideFailed(st *pipeline.State, stage pipeline.Stage) Decision {
	last := st.LastError()
	if last == nil || last.Stage != stage {
		return NeedsReview(fmt.Sprintf("stage %s has neither result nor error record", stage))
	}

	switch last.Kind {
	case pipeline.KindDataQuality:
		if stage == pipeline.StageEnrichment {
			return RerouteTo(pipeline.StageDiscovery)
		}
		return NeedsReview(fmt.Sprintf("stage %s produced insufficient data: %s", stage, last.Message))
	case pipeline.KindTransientExternal:
		return RetrySame()
	case pipeline.KindCancellation:
		return Terminate(OutcomeFailed, "cancelled by operator")
	default:
		return NeedsReview(fmt.Sprintf("stage %s failed: %s", stage, last.Message))
	}
}

// enrichmentSignal is the slice of the opaque enrichment payload the
// routing policy inspects. Unknown fields are ignored; a payload that
// doesn't parse goes to review rather than being accepted as good data.
type enrichmentSignal struct {
	Confidence float64 `json:"confidence"`
	Contact    struct {
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"contact"`
}

func (r *Router) decideEnrichment(st *pipeline.State) Decision {
	var sig enrichmentSignal
	if err := json.Unmarshal(st.Result(pipeline.StageEnrichment), &sig); err != nil {
		return NeedsReview(fmt.Sprintf("enrichment result is unreadable: %v", err))
	}

	if sig.Confidence < r.policy.MinEnrichmentConfidence {
		return NeedsReview(fmt.Sprintf("enrichment confidence %.2f below threshold %.2f",
			sig.Confidence, r.policy.MinEnrichmentConfidence))
	}

	if sig.Contact.Email == "" && sig.Contact.Phone == "" {
		return RerouteTo(pipeline.StageDiscovery)
	}

	return Proceed(transitions[pipeline.StageEnrichment])
}
