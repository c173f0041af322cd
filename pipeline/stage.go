package pipeline

import "fmt"

// Stage is a canonical stage tag in the prospect pipeline.
type Stage string

const (
	// StageDiscovery finds and qualifies the prospect.
	StageDiscovery Stage = "discovery"
	// StageEnrichment researches the prospect and scores the findings.
	StageEnrichment Stage = "enrichment"
	// StageOutreach composes and sends the initial contact.
	StageOutreach Stage = "outreach"
	// StageConversation handles the prospect's replies.
	StageConversation Stage = "conversation"
	// StageProposal produces and delivers the proposal document.
	StageProposal Stage = "proposal"
	// StageMeeting books the meeting and hands off to sales.
	StageMeeting Stage = "meeting"

	// StageCompleted is the successful terminal state.
	StageCompleted Stage = "completed"
	// StageCancelled is the operator-abandoned terminal state.
	StageCancelled Stage = "cancelled"
)

// Order is the canonical execution sequence. CompletedStages of every
// reachable workflow state is a gap-free, duplicate-free prefix of it.
var Order = []Stage{
	StageDiscovery,
	StageEnrichment,
	StageOutreach,
	StageConversation,
	StageProposal,
	StageMeeting,
}

// Index returns the position of s in the canonical order, or -1 for
// terminal and unknown tags.
func (s Stage) Index() int {
	for i, stage := range Order {
		if stage == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known stage tag (working or terminal).
func (s Stage) Valid() bool {
	return s.Index() >= 0 || s.Terminal()
}

// Terminal reports whether s ends the workflow.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageCancelled
}

// Next returns the stage following s in the canonical order.
// The last working stage advances to StageCompleted.
func (s Stage) Next() (Stage, error) {
	i := s.Index()
	if i < 0 {
		return "", fmt.Errorf("pipeline: stage %q has no successor", s)
	}
	if i == len(Order)-1 {
		return StageCompleted, nil
	}
	return Order[i+1], nil
}

// Before reports whether s precedes other in the canonical order.
// Terminal stages are never before anything.
func (s Stage) Before(other Stage) bool {
	si, oi := s.Index(), other.Index()
	return si >= 0 && oi >= 0 && si < oi
}

// ParseStage validates a stage tag string.
func ParseStage(s string) (Stage, error) {
	stage := Stage(s)
	if !stage.Valid() {
		return "", fmt.Errorf("pipeline: unknown stage %q", s)
	}
	return stage, nil
}
