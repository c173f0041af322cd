package pipeline

import (
	"time"

	"github.com/victorbash400/rainmaker/backoff"
)

// Action is the classifier's recommended handling for a failure.
type Action string

const (
	// ActionRetry re-runs the current stage after a backoff delay.
	ActionRetry Action = "retry"
	// ActionRoute hands the failure to the router, which decides between
	// rerouting to an earlier stage and pausing for review.
	ActionRoute Action = "route"
	// ActionEscalate pauses the workflow for human intervention.
	ActionEscalate Action = "escalate"
	// ActionCancel terminates the workflow.
	ActionCancel Action = "cancel"
)

// Verdict is the classifier's output for one failure.
type Verdict struct {
	Kind      ErrorKind
	Retryable bool
	Action    Action
	// Delay is the backoff before the retry. Only set for ActionRetry.
	Delay time.Duration
}

// Classifier maps classified faults to recommended actions, applying the
// retry budget and backoff policy.
type Classifier struct {
	// MaxRetries is the per-stage retry budget for transient failures.
	MaxRetries int
	// Backoff computes the delay before retry attempt n (1-indexed).
	Backoff backoff.Strategy
}

// NewClassifier creates a classifier with the given retry budget and
// backoff strategy. A nil strategy falls back to the default capped
// exponential.
func NewClassifier(maxRetries int, bo backoff.Strategy) *Classifier {
	if bo == nil {
		bo = backoff.DefaultStrategy()
	}
	return &Classifier{MaxRetries: maxRetries, Backoff: bo}
}

// Classify maps a stage failure to a verdict. retryCount is the number of
// retries already attempted for the current stage.
//
// Policy: transient failures retry with backoff until the budget is spent,
// then escalate. Critical-service failures escalate immediately — no
// retry, no fallback. Data-quality failures go back through the router.
// Validation failures escalate. Cancellation terminates. Unclassified
// errors are treated as critical-service (fail safe, not silent).
func (c *Classifier) Classify(stage Stage, err error, retryCount int) Verdict {
	f := AsFault(stage, err)

	switch f.Kind {
	case KindTransientExternal:
		if retryCount >= c.MaxRetries {
			return Verdict{Kind: f.Kind, Retryable: false, Action: ActionEscalate}
		}
		return Verdict{
			Kind:      f.Kind,
			Retryable: true,
			Action:    ActionRetry,
			Delay:     c.Backoff.Delay(retryCount + 1),
		}
	case KindDataQuality:
		return Verdict{Kind: f.Kind, Action: ActionRoute}
	case KindCancellation:
		return Verdict{Kind: f.Kind, Action: ActionCancel}
	case KindValidation:
		return Verdict{Kind: f.Kind, Action: ActionEscalate}
	default:
		return Verdict{Kind: KindCriticalService, Action: ActionEscalate}
	}
}
