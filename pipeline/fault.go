package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy of classified stage failures. A Fault
// is constructed once at the boundary of every external call; kinds are
// never inferred later from free-text messages.
type ErrorKind string

const (
	// KindTransientExternal covers rate limits and transient network
	// failures. Retryable with exponential backoff.
	KindTransientExternal ErrorKind = "transient_external"

	// KindCriticalService means the stage's essential dependency is
	// unusable, not merely slow. Never retried: substituting degraded or
	// fabricated analysis into a sales pipeline damages prospect
	// relationships, so the workflow escalates to a human instead.
	KindCriticalService ErrorKind = "critical_service"

	// KindDataQuality means the stage completed but produced insufficient
	// or ambiguous results. Routed back through the router, never silently
	// accepted.
	KindDataQuality ErrorKind = "data_quality"

	// KindValidation means the stage received malformed input. Fails fast
	// and always escalates.
	KindValidation ErrorKind = "validation"

	// KindCancellation is an operator-issued cancel. Terminal.
	KindCancellation ErrorKind = "cancellation"
)

// Retryable reports whether failures of this kind may be retried
// automatically.
func (k ErrorKind) Retryable() bool {
	return k == KindTransientExternal
}

// Valid reports whether k is a known error kind.
func (k ErrorKind) Valid() bool {
	switch k {
	case KindTransientExternal, KindCriticalService, KindDataQuality,
		KindValidation, KindCancellation:
		return true
	}
	return false
}

// Fault is a classified stage failure. Stage executors raise *Fault for
// every failure they surface; anything else reaching the driver is wrapped
// as KindCriticalService (fail safe, not silent).
type Fault struct {
	Kind  ErrorKind
	Stage Stage
	Err   error
}

// NewFault classifies err with the given kind at an external-call boundary.
func NewFault(kind ErrorKind, stage Stage, err error) *Fault {
	return &Fault{Kind: kind, Stage: stage, Err: err}
}

// Faultf is NewFault with a formatted message.
func Faultf(kind ErrorKind, stage Stage, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Stage: stage, Err: fmt.Errorf(format, args...)}
}

// Error implements the error interface.
func (f *Fault) Error() string {
	return fmt.Sprintf("pipeline: stage %s: %s: %v", f.Stage, f.Kind, f.Err)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (f *Fault) Unwrap() error { return f.Err }

// Retryable reports whether this fault may be retried automatically.
func (f *Fault) Retryable() bool { return f.Kind.Retryable() }

// AsFault extracts the classified fault from err. An unclassified error is
// wrapped as KindCriticalService for the given stage: an unknown failure
// of a critical path stops the pipeline rather than degrading it.
func AsFault(stage Stage, err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: KindCriticalService, Stage: stage, Err: err}
}
