package rainmaker

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("rainmaker: no store configured")
	ErrStoreClosed     = errors.New("rainmaker: store closed")
	ErrMigrationFailed = errors.New("rainmaker: migration failed")

	// Not found errors.
	ErrWorkflowNotFound = errors.New("rainmaker: workflow not found")
	ErrAuditNotFound    = errors.New("rainmaker: audit record not found")

	// Conflict errors.
	ErrWorkflowExists = errors.New("rainmaker: workflow already exists")
	ErrNotOwner       = errors.New("rainmaker: workflow owned by another driver")

	// State errors.
	ErrInvalidState       = errors.New("rainmaker: invalid workflow state")
	ErrTerminal           = errors.New("rainmaker: workflow is terminal")
	ErrNotPaused          = errors.New("rainmaker: workflow is not paused")
	ErrPaused             = errors.New("rainmaker: workflow is paused for human action")
	ErrMaxRetriesExceeded = errors.New("rainmaker: max retries exceeded")

	// Executor errors.
	ErrNoExecutor            = errors.New("rainmaker: no executor bound for stage")
	ErrAssistanceRequested   = errors.New("rainmaker: executor requested human assistance")
	ErrPreconditionUnmet     = errors.New("rainmaker: stage entry precondition unmet")
	ErrStaleGeneration       = errors.New("rainmaker: stale generation, result discarded")
	ErrAwaitingExternalEvent = errors.New("rainmaker: workflow awaiting external event")
)
