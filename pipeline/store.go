package pipeline

import (
	"context"

	"github.com/victorbash400/rainmaker/id"
)

// ListOpts controls filtering and pagination for workflow list queries.
type ListOpts struct {
	// Limit is the maximum number of workflows to return. Zero means no limit.
	Limit int
	// Offset is the number of workflows to skip.
	Offset int
	// Status filters by derived status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for workflow state documents:
// one versioned document per workflow ID with atomic read-modify-write per
// key. Because exactly one driver owns a workflow at a time, last-writer
// wins is safe within a key.
type Store interface {
	// CreateState persists a new workflow state document.
	// Returns rainmaker.ErrWorkflowExists if the ID is already present.
	CreateState(ctx context.Context, st *State) error

	// GetState retrieves a workflow state document by ID.
	// Returns rainmaker.ErrWorkflowNotFound if absent.
	GetState(ctx context.Context, workflowID id.WorkflowID) (*State, error)

	// PutState persists changes to an existing workflow state document,
	// replacing it atomically.
	PutState(ctx context.Context, st *State) error

	// ListStates returns workflow state documents matching the options.
	ListStates(ctx context.Context, opts ListOpts) ([]*State, error)
}
