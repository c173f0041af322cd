package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/victorbash400/rainmaker/id"
)

// AcquireLease claims a workflow for an owner via an atomic upsert: the
// update side only fires when the existing lease belongs to the same owner
// or has expired.
func (s *Store) AcquireLease(ctx context.Context, workflowID id.WorkflowID, owner id.OwnerID, ttl time.Duration) (bool, error) {
	expires := time.Now().UTC().Add(ttl)
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO rainmaker_leases (workflow_id, owner, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (workflow_id) DO UPDATE
		SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE rainmaker_leases.owner = EXCLUDED.owner
		   OR rainmaker_leases.expires_at < NOW()`,
		workflowID.String(), owner.String(), expires,
	)
	if err != nil {
		return false, fmt.Errorf("rainmaker/postgres: acquire lease: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseLease drops the owner's claim. Releasing a lease held by a
// different owner is a no-op.
func (s *Store) ReleaseLease(ctx context.Context, workflowID id.WorkflowID, owner id.OwnerID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM rainmaker_leases WHERE workflow_id = $1 AND owner = $2`,
		workflowID.String(), owner.String(),
	)
	if err != nil {
		return fmt.Errorf("rainmaker/postgres: release lease: %w", err)
	}
	return nil
}
