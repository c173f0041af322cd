package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/victorbash400/rainmaker"
	"github.com/victorbash400/rainmaker/audit"
	"github.com/victorbash400/rainmaker/id"
)

// AppendAudit persists one audit record.
func (s *Store) AppendAudit(ctx context.Context, rec *audit.Record) error {
	var meta []byte
	if rec.Metadata != nil {
		var err error
		meta, err = json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("rainmaker/postgres: marshal audit metadata: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO rainmaker_audit (
			id, workflow_id, action, stage, severity, outcome, reason, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID.String(), rec.WorkflowID.String(), rec.Action, rec.Stage,
		rec.Severity, rec.Outcome, rec.Reason, meta, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("rainmaker/postgres: append audit: %w", err)
	}
	return nil
}

// ListAudit returns a workflow's audit records in append order.
func (s *Store) ListAudit(ctx context.Context, workflowID id.WorkflowID, opts audit.ListOpts) ([]*audit.Record, error) {
	query := `
		SELECT id, workflow_id, action, stage, severity, outcome, reason, metadata, created_at
		FROM rainmaker_audit
		WHERE workflow_id = $1`
	args := []any{workflowID.String()}

	if opts.Action != "" {
		query += ` AND action = $2`
		args = append(args, opts.Action)
	}

	query += ` ORDER BY seq ASC`

	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rainmaker/postgres: list audit: %w", err)
	}
	defer rows.Close()

	var recs []*audit.Record
	for rows.Next() {
		var (
			rec         audit.Record
			recID       string
			recWorkflow string
			meta        []byte
		)
		if err := rows.Scan(&recID, &recWorkflow, &rec.Action, &rec.Stage,
			&rec.Severity, &rec.Outcome, &rec.Reason, &meta, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("rainmaker/postgres: list audit scan: %w", err)
		}

		rec.ID, err = id.ParseAuditID(recID)
		if err != nil {
			return nil, fmt.Errorf("rainmaker/postgres: parse audit id: %w", err)
		}
		rec.WorkflowID, err = id.ParseWorkflowID(recWorkflow)
		if err != nil {
			return nil, fmt.Errorf("rainmaker/postgres: parse workflow id: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("rainmaker/postgres: unmarshal audit metadata: %w", err)
			}
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rainmaker/postgres: list audit rows: %w", err)
	}

	if len(recs) == 0 && opts.Action == "" && opts.Offset == 0 {
		return nil, rainmaker.ErrAuditNotFound
	}
	return recs, nil
}
