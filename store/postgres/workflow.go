package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/victorbash400/rainmaker"
	"github.com/victorbash400/rainmaker/id"
	"github.com/victorbash400/rainmaker/pipeline"
)

// CreateState persists a new workflow state document.
func (s *Store) CreateState(ctx context.Context, st *pipeline.State) error {
	if err := st.Validate(); err != nil {
		return err
	}

	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("rainmaker/postgres: marshal state: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO rainmaker_workflows (
			id, prospect_ref, status, current_stage, doc, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		st.ID.String(), st.ProspectRef, string(st.Status()), string(st.CurrentStage),
		doc, st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return rainmaker.ErrWorkflowExists
		}
		return fmt.Errorf("rainmaker/postgres: create state: %w", err)
	}
	return nil
}

// GetState retrieves a workflow state document by ID.
func (s *Store) GetState(ctx context.Context, workflowID id.WorkflowID) (*pipeline.State, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT doc FROM rainmaker_workflows WHERE id = $1`,
		workflowID.String(),
	)

	st, err := scanState(row)
	if err != nil {
		if isNoRows(err) {
			return nil, rainmaker.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("rainmaker/postgres: get state: %w", err)
	}
	return st, nil
}

// PutState persists changes to an existing workflow state document,
// replacing it atomically.
func (s *Store) PutState(ctx context.Context, st *pipeline.State) error {
	if err := st.Validate(); err != nil {
		return err
	}

	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("rainmaker/postgres: marshal state: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE rainmaker_workflows SET
			prospect_ref = $2, status = $3, current_stage = $4,
			doc = $5, updated_at = $6
		WHERE id = $1`,
		st.ID.String(), st.ProspectRef, string(st.Status()), string(st.CurrentStage),
		doc, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("rainmaker/postgres: put state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rainmaker.ErrWorkflowNotFound
	}
	return nil
}

// ListStates returns workflow state documents matching the options,
// ordered by creation time.
func (s *Store) ListStates(ctx context.Context, opts pipeline.ListOpts) ([]*pipeline.State, error) {
	query := `SELECT doc FROM rainmaker_workflows`
	args := []any{}

	if opts.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(opts.Status))
	}

	query += ` ORDER BY created_at ASC, id ASC`

	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rainmaker/postgres: list states: %w", err)
	}
	defer rows.Close()

	var states []*pipeline.State
	for rows.Next() {
		st, scanErr := scanState(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("rainmaker/postgres: list states scan: %w", scanErr)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rainmaker/postgres: list states rows: %w", err)
	}
	return states, nil
}

// scanState decodes the JSONB document column into a state value.
func scanState(row pgx.Row) (*pipeline.State, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		return nil, err
	}
	st := new(pipeline.State)
	if err := json.Unmarshal(doc, st); err != nil {
		return nil, fmt.Errorf("unmarshal state doc: %w", err)
	}
	return st, nil
}
