package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/victorbash400/rainmaker"
	"github.com/victorbash400/rainmaker/id"
	"github.com/victorbash400/rainmaker/pipeline"
)

// stateToMap flattens a workflow document into Hash fields. The full
// document travels in "doc"; "status" and "created_at" are extracted for
// filtering and ordering without decoding every document.
func stateToMap(st *pipeline.State) (map[string]any, error) {
	doc, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal state doc: %w", err)
	}
	return map[string]any{
		"doc":        string(doc),
		"status":     string(st.Status()),
		"created_at": st.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

// mapToState decodes the Hash fields back into a workflow document.
func mapToState(vals map[string]string) (*pipeline.State, error) {
	st := new(pipeline.State)
	if err := json.Unmarshal([]byte(vals["doc"]), st); err != nil {
		return nil, fmt.Errorf("unmarshal state doc: %w", err)
	}
	return st, nil
}

// CreateState persists a new workflow state document.
func (s *Store) CreateState(ctx context.Context, st *pipeline.State) error {
	if err := st.Validate(); err != nil {
		return err
	}

	wID := st.ID.String()
	key := workflowKey(wID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rainmaker/redis: create state exists: %w", err)
	}
	if exists > 0 {
		return rainmaker.ErrWorkflowExists
	}

	fields, err := stateToMap(st)
	if err != nil {
		return fmt.Errorf("rainmaker/redis: create state: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, workflowIDsKey, wID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rainmaker/redis: create state: %w", err)
	}
	return nil
}

// GetState retrieves a workflow state document by ID.
func (s *Store) GetState(ctx context.Context, workflowID id.WorkflowID) (*pipeline.State, error) {
	vals, err := s.client.HGetAll(ctx, workflowKey(workflowID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("rainmaker/redis: get state: %w", err)
	}
	if len(vals) == 0 {
		return nil, rainmaker.ErrWorkflowNotFound
	}
	return mapToState(vals)
}

// PutState persists changes to an existing workflow state document.
func (s *Store) PutState(ctx context.Context, st *pipeline.State) error {
	if err := st.Validate(); err != nil {
		return err
	}

	key := workflowKey(st.ID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rainmaker/redis: put state exists: %w", err)
	}
	if exists == 0 {
		return rainmaker.ErrWorkflowNotFound
	}

	fields, err := stateToMap(st)
	if err != nil {
		return fmt.Errorf("rainmaker/redis: put state: %w", err)
	}
	if _, err := s.client.HSet(ctx, key, fields).Result(); err != nil {
		return fmt.Errorf("rainmaker/redis: put state: %w", err)
	}
	return nil
}

// ListStates returns workflow state documents matching the options,
// ordered by creation time.
func (s *Store) ListStates(ctx context.Context, opts pipeline.ListOpts) ([]*pipeline.State, error) {
	ids, err := s.client.SMembers(ctx, workflowIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("rainmaker/redis: list states smembers: %w", err)
	}

	var states []*pipeline.State
	for _, wID := range ids {
		vals, getErr := s.client.HGetAll(ctx, workflowKey(wID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		if opts.Status != "" && vals["status"] != string(opts.Status) {
			continue
		}
		st, convErr := mapToState(vals)
		if convErr != nil {
			continue
		}
		states = append(states, st)
	}

	sort.Slice(states, func(i, k int) bool {
		if !states[i].CreatedAt.Equal(states[k].CreatedAt) {
			return states[i].CreatedAt.Before(states[k].CreatedAt)
		}
		return states[i].ID.String() < states[k].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(states) {
			return nil, nil
		}
		states = states[opts.Offset:]
	}
	if opts.Limit > 0 && len(states) > opts.Limit {
		states = states[:opts.Limit]
	}
	return states, nil
}
