package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/victorbash400/rainmaker"
	"github.com/victorbash400/rainmaker/audit"
	"github.com/victorbash400/rainmaker/id"
)

// AppendAudit persists one audit record by appending to the workflow's
// trail list.
func (s *Store) AppendAudit(ctx context.Context, rec *audit.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("rainmaker/redis: marshal audit record: %w", err)
	}
	if err := s.client.RPush(ctx, auditKey(rec.WorkflowID.String()), data).Err(); err != nil {
		return fmt.Errorf("rainmaker/redis: append audit: %w", err)
	}
	return nil
}

// ListAudit returns a workflow's audit records in append order.
func (s *Store) ListAudit(ctx context.Context, workflowID id.WorkflowID, opts audit.ListOpts) ([]*audit.Record, error) {
	raw, err := s.client.LRange(ctx, auditKey(workflowID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("rainmaker/redis: list audit: %w", err)
	}
	if len(raw) == 0 {
		return nil, rainmaker.ErrAuditNotFound
	}

	matched := make([]*audit.Record, 0, len(raw))
	for _, item := range raw {
		rec := new(audit.Record)
		if err := json.Unmarshal([]byte(item), rec); err != nil {
			return nil, fmt.Errorf("rainmaker/redis: unmarshal audit record: %w", err)
		}
		if opts.Action != "" && rec.Action != opts.Action {
			continue
		}
		matched = append(matched, rec)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}
