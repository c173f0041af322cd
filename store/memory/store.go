// Package memory provides a fully in-memory store implementation.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/victorbash400/rainmaker"
	"github.com/victorbash400/rainmaker/audit"
	"github.com/victorbash400/rainmaker/driver"
	"github.com/victorbash400/rainmaker/id"
	"github.com/victorbash400/rainmaker/pipeline"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ pipeline.Store    = (*Store)(nil)
	_ audit.Store       = (*Store)(nil)
	_ driver.LeaseStore = (*Store)(nil)
)

// lease is one workflow ownership claim.
type lease struct {
	owner   id.OwnerID
	expires time.Time
}

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	states map[id.WorkflowID]*pipeline.State
	audits map[id.WorkflowID][]*audit.Record
	leases map[id.WorkflowID]lease
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		states: make(map[id.WorkflowID]*pipeline.State),
		audits: make(map[id.WorkflowID][]*audit.Record),
		leases: make(map[id.WorkflowID]lease),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Pipeline Store
// ──────────────────────────────────────────────────

// CreateState persists a new workflow state document.
func (m *Store) CreateState(_ context.Context, st *pipeline.State) error {
	if err := st.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.states[st.ID]; exists {
		return rainmaker.ErrWorkflowExists
	}
	m.states[st.ID] = st.Clone()
	return nil
}

// GetState retrieves a workflow state document by ID.
func (m *Store) GetState(_ context.Context, workflowID id.WorkflowID) (*pipeline.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[workflowID]
	if !ok {
		return nil, rainmaker.ErrWorkflowNotFound
	}
	return st.Clone(), nil
}

// PutState persists changes to an existing workflow state document.
func (m *Store) PutState(_ context.Context, st *pipeline.State) error {
	if err := st.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.states[st.ID]; !ok {
		return rainmaker.ErrWorkflowNotFound
	}
	m.states[st.ID] = st.Clone()
	return nil
}

// ListStates returns workflow state documents matching the options,
// ordered by creation time.
func (m *Store) ListStates(_ context.Context, opts pipeline.ListOpts) ([]*pipeline.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*pipeline.State, 0, len(m.states))
	for _, st := range m.states {
		if opts.Status != "" && st.Status() != opts.Status {
			continue
		}
		matched = append(matched, st)
	}

	sort.Slice(matched, func(i, k int) bool {
		if !matched[i].CreatedAt.Equal(matched[k].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[k].CreatedAt)
		}
		return matched[i].ID.String() < matched[k].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	result := make([]*pipeline.State, len(matched))
	for i, st := range matched {
		result[i] = st.Clone()
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Audit Store
// ──────────────────────────────────────────────────

// AppendAudit persists one audit record.
func (m *Store) AppendAudit(_ context.Context, rec *audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.audits[rec.WorkflowID] = append(m.audits[rec.WorkflowID], &cp)
	return nil
}

// ListAudit returns a workflow's audit records in append order.
func (m *Store) ListAudit(_ context.Context, workflowID id.WorkflowID, opts audit.ListOpts) ([]*audit.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs, ok := m.audits[workflowID]
	if !ok {
		return nil, rainmaker.ErrAuditNotFound
	}

	matched := make([]*audit.Record, 0, len(recs))
	for _, rec := range recs {
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

	result := make([]*audit.Record, len(matched))
	for i, rec := range matched {
		cp := *rec
		result[i] = &cp
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Lease Store
// ──────────────────────────────────────────────────

// AcquireLease claims a workflow for an owner. Re-acquiring an unexpired
// lease held by the same owner extends it.
func (m *Store) AcquireLease(_ context.Context, workflowID id.WorkflowID, owner id.OwnerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if l, held := m.leases[workflowID]; held && l.owner != owner && l.expires.After(now) {
		return false, nil
	}
	m.leases[workflowID] = lease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

// ReleaseLease drops the owner's claim. Releasing a lease held by a
// different owner is a no-op.
func (m *Store) ReleaseLease(_ context.Context, workflowID id.WorkflowID, owner id.OwnerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, held := m.leases[workflowID]; held && l.owner == owner {
		delete(m.leases, workflowID)
	}
	return nil
}
