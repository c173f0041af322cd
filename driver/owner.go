package driver

import (
	"context"
	"sync"
	"time"

	"github.com/victorbash400/rainmaker/id"
)

// LeaseStore is the optional cross-process ownership contract. A driver in
// a multi-process deployment acquires a TTL lease on a workflow before
// advancing it; the in-process ownership table alone is enough for a
// single process.
type LeaseStore interface {
	// AcquireLease claims a workflow for an owner. Returns false when
	// another owner holds an unexpired lease.
	AcquireLease(ctx context.Context, workflowID id.WorkflowID, owner id.OwnerID, ttl time.Duration) (bool, error)

	// ReleaseLease drops the owner's claim. Releasing a lease held by a
	// different owner is a no-op.
	ReleaseLease(ctx context.Context, workflowID id.WorkflowID, owner id.OwnerID) error
}

// ownership is the in-process single-owner table: at most one goroutine
// advances a given workflow at a time. It also hands out the per-workflow
// write locks that serialize fenced persists with cancels, which write
// from outside the advance loop.
type ownership struct {
	mu     sync.Mutex
	active map[id.WorkflowID]struct{}
	writes map[id.WorkflowID]*sync.Mutex
}

func newOwnership() *ownership {
	return &ownership{
		active: make(map[id.WorkflowID]struct{}),
		writes: make(map[id.WorkflowID]*sync.Mutex),
	}
}

// acquire claims the workflow. Returns false when another goroutine in
// this process already owns it.
func (o *ownership) acquire(workflowID id.WorkflowID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, held := o.active[workflowID]; held {
		return false
	}
	o.active[workflowID] = struct{}{}
	return true
}

func (o *ownership) release(workflowID id.WorkflowID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, workflowID)
}

// writeLock returns the workflow's state-write mutex, creating it on
// first use.
func (o *ownership) writeLock(workflowID id.WorkflowID) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.writes[workflowID]
	if !ok {
		l = &sync.Mutex{}
		o.writes[workflowID] = l
	}
	return l
}
