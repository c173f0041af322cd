package redis

// Redis key naming conventions for rainmaker data.
// All keys are prefixed with "rainmaker:" to avoid collisions.

const keyPrefix = "rainmaker:"

// ── Workflow keys ──

// workflowKey returns the Hash key for a workflow document:
// rainmaker:workflow:{id}
func workflowKey(id string) string { return keyPrefix + "workflow:" + id }

// workflowIDsKey is the Set tracking all workflow IDs for enumeration.
const workflowIDsKey = keyPrefix + "workflow_ids"

// ── Audit keys ──

// auditKey returns the List key for a workflow's audit trail:
// rainmaker:audit:{workflowID}
func auditKey(workflowID string) string { return keyPrefix + "audit:" + workflowID }

// ── Lease keys ──

// leaseKey returns the key for a workflow ownership lease:
// rainmaker:lease:{workflowID}
func leaseKey(workflowID string) string { return keyPrefix + "lease:" + workflowID }
