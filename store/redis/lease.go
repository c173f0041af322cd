package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victorbash400/rainmaker/id"
)

// acquireScript claims or extends a lease atomically: the key is set when
// it is free or already held by the same owner.
var acquireScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 or redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

// releaseScript deletes the lease only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireLease claims a workflow for an owner. The TTL doubles as crash
// recovery: a dead owner's lease simply expires.
func (s *Store) AcquireLease(ctx context.Context, workflowID id.WorkflowID, owner id.OwnerID, ttl time.Duration) (bool, error) {
	res, err := acquireScript.Run(ctx, s.client,
		[]string{leaseKey(workflowID.String())},
		owner.String(), ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("rainmaker/redis: acquire lease: %w", err)
	}
	return res == 1, nil
}

// ReleaseLease drops the owner's claim. Releasing a lease held by a
// different owner is a no-op.
func (s *Store) ReleaseLease(ctx context.Context, workflowID id.WorkflowID, owner id.OwnerID) error {
	if err := releaseScript.Run(ctx, s.client,
		[]string{leaseKey(workflowID.String())},
		owner.String(),
	).Err(); err != nil {
		return fmt.Errorf("rainmaker/redis: release lease: %w", err)
	}
	return nil
}
