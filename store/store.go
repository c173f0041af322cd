// Package store defines the aggregate persistence interface. Each subsystem
// (pipeline, audit, driver leases) defines its own store interface. The
// composite Store composes them all. Backends: Postgres, Redis, and Memory.
package store

import (
	"context"

	"github.com/victorbash400/rainmaker/audit"
	"github.com/victorbash400/rainmaker/driver"
	"github.com/victorbash400/rainmaker/pipeline"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, redis, memory) implements all of them.
type Store interface {
	pipeline.Store
	audit.Store
	driver.LeaseStore

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
