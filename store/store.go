// Package store defines the aggregate persistence interface. Each subsystem
// (job, dlq) defines its own store interface; the composite Store composes
// them all. Backends: Postgres, Redis, and Memory.
package store

import (
	"context"

	"github.com/lumenlabs/relayq/dlq"
	"github.com/lumenlabs/relayq/job"
)

// Store is the aggregate persistence interface. A single backend
// (postgres, redis, memory) implements all subsystem stores.
type Store interface {
	job.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
