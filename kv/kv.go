// Package kv defines the keyed store adapter used for distributed
// coordination: idempotency locks and cached execution results.
//
// The contract is deliberately small. Every coordination decision must be
// expressible as a single atomic round trip against the backing store, so
// the interface exposes only primitives a shared key/value store can
// execute server-side: set-if-absent-with-expiry, get, delete, and the
// token-guarded compare-and-delete / compare-and-expire pair. Any backend
// with those primitives (Redis via Lua scripting, an in-memory map under a
// mutex) can satisfy it.
package kv

import (
	"context"
	"time"
)

// Store is the keyed store adapter contract.
type Store interface {
	// Get returns the value stored at key. The second return is false when
	// the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// SetNX stores value at key only if the key is currently absent,
	// with the given time-to-live. Returns true if the value was stored.
	// This is the acquisition primitive: at most one concurrent SetNX for
	// the same key succeeds.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Set unconditionally stores value at key with the given time-to-live.
	// A zero ttl stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key unconditionally. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// CompareAndDelete removes key only if its current value equals
	// expected, in a single server-side step. Returns true if the key was
	// deleted. A mismatch (or absent key) is a no-op returning false —
	// this is what prevents a process from releasing a lock it no longer
	// owns.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)

	// CompareAndExpire resets the time-to-live of key only if its current
	// value equals expected, in a single server-side step. Returns true if
	// the expiry was extended. Used for lock lease renewal.
	CompareAndExpire(ctx context.Context, key string, expected []byte, ttl time.Duration) (bool, error)

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error
}
