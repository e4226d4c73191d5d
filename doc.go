// Package relayq provides an idempotent job-dispatch engine for Go. It
// ingests external business events and dispatches asynchronous jobs with
// at-most-once local execution guarantees under concurrent producers and
// crash-prone workers.
//
// relayq is designed as a library, not a service. Import it, configure a
// store and a keyed store, and register jobs as ordinary Go functions.
//
// # Quick Start
//
//	d, err := relayq.New(
//	    relayq.WithStore(pgStore),
//	    relayq.WithConcurrency(20),
//	)
//
// # Architecture
//
// relayq follows a composable store pattern where each subsystem (job, dlq)
// defines its own store interface and a single backend implements all of
// them. Distributed coordination — idempotency locks, cached results — goes
// through the separate kv.Store adapter, which any keyed store with an
// atomic set-if-absent and compare-and-delete primitive can satisfy.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package relayq
