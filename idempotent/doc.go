// Package idempotent coordinates at-most-once execution of operations
// identified by caller-supplied idempotency keys.
//
// The [Coordinator] runs over a [kv.Store] and maintains two keys per
// operation, a stable contract shared with external tooling:
//
//	idempotent:<key>:lock    — held by the single in-flight executor
//	idempotent:<key>:result  — the cached outcome, immutable once written
//
// [Coordinator.Do] first checks for a cached result and returns it verbatim
// if present. Otherwise it attempts to acquire the lock with a fresh token
// via set-if-absent. The winner runs the executor, writes the result, and
// releases the lock with an atomic compare-and-delete guarded by its token;
// a stale holder whose lock expired cannot release a successor's lock.
// Losers poll for the result with geometric backoff until it appears, the
// lock vanishes (holder crashed — they retake it), or the wait window
// closes with [ErrContentionTimeout].
//
// Failed executions are not cached: the lock is released and the next
// caller retries. Only successful outcomes replay.
//
// Lock expiry bounds how long a crashed holder blocks a key. An executor
// that outlives its lock TTL loses mutual exclusion; enable renewal with
// [WithLockRenewal] for long-running executors, or size the TTL above the
// worst-case execution time.
//
// [Execute] is the typed wrapper: it marshals the executor's return value
// to JSON for caching and unmarshals cached bytes on replay.
package idempotent
