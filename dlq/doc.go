// Package dlq provides the dead letter queue for jobs that can no longer
// be retried. It supports inspection, manual replay, and purging.
//
// A job lands here in two ways: its attempt budget is exhausted, or a
// handler returns a permanent error that makes further attempts pointless.
// Either way the executor calls [Service.Push], which snapshots the job —
// payload, failure reason, attempt counts, correlation ID — into an
// immutable [Record]. Dead-lettered jobs are never retried automatically.
//
// # Record
//
// A [Record] captures:
//   - JobID / JobName / Queue: original job identity
//   - Payload: the raw JSON payload at time of failure
//   - FailureReason: the final error message
//   - Attempts / MaxAttempts: the exhausted attempt budget
//   - CorrelationID: propagated from the original enqueue
//   - FailedAt: when the terminal failure occurred
//   - ReplayedAt: set when the record is replayed (nil if not yet replayed)
//
// # Service
//
// [Service] wraps the DLQ store with high-level operations:
//
//	svc := dlq.NewService(store, jobStore)
//
//	// Push is called automatically by the executor on terminal failure.
//	svc.Push(ctx, failedJob, err)
//
//	// Access the underlying store for list/get/purge/count.
//	svc.Store().ListRecords(ctx, dlq.ListOpts{Limit: 50})
//
// # Replay
//
// Replay is a deliberate operator action, never automatic. It re-enqueues
// the original payload as a fresh job with a zero attempt count and the
// original queue, priority, and correlation ID, then stamps ReplayedAt on
// the record. The record itself stays in the queue as an audit trail.
package dlq
