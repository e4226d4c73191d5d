// Package ext defines the extension system for relayq.
// Extensions are notified of lifecycle events (job enqueued, completed,
// lock acquired, etc.) and can react to them — audit trails, metrics,
// alerting.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about. This replaces wildcard "subscribe to
// everything" listeners with a statically checkable, per-topic contract.
package ext

import (
	"context"
	"time"

	"github.com/lumenlabs/relayq/dlq"
	"github.com/lumenlabs/relayq/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when a job fails but is scheduled for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobFailed is called when a job fails terminally (budget exhausted or
// permanent failure).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobDeadLettered is called when a job's snapshot is pushed to the
// dead-letter queue.
type JobDeadLettered interface {
	OnJobDeadLettered(ctx context.Context, rec *dlq.Record) error
}

// JobCancelled is called when a waiting or delayed job is removed before
// execution.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Idempotency lifecycle hooks
// ──────────────────────────────────────────────────

// LockAcquired is called when an idempotency lock is acquired for a key.
type LockAcquired interface {
	OnLockAcquired(ctx context.Context, key string, token string) error
}

// LockContended is called when a caller finds the lock held and begins
// waiting for a cached result, and again (with timedOut=true) if the wait
// window closes without one.
type LockContended interface {
	OnLockContended(ctx context.Context, key string, timedOut bool) error
}

// LockReleased is called after a lock is released (or found already gone,
// released=false, meaning the lock expired or was taken over).
type LockReleased interface {
	OnLockReleased(ctx context.Context, key string, released bool) error
}

// ResultCached is called when an execution result is written, and on every
// subsequent replay served from the cache (cached=true).
type ResultCached interface {
	OnResultCached(ctx context.Context, key string, cached bool) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
