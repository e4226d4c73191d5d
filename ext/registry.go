package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/lumenlabs/relayq/dlq"
	"github.com/lumenlabs/relayq/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobEnqueuedEntry struct {
	name string
	hook JobEnqueued
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobDeadLetteredEntry struct {
	name string
	hook JobDeadLettered
}

type jobCancelledEntry struct {
	name string
	hook JobCancelled
}

type lockAcquiredEntry struct {
	name string
	hook LockAcquired
}

type lockContendedEntry struct {
	name string
	hook LockContended
}

type lockReleasedEntry struct {
	name string
	hook LockReleased
}

type resultCachedEntry struct {
	name string
	hook ResultCached
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobEnqueued     []jobEnqueuedEntry
	jobStarted      []jobStartedEntry
	jobCompleted    []jobCompletedEntry
	jobRetrying     []jobRetryingEntry
	jobFailed       []jobFailedEntry
	jobDeadLettered []jobDeadLetteredEntry
	jobCancelled    []jobCancelledEntry
	lockAcquired    []lockAcquiredEntry
	lockContended   []lockContendedEntry
	lockReleased    []lockReleasedEntry
	resultCached    []resultCachedEntry
	shutdown        []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, jobEnqueuedEntry{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(JobDeadLettered); ok {
		r.jobDeadLettered = append(r.jobDeadLettered, jobDeadLetteredEntry{name, h})
	}
	if h, ok := e.(JobCancelled); ok {
		r.jobCancelled = append(r.jobCancelled, jobCancelledEntry{name, h})
	}
	if h, ok := e.(LockAcquired); ok {
		r.lockAcquired = append(r.lockAcquired, lockAcquiredEntry{name, h})
	}
	if h, ok := e.(LockContended); ok {
		r.lockContended = append(r.lockContended, lockContendedEntry{name, h})
	}
	if h, ok := e.(LockReleased); ok {
		r.lockReleased = append(r.lockReleased, lockReleasedEntry{name, h})
	}
	if h, ok := e.(ResultCached); ok {
		r.resultCached = append(r.resultCached, resultCachedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, attempt, nextRunAt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobDeadLettered notifies all extensions that implement JobDeadLettered.
func (r *Registry) EmitJobDeadLettered(ctx context.Context, rec *dlq.Record) {
	for _, e := range r.jobDeadLettered {
		if err := e.hook.OnJobDeadLettered(ctx, rec); err != nil {
			r.logHookError("OnJobDeadLettered", e.name, err)
		}
	}
}

// EmitJobCancelled notifies all extensions that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCancelled {
		if err := e.hook.OnJobCancelled(ctx, j); err != nil {
			r.logHookError("OnJobCancelled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Idempotency event emitters
// ──────────────────────────────────────────────────

// EmitLockAcquired notifies all extensions that implement LockAcquired.
func (r *Registry) EmitLockAcquired(ctx context.Context, key, token string) {
	for _, e := range r.lockAcquired {
		if err := e.hook.OnLockAcquired(ctx, key, token); err != nil {
			r.logHookError("OnLockAcquired", e.name, err)
		}
	}
}

// EmitLockContended notifies all extensions that implement LockContended.
func (r *Registry) EmitLockContended(ctx context.Context, key string, timedOut bool) {
	for _, e := range r.lockContended {
		if err := e.hook.OnLockContended(ctx, key, timedOut); err != nil {
			r.logHookError("OnLockContended", e.name, err)
		}
	}
}

// EmitLockReleased notifies all extensions that implement LockReleased.
func (r *Registry) EmitLockReleased(ctx context.Context, key string, released bool) {
	for _, e := range r.lockReleased {
		if err := e.hook.OnLockReleased(ctx, key, released); err != nil {
			r.logHookError("OnLockReleased", e.name, err)
		}
	}
}

// EmitResultCached notifies all extensions that implement ResultCached.
func (r *Registry) EmitResultCached(ctx context.Context, key string, cached bool) {
	for _, e := range r.resultCached {
		if err := e.hook.OnResultCached(ctx, key, cached); err != nil {
			r.logHookError("OnResultCached", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a hook failure. Hook errors never propagate to the
// caller; lifecycle notification is best-effort.
func (r *Registry) logHookError(hook, extension string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extension),
		slog.String("error", err.Error()),
	)
}
