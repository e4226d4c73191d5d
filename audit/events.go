package audit

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued     = "job.enqueued"
	ActionJobStarted      = "job.started"
	ActionJobCompleted    = "job.completed"
	ActionJobRetrying     = "job.retrying"
	ActionJobFailed       = "job.failed"
	ActionJobDeadLettered = "job.dead_lettered"
	ActionJobCancelled    = "job.cancelled"
	ActionLockAcquired    = "idempotency.lock_acquired"
	ActionLockContended   = "idempotency.lock_contended"
	ActionLockReleased    = "idempotency.lock_released"
	ActionResultCached    = "idempotency.result_cached"
)

// Audit event categories group related actions.
const (
	CategoryJob         = "relayq.job"
	CategoryIdempotency = "relayq.idempotency"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob            = "job"
	ResourceIdempotencyKey = "idempotency_key"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobRetrying,
		ActionJobFailed,
		ActionJobDeadLettered,
		ActionJobCancelled,
		ActionLockAcquired,
		ActionLockContended,
		ActionLockReleased,
		ActionResultCached,
	}
}
