package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumenlabs/relayq/dlq"
	"github.com/lumenlabs/relayq/ext"
	"github.com/lumenlabs/relayq/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*Extension)(nil)
	_ ext.JobEnqueued     = (*Extension)(nil)
	_ ext.JobStarted      = (*Extension)(nil)
	_ ext.JobCompleted    = (*Extension)(nil)
	_ ext.JobRetrying     = (*Extension)(nil)
	_ ext.JobFailed       = (*Extension)(nil)
	_ ext.JobDeadLettered = (*Extension)(nil)
	_ ext.JobCancelled    = (*Extension)(nil)
	_ ext.LockAcquired    = (*Extension)(nil)
	_ ext.LockContended   = (*Extension)(nil)
	_ ext.LockReleased    = (*Extension)(nil)
	_ ext.ResultCached    = (*Extension)(nil)
)

// Sink is the interface that audit backends must implement.
type Sink interface {
	// Write persists a fully-formed audit event.
	Write(ctx context.Context, event *Event) error
}

// Event is a structured audit event.
type Event struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID    string         `json:"resource_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Outcome       string         `json:"outcome"`
	Severity      string         `json:"severity"`
	Reason        string         `json:"reason,omitempty"`
}

// SinkFunc is an adapter to use a plain function as a Sink.
type SinkFunc func(ctx context.Context, event *Event) error

func (f SinkFunc) Write(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges relayq lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Sink].
type Extension struct {
	sink    Sink
	enabled map[string]bool // nil = all enabled
	logger  *slog.Logger
}

// New creates an Extension that emits audit events through the provided Sink.
func New(s Sink, opts ...Option) *Extension {
	e := &Extension{
		sink:   s,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return e.emit(ctx, ActionJobEnqueued, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, j.CorrelationID, nil,
		"job_name", j.Name,
		"queue", j.Queue,
		"priority", j.Priority,
	)
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.emit(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, j.CorrelationID, nil,
		"job_name", j.Name,
		"queue", j.Queue,
		"worker_id", j.WorkerID.String(),
		"attempt", j.Attempts,
	)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.emit(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, j.CorrelationID, nil,
		"job_name", j.Name,
		"queue", j.Queue,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	return e.emit(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, j.CorrelationID, nil,
		"job_name", j.Name,
		"queue", j.Queue,
		"attempt", attempt,
		"max_attempts", j.MaxAttempts,
		"next_run_at", nextRunAt.Format(time.RFC3339),
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.emit(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, j.CorrelationID, jobErr,
		"job_name", j.Name,
		"queue", j.Queue,
		"attempts", j.Attempts,
		"max_attempts", j.MaxAttempts,
	)
}

// OnJobDeadLettered implements ext.JobDeadLettered.
func (e *Extension) OnJobDeadLettered(ctx context.Context, rec *dlq.Record) error {
	return e.emit(ctx, ActionJobDeadLettered, SeverityCritical, OutcomeFailure,
		ResourceJob, rec.JobID.String(), CategoryJob, rec.CorrelationID, nil,
		"job_name", rec.JobName,
		"queue", rec.Queue,
		"record_id", rec.ID.String(),
		"attempts", rec.Attempts,
		"failure_reason", rec.FailureReason,
	)
}

// OnJobCancelled implements ext.JobCancelled.
func (e *Extension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return e.emit(ctx, ActionJobCancelled, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, j.CorrelationID, nil,
		"job_name", j.Name,
		"queue", j.Queue,
	)
}

// ── Idempotency lifecycle hooks ─────────────────────

// OnLockAcquired implements ext.LockAcquired.
func (e *Extension) OnLockAcquired(ctx context.Context, key, token string) error {
	return e.emit(ctx, ActionLockAcquired, SeverityInfo, OutcomeSuccess,
		ResourceIdempotencyKey, key, CategoryIdempotency, "", nil,
		"token", token,
	)
}

// OnLockContended implements ext.LockContended.
func (e *Extension) OnLockContended(ctx context.Context, key string, timedOut bool) error {
	severity := SeverityWarning
	outcome := OutcomeSuccess
	if timedOut {
		severity = SeverityCritical
		outcome = OutcomeFailure
	}
	return e.emit(ctx, ActionLockContended, severity, outcome,
		ResourceIdempotencyKey, key, CategoryIdempotency, "", nil,
		"timed_out", timedOut,
	)
}

// OnLockReleased implements ext.LockReleased.
func (e *Extension) OnLockReleased(ctx context.Context, key string, released bool) error {
	severity := SeverityInfo
	if !released {
		// The lock expired or was taken over before release.
		severity = SeverityWarning
	}
	return e.emit(ctx, ActionLockReleased, severity, OutcomeSuccess,
		ResourceIdempotencyKey, key, CategoryIdempotency, "", nil,
		"released", released,
	)
}

// OnResultCached implements ext.ResultCached.
func (e *Extension) OnResultCached(ctx context.Context, key string, cached bool) error {
	return e.emit(ctx, ActionResultCached, SeverityInfo, OutcomeSuccess,
		ResourceIdempotencyKey, key, CategoryIdempotency, "", nil,
		"replay", cached,
	)
}

// ── Internal helpers ────────────────────────────────

// emit builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) emit(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category, correlationID string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &Event{
		Action:        action,
		Resource:      resource,
		Category:      category,
		ResourceID:    resourceID,
		CorrelationID: correlationID,
		Metadata:      meta,
		Outcome:       outcome,
		Severity:      severity,
		Reason:        reason,
	}

	if sinkErr := e.sink.Write(ctx, evt); sinkErr != nil {
		e.logger.Warn("audit: failed to write audit event",
			"action", action,
			"resource_id", resourceID,
			"error", sinkErr,
		)
	}
	return nil
}
