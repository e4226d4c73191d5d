// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware, and a Pool that
// manages concurrent worker goroutines polling for jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumenlabs/relayq"
	"github.com/lumenlabs/relayq/backoff"
	"github.com/lumenlabs/relayq/dlq"
	"github.com/lumenlabs/relayq/ext"
	"github.com/lumenlabs/relayq/id"
	"github.com/lumenlabs/relayq/job"
	"github.com/lumenlabs/relayq/middleware"
)

// Executor runs a single job through middleware and the registered handler,
// then handles retry bookkeeping, dead-lettering, state updates, and
// lifecycle events.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	dlqService *dlq.Service
	backoff    backoff.Strategy
	backoffCap time.Duration
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies. bo is the
// retry schedule for jobs without a per-job backoff base; backoffCap bounds
// per-job exponential delays.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	dlqService *dlq.Service,
	bo backoff.Strategy,
	backoffCap time.Duration,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		dlqService: dlqService,
		backoff:    bo,
		backoffCap: backoffCap,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a job through the middleware chain and handler.
// On success: marks completed, emits JobCompleted.
// On transient failure with budget remaining: marks delayed with backoff,
// emits JobRetrying.
// On permanent failure or exhausted budget: marks failed, pushes a
// dead-letter record, emits JobFailed + JobDeadLettered.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Name)
	if !ok {
		// No handler can ever succeed; retrying would burn the budget
		// for nothing.
		err := fmt.Errorf("no handler registered for job %q", j.Name)
		j.Attempts++
		j.FailureReason = err.Error()
		j.UpdatedAt = time.Now().UTC()
		return e.sendToDLQ(ctx, j, err)
	}

	start := time.Now()

	// The terminal handler that calls the registered job handler.
	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	}

	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	now := time.Now().UTC()
	j.UpdatedAt = now

	if err != nil {
		return e.handleFailure(ctx, j, err, now)
	}

	return e.handleSuccess(ctx, j, now, elapsed)
}

// Fail routes a job through the normal failure path without running its
// handler. The reaper uses it for stale jobs so crashed workers still
// consume the attempt budget instead of re-executing forever.
func (e *Executor) Fail(ctx context.Context, j *job.Job, cause error) error {
	now := time.Now().UTC()
	j.UpdatedAt = now
	return e.handleFailure(ctx, j, cause, now)
}

// handleSuccess marks the job as completed and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, now time.Time, elapsed time.Duration) error {
	j.State = job.StateCompleted
	j.FinishedAt = &now
	j.FailureReason = ""

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// handleFailure consumes an attempt and either schedules a retry or
// dead-letters the job. Permanent errors skip the remaining budget.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.Attempts++
	j.FailureReason = handlerErr.Error()

	if relayq.IsPermanent(handlerErr) {
		e.logger.Warn("permanent failure, skipping remaining attempts",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Int("attempt", j.Attempts),
			slog.String("error", handlerErr.Error()),
		)
		return e.sendToDLQ(ctx, j, handlerErr)
	}

	if j.Attempts < j.MaxAttempts {
		return e.scheduleRetry(ctx, j, now)
	}

	if dlqErr := e.sendToDLQ(ctx, j, handlerErr); dlqErr != nil {
		return fmt.Errorf("%w: %w", relayq.ErrMaxAttemptsReached, dlqErr)
	}
	return nil
}

// retryDelay returns the backoff before the next attempt. A per-job
// backoff base takes priority over the pool-wide strategy.
func (e *Executor) retryDelay(j *job.Job) time.Duration {
	if j.BackoffBase > 0 {
		return backoff.NewExponential(j.BackoffBase, e.backoffCap).Delay(j.Attempts)
	}
	return e.backoff.Delay(j.Attempts)
}

// scheduleRetry sets the job to StateDelayed with a backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, now time.Time) error {
	delay := e.retryDelay(j)
	nextRunAt := now.Add(delay)
	j.RunAt = nextRunAt
	j.State = job.StateDelayed
	// The claim ends here; the retry belongs to whichever worker
	// dequeues it next.
	j.WorkerID = id.Nil
	j.StartedAt = nil
	j.HeartbeatAt = nil

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobRetrying(ctx, j, j.Attempts, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %s", j.Name, j.Attempts, j.MaxAttempts, j.FailureReason)
}

// sendToDLQ marks the job as failed, pushes a dead-letter record, and
// emits events. Failed is terminal: nothing retries out of it.
func (e *Executor) sendToDLQ(ctx context.Context, j *job.Job, handlerErr error) error {
	now := time.Now().UTC()
	j.State = job.StateFailed
	j.FinishedAt = &now

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobFailed(ctx, j, handlerErr)

	if e.dlqService != nil {
		rec, dlqErr := e.dlqService.Push(ctx, j, handlerErr)
		if dlqErr != nil {
			e.logger.Error("failed to push dead-letter record",
				slog.String("job_id", j.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		} else {
			e.extensions.EmitJobDeadLettered(ctx, rec)
		}
	}

	e.logger.Warn("job dead-lettered",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempts", j.Attempts),
		slog.String("correlation_id", j.CorrelationID),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}
