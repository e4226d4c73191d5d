package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lumenlabs/relayq"
	"github.com/lumenlabs/relayq/id"
	"github.com/lumenlabs/relayq/job"
)

const jobColumns = `
	id, name, queue, payload, state, priority, max_attempts, attempts,
	backoff_base, failure_reason, correlation_id, idempotency_key, worker_id,
	run_at, started_at, finished_at, heartbeat_at, timeout,
	created_at, updated_at`

// EnqueueJob persists a new job.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relayq_jobs (
			id, name, queue, payload, state, priority, max_attempts, attempts,
			backoff_base, failure_reason, correlation_id, idempotency_key, worker_id,
			run_at, started_at, finished_at, heartbeat_at, timeout,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20
		)`,
		j.ID.String(), j.Name, j.Queue, j.Payload, string(j.State),
		j.Priority, j.MaxAttempts, j.Attempts,
		j.BackoffBase.Nanoseconds(), j.FailureReason, j.CorrelationID,
		j.IdempotencyKey, j.WorkerID.String(),
		j.RunAt, j.StartedAt, j.FinishedAt, j.HeartbeatAt,
		j.Timeout.Nanoseconds(),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return relayq.ErrJobAlreadyExists
		}
		return fmt.Errorf("relayq/postgres: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit eligible jobs from the given
// queues for workerID, sets them to active, and returns them. The claim
// UPDATE records worker ownership and the start/heartbeat timestamps in
// the same statement, so a claim is visible to HeartbeatJob and
// ReapStaleJobs even if this process dies right after. Uses SELECT FOR
// UPDATE SKIP LOCKED for concurrent-safe dequeue. Eligible means
// waiting, or delayed with run_at in the past.
func (s *Store) DequeueJobs(ctx context.Context, workerID id.WorkerID, queues []string, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH dequeued AS (
			UPDATE relayq_jobs
			SET state = 'active', worker_id = $3,
			    started_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM relayq_jobs
				WHERE queue = ANY($1)
				  AND (state = 'waiting' OR (state = 'delayed' AND run_at <= NOW()))
				ORDER BY priority DESC, created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM dequeued ORDER BY priority DESC, created_at ASC`,
		queues, limit, workerID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("relayq/postgres: dequeue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM relayq_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, relayq.ErrJobNotFound
		}
		return nil, fmt.Errorf("relayq/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE relayq_jobs SET
			name = $2, queue = $3, payload = $4, state = $5,
			priority = $6, max_attempts = $7, attempts = $8,
			backoff_base = $9, failure_reason = $10, correlation_id = $11,
			idempotency_key = $12, worker_id = $13, run_at = $14,
			started_at = $15, finished_at = $16, heartbeat_at = $17,
			timeout = $18, updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.Name, j.Queue, j.Payload, string(j.State),
		j.Priority, j.MaxAttempts, j.Attempts,
		j.BackoffBase.Nanoseconds(), j.FailureReason, j.CorrelationID,
		j.IdempotencyKey, j.WorkerID.String(), j.RunAt,
		j.StartedAt, j.FinishedAt, j.HeartbeatAt,
		j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("relayq/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return relayq.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM relayq_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("relayq/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return relayq.ErrJobNotFound
	}
	return nil
}

// CancelJob removes a waiting or delayed job. Active jobs run to
// completion and cannot be preempted.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM relayq_jobs
		WHERE id = $1 AND state IN ('waiting', 'delayed')`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("relayq/postgres: cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from uncancellable.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM relayq_jobs WHERE id = $1)`,
			jobID.String(),
		).Scan(&exists); err != nil {
			return fmt.Errorf("relayq/postgres: cancel job check: %w", err)
		}
		if !exists {
			return relayq.ErrJobNotFound
		}
		return relayq.ErrJobActive
	}
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM relayq_jobs WHERE state = $1`
	args := []interface{}{string(state)}
	argIdx := 2

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("relayq/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM relayq_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("relayq/postgres: count jobs: %w", err)
	}
	return count, nil
}

// HeartbeatJob updates the heartbeat timestamp for an active job owned by
// the given worker.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE relayq_jobs
		SET heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state = 'active' AND worker_id = $2`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("relayq/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return relayq.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns active jobs whose last heartbeat (or start, if no
// heartbeat was ever recorded) is older than the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM relayq_jobs
		WHERE state = 'active'
		  AND COALESCE(heartbeat_at, started_at) < NOW() - $1::interval`,
		threshold.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("relayq/postgres: reap stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// PruneCompleted removes completed jobs whose finished_at is older than
// olderThan, keeping the keep most recently finished per queue.
func (s *Store) PruneCompleted(ctx context.Context, olderThan time.Duration, keep int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM relayq_jobs
		WHERE id IN (
			SELECT id FROM (
				SELECT id, finished_at,
				       ROW_NUMBER() OVER (PARTITION BY queue ORDER BY finished_at DESC) AS rank
				FROM relayq_jobs
				WHERE state = 'completed' AND finished_at IS NOT NULL
			) ranked
			WHERE ranked.rank > $1
			  AND ranked.finished_at < NOW() - $2::interval
		)`,
		keep, olderThan.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("relayq/postgres: prune completed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j             job.Job
		idStr         string
		stateStr      string
		workerStr     string
		backoffBaseNs int64
		timeoutNs     int64
	)
	err := row.Scan(
		&idStr, &j.Name, &j.Queue, &j.Payload, &stateStr,
		&j.Priority, &j.MaxAttempts, &j.Attempts,
		&backoffBaseNs, &j.FailureReason, &j.CorrelationID,
		&j.IdempotencyKey, &workerStr,
		&j.RunAt, &j.StartedAt, &j.FinishedAt, &j.HeartbeatAt,
		&timeoutNs,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.BackoffBase = time.Duration(backoffBaseNs)
	j.Timeout = time.Duration(timeoutNs)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("relayq/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("relayq/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("relayq/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
