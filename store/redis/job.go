package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lumenlabs/relayq"
	"github.com/lumenlabs/relayq/id"
	"github.com/lumenlabs/relayq/job"
)

// EnqueueJob stores the job as a Hash and indexes it on the queue's ready
// or delayed Sorted Set depending on its state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("relayq/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return relayq.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	indexJob(ctx, pipe, j)

	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("relayq/redis: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically pops up to limit jobs from the given queues and
// claims them for workerID, recording the worker and start/heartbeat
// timestamps on the job hash. Due delayed jobs are promoted into the
// ready set first.
func (s *Store) DequeueJobs(ctx context.Context, workerID id.WorkerID, queues []string, limit int) ([]*job.Job, error) {
	now := time.Now().UTC()
	var jobs []*job.Job

	for _, q := range queues {
		if len(jobs) >= limit {
			break
		}
		if err := s.promoteDue(ctx, q, now); err != nil {
			return nil, err
		}

		remaining := limit - len(jobs)

		// Pop from ready set (lowest score = highest priority, earliest enqueue).
		members, err := s.client.ZPopMin(ctx, readyKey(q), int64(remaining)).Result()
		if err != nil {
			return nil, fmt.Errorf("relayq/redis: dequeue zpopmin: %w", err)
		}

		for _, z := range members {
			jID, ok := z.Member.(string)
			if !ok {
				continue
			}

			key := jobKey(jID)
			_, err = s.client.HSet(ctx, key,
				"state", string(job.StateActive),
				"worker_id", workerID.String(),
				"started_at", now.Format(time.RFC3339Nano),
				"heartbeat_at", now.Format(time.RFC3339Nano),
				"updated_at", now.Format(time.RFC3339Nano),
			).Result()
			if err != nil {
				return nil, fmt.Errorf("relayq/redis: dequeue update: %w", err)
			}

			j, getErr := s.getJobByKey(ctx, key)
			if getErr != nil {
				return nil, getErr
			}
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// promoteDue moves delayed jobs whose RunAt has passed into the ready set.
func (s *Store) promoteDue(ctx context.Context, queue string, now time.Time) error {
	due, err := s.client.ZRangeByScore(ctx, delayedKey(queue), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("relayq/redis: promote due: %w", err)
	}

	for _, jID := range due {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			// Orphaned index entry; drop it.
			s.client.ZRem(ctx, delayedKey(queue), jID)
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, jobKey(jID),
			"state", string(job.StateWaiting),
			"updated_at", now.Format(time.RFC3339Nano),
		)
		pipe.ZRem(ctx, delayedKey(queue), jID)
		pipe.ZAdd(ctx, readyKey(queue), goredis.Z{Score: readyScore(j.Priority, j.CreatedAt), Member: jID})
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return fmt.Errorf("relayq/redis: promote due: %w", pErr)
		}
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// UpdateJob persists changes to an existing job and re-indexes it on the
// queue sets to match its new state.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("relayq/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return relayq.ErrJobNotFound
	}

	fields := jobToMap(j)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.ZRem(ctx, readyKey(j.Queue), jID)
	pipe.ZRem(ctx, delayedKey(j.Queue), jID)
	indexJob(ctx, pipe, j)

	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("relayq/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	// Get queue name before deleting to remove from the queue sets.
	q, err := s.client.HGet(ctx, key, "queue").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return relayq.ErrJobNotFound
		}
		return fmt.Errorf("relayq/redis: delete job get queue: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.ZRem(ctx, readyKey(q), jID)
	pipe.ZRem(ctx, delayedKey(q), jID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("relayq/redis: delete job: %w", err)
	}
	return nil
}

// CancelJob removes a waiting or delayed job. Active jobs cannot be
// preempted.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) error {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.State != job.StateWaiting && j.State != job.StateDelayed {
		return relayq.ErrJobActive
	}
	return s.DeleteJob(ctx, jobID)
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("relayq/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		jobs = append(jobs, j)
	}

	if opts.Offset > 0 && opts.Offset < len(jobs) {
		jobs = jobs[opts.Offset:]
	} else if opts.Offset >= len(jobs) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("relayq/redis: count smembers: %w", err)
	}

	var count int64
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		count++
	}
	return count, nil
}

// HeartbeatJob updates the heartbeat timestamp for an active job owned by
// the given worker.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	key := jobKey(jobID.String())

	owner, err := s.client.HGet(ctx, key, "worker_id").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return relayq.ErrJobNotFound
		}
		return fmt.Errorf("relayq/redis: heartbeat get owner: %w", err)
	}
	if owner != workerID.String() {
		return relayq.ErrJobNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.client.HSet(ctx, key,
		"heartbeat_at", now,
		"updated_at", now,
	).Result()
	if err != nil {
		return fmt.Errorf("relayq/redis: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns active jobs whose last heartbeat (or start) is
// older than the threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("relayq/redis: reap smembers: %w", err)
	}

	var stale []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.State != job.StateActive {
			continue
		}
		last := j.HeartbeatAt
		if last == nil {
			last = j.StartedAt
		}
		if last != nil && last.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// PruneCompleted removes completed jobs whose FinishedAt is older than
// olderThan, keeping the keep most recently finished per queue.
func (s *Store) PruneCompleted(ctx context.Context, olderThan time.Duration, keep int) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("relayq/redis: prune smembers: %w", err)
	}

	byQueue := make(map[string][]*job.Job)
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.State != job.StateCompleted || j.FinishedAt == nil {
			continue
		}
		byQueue[j.Queue] = append(byQueue[j.Queue], j)
	}

	var removed int64
	for _, jobs := range byQueue {
		// Newest finish first; the first keep survive regardless of age.
		for i := 0; i < len(jobs); i++ {
			for k := i + 1; k < len(jobs); k++ {
				if jobs[k].FinishedAt.After(*jobs[i].FinishedAt) {
					jobs[i], jobs[k] = jobs[k], jobs[i]
				}
			}
		}
		for i, j := range jobs {
			if i < keep {
				continue
			}
			if j.FinishedAt.Before(cutoff) {
				if err := s.DeleteJob(ctx, j.ID); err != nil {
					return removed, err
				}
				removed++
			}
		}
	}
	return removed, nil
}

// ── helpers ──

// readyScore computes a ready-set score from priority and enqueue time.
// Lower score = dequeued first. Priority is negated so higher priority
// sorts first; a fractional time component keeps FIFO within a priority
// class stable across retries.
func readyScore(priority int, createdAt time.Time) float64 {
	return float64(-priority) + float64(createdAt.UnixMilli())/1e15
}

// indexJob adds the job to the queue set matching its state. Active and
// terminal jobs are indexed nowhere; the hash is the record of truth.
func indexJob(ctx context.Context, pipe goredis.Pipeliner, j *job.Job) {
	jID := j.ID.String()
	switch j.State {
	case job.StateWaiting:
		pipe.ZAdd(ctx, readyKey(j.Queue), goredis.Z{Score: readyScore(j.Priority, j.CreatedAt), Member: jID})
	case job.StateDelayed:
		pipe.ZAdd(ctx, delayedKey(j.Queue), goredis.Z{Score: float64(j.RunAt.UnixMilli()), Member: jID})
	}
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":              j.ID.String(),
		"name":            j.Name,
		"queue":           j.Queue,
		"payload":         string(j.Payload),
		"state":           string(j.State),
		"priority":        strconv.Itoa(j.Priority),
		"max_attempts":    strconv.Itoa(j.MaxAttempts),
		"attempts":        strconv.Itoa(j.Attempts),
		"backoff_base":    strconv.FormatInt(int64(j.BackoffBase), 10),
		"failure_reason":  j.FailureReason,
		"correlation_id":  j.CorrelationID,
		"idempotency_key": j.IdempotencyKey,
		"worker_id":       j.WorkerID.String(),
		"run_at":          j.RunAt.Format(time.RFC3339Nano),
		"timeout":         strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":      j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":      j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.FinishedAt != nil {
		m["finished_at"] = j.FinishedAt.Format(time.RFC3339Nano)
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = j.HeartbeatAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("relayq/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, relayq.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("relayq/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])             //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	backoffBase, _ := strconv.ParseInt(m["backoff_base"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)          //nolint:errcheck // best-effort parse from trusted Redis data

	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: relayq.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:             jID,
		Name:           m["name"],
		Queue:          m["queue"],
		Payload:        []byte(m["payload"]),
		State:          job.State(m["state"]),
		Priority:       priority,
		MaxAttempts:    maxAttempts,
		Attempts:       attempts,
		BackoffBase:    time.Duration(backoffBase),
		FailureReason:  m["failure_reason"],
		CorrelationID:  m["correlation_id"],
		IdempotencyKey: m["idempotency_key"],
		RunAt:          runAt,
		Timeout:        time.Duration(timeout),
	}

	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["finished_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.FinishedAt = &t
	}
	if v := m["heartbeat_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.HeartbeatAt = &t
	}

	return j, nil
}
