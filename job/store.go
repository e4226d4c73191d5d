package job

import (
	"context"
	"time"

	"github.com/lumenlabs/relayq/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for jobs. Every state transition
// it performs must be a single atomic operation against the backing store:
// two worker processes must never both claim the same job, and attempt
// counting must survive arbitrary process-level concurrency.
type Store interface {
	// EnqueueJob persists a new job in waiting (or delayed) state.
	EnqueueJob(ctx context.Context, j *Job) error

	// DequeueJobs atomically claims up to limit eligible jobs from the
	// given queues for workerID, sets them to active, and returns them.
	// The claim records the worker ID and start/heartbeat timestamps so
	// HeartbeatJob and ReapStaleJobs see them even if the claiming
	// process dies immediately after. A job is eligible when it is
	// waiting, or delayed with RunAt in the past. Ordering is priority
	// descending, then original enqueue time ascending (FIFO within a
	// priority class, stable across retries).
	DequeueJobs(ctx context.Context, workerID id.WorkerID, queues []string, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// CancelJob removes a waiting or delayed job before it becomes active.
	// Returns ErrJobActive if the job is already executing; active jobs
	// run to completion and cannot be preempted.
	CancelJob(ctx context.Context, jobID id.JobID) error

	// ListJobsByState returns jobs matching the given state.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// HeartbeatJob updates the heartbeat timestamp for an active job,
	// indicating the worker is still alive.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs returns active jobs whose last heartbeat is older than
	// the given threshold, indicating the worker may have crashed.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)

	// PruneCompleted removes completed jobs older than olderThan, always
	// keeping the keep most recently finished per queue. Returns the
	// number of jobs removed.
	PruneCompleted(ctx context.Context, olderThan time.Duration, keep int) (int64, error)
}
