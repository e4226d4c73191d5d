package job

import (
	"time"

	"github.com/lumenlabs/relayq"
	"github.com/lumenlabs/relayq/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is eligible and waiting for a worker.
	StateWaiting State = "waiting"
	// StateActive means a worker is currently executing the job.
	StateActive State = "active"
	// StateDelayed means the job is parked until RunAt: either an initial
	// enqueue delay or a retry backoff. It becomes waiting once the delay
	// elapses.
	StateDelayed State = "delayed"
	// StateCompleted means the job finished successfully. Completed jobs
	// are retained for a bounded window and then pruned.
	StateCompleted State = "completed"
	// StateFailed means the job exhausted its attempt budget. Terminal;
	// the dead-letter record is the durable artifact of the failure.
	StateFailed State = "failed"
)

// Job represents a unit of work to be processed by a worker.
type Job struct {
	relayq.Entity

	ID             id.JobID      `json:"id"`
	Name           string        `json:"name"`
	Queue          string        `json:"queue"`
	Payload        []byte        `json:"payload"`
	State          State         `json:"state"`
	Priority       int           `json:"priority"`
	MaxAttempts    int           `json:"max_attempts"`
	Attempts       int           `json:"attempts"`
	BackoffBase    time.Duration `json:"backoff_base,omitempty"`
	FailureReason  string        `json:"failure_reason,omitempty"`
	CorrelationID  string        `json:"correlation_id,omitempty"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	WorkerID       id.WorkerID   `json:"worker_id,omitempty"`
	RunAt          time.Time     `json:"run_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty"`
	HeartbeatAt    *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
}

// Terminal reports whether the job is in a terminal state.
func (j *Job) Terminal() bool {
	return j.State == StateCompleted || j.State == StateFailed
}

// AttemptsLeft returns the number of attempts remaining before the job is
// dead-lettered.
func (j *Job) AttemptsLeft() int {
	left := j.MaxAttempts - j.Attempts
	if left < 0 {
		return 0
	}
	return left
}

// Status is the producer-facing view of a job returned by status queries.
type Status struct {
	ID            id.JobID   `json:"id"`
	State         State      `json:"state"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	EnqueuedAt    time.Time  `json:"enqueued_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// StatusOf builds the producer-facing status view of a job.
func StatusOf(j *Job) Status {
	return Status{
		ID:            j.ID,
		State:         j.State,
		Attempts:      j.Attempts,
		MaxAttempts:   j.MaxAttempts,
		FailureReason: j.FailureReason,
		CorrelationID: j.CorrelationID,
		EnqueuedAt:    j.CreatedAt,
		StartedAt:     j.StartedAt,
		FinishedAt:    j.FinishedAt,
	}
}
