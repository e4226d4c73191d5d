package dlq

import (
	"time"

	"github.com/lumenlabs/relayq/id"
)

// Record is an immutable snapshot of a job that failed terminally and was
// moved to the dead letter queue for inspection or manual replay.
type Record struct {
	ID            id.RecordID `json:"id"`
	JobID         id.JobID    `json:"job_id"`
	JobName       string      `json:"job_name"`
	Queue         string      `json:"queue"`
	Priority      int         `json:"priority"`
	Payload       []byte      `json:"payload"`
	FailureReason string      `json:"failure_reason"`
	Attempts      int         `json:"attempts"`
	MaxAttempts   int         `json:"max_attempts"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	FailedAt      time.Time   `json:"failed_at"`
	ReplayedAt    *time.Time  `json:"replayed_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Replayed reports whether the record has been re-enqueued by an operator.
func (r *Record) Replayed() bool { return r.ReplayedAt != nil }
