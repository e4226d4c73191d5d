package dlq

import (
	"context"
	"time"

	"github.com/lumenlabs/relayq"
	"github.com/lumenlabs/relayq/id"
	"github.com/lumenlabs/relayq/job"
)

// Replay re-enqueues a dead-letter record as a new waiting job and stamps
// the record as replayed. The new job gets a fresh ID, a zero attempt
// count, and the original queue, priority, and correlation ID. It runs at
// the next dequeue.
func (s *Service) Replay(ctx context.Context, recordID id.RecordID) (*job.Job, error) {
	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:        relayq.NewEntity(),
		ID:            id.NewJobID(),
		Name:          rec.JobName,
		Queue:         rec.Queue,
		Priority:      rec.Priority,
		Payload:       rec.Payload,
		State:         job.StateWaiting,
		MaxAttempts:   rec.MaxAttempts,
		CorrelationID: rec.CorrelationID,
		RunAt:         now,
	}

	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.ReplayRecord(ctx, recordID); err != nil {
		// The job is already enqueued. Surface the stamp failure but keep
		// the job.
		return j, err
	}

	return j, nil
}
