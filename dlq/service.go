package dlq

import (
	"context"
	"time"

	"github.com/lumenlabs/relayq/id"
	"github.com/lumenlabs/relayq/job"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a DLQ service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Push builds a Record from a terminally failed job and persists it.
// The failure reason is captured from the final handler error.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) (*Record, error) {
	now := time.Now().UTC()
	rec := &Record{
		ID:            id.NewRecordID(),
		JobID:         j.ID,
		JobName:       j.Name,
		Queue:         j.Queue,
		Priority:      j.Priority,
		Payload:       j.Payload,
		FailureReason: jobErr.Error(),
		Attempts:      j.Attempts,
		MaxAttempts:   j.MaxAttempts,
		CorrelationID: j.CorrelationID,
		FailedAt:      now,
		CreatedAt:     now,
	}
	if err := s.store.PushRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Store returns the underlying DLQ store for direct access to List, Get,
// Purge, and Count operations.
func (s *Service) Store() Store {
	return s.store
}
