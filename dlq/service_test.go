package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lumenlabs/relayq"
	"github.com/lumenlabs/relayq/dlq"
	"github.com/lumenlabs/relayq/id"
	"github.com/lumenlabs/relayq/job"
	"github.com/lumenlabs/relayq/store/memory"
)

func newFailedJob(name string, payload []byte) *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		Entity:        relayq.NewEntity(),
		ID:            id.NewJobID(),
		Name:          name,
		Queue:         "default",
		Priority:      5,
		Payload:       payload,
		State:         job.StateFailed,
		MaxAttempts:   3,
		Attempts:      3,
		FailureReason: "test error",
		CorrelationID: "corr-123",
		RunAt:         now,
	}
}

func TestService_Push_BuildsRecordFromJob(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	j := newFailedJob("send-email", []byte(`{"to":"alice@example.com"}`))
	jobErr := errors.New("smtp timeout")

	rec, err := svc.Push(ctx, j, jobErr)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	got, err := s.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.JobID != j.ID {
		t.Errorf("JobID = %v, want %v", got.JobID, j.ID)
	}
	if got.JobName != "send-email" {
		t.Errorf("JobName = %q, want %q", got.JobName, "send-email")
	}
	if got.Queue != "default" {
		t.Errorf("Queue = %q, want %q", got.Queue, "default")
	}
	if got.Priority != 5 {
		t.Errorf("Priority = %d, want 5", got.Priority)
	}
	if string(got.Payload) != `{"to":"alice@example.com"}` {
		t.Errorf("Payload = %q", got.Payload)
	}
	if got.FailureReason != "smtp timeout" {
		t.Errorf("FailureReason = %q, want %q", got.FailureReason, "smtp timeout")
	}
	if got.Attempts != 3 || got.MaxAttempts != 3 {
		t.Errorf("Attempts = %d/%d, want 3/3", got.Attempts, got.MaxAttempts)
	}
	if got.CorrelationID != "corr-123" {
		t.Errorf("CorrelationID = %q, want %q", got.CorrelationID, "corr-123")
	}
	if got.FailedAt.IsZero() {
		t.Error("expected FailedAt to be set")
	}
	if got.Replayed() {
		t.Error("fresh record should not be marked replayed")
	}
}

func TestService_Push_CountIncreases(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	for i := range 3 {
		j := newFailedJob("job-"+string(rune('a'+i)), nil)
		if _, err := svc.Push(ctx, j, errors.New("fail")); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}

	count, err := s.CountRecords(ctx)
	if err != nil {
		t.Fatalf("CountRecords: %v", err)
	}
	if count != 3 {
		t.Errorf("CountRecords = %d, want 3", count)
	}
}

func TestService_Replay_CreatesNewWaitingJob(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	original := newFailedJob("replay-me", []byte(`{"key":"value"}`))
	rec, err := svc.Push(ctx, original, errors.New("original error"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	replayed, err := svc.Replay(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if replayed.ID == original.ID {
		t.Error("replayed job should have a new ID")
	}
	if replayed.State != job.StateWaiting {
		t.Errorf("State = %q, want %q", replayed.State, job.StateWaiting)
	}
	if replayed.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", replayed.Attempts)
	}
	if replayed.Priority != 5 {
		t.Errorf("Priority = %d, want 5", replayed.Priority)
	}
	if replayed.CorrelationID != "corr-123" {
		t.Errorf("CorrelationID = %q, want %q", replayed.CorrelationID, "corr-123")
	}
	if string(replayed.Payload) != `{"key":"value"}` {
		t.Errorf("Payload = %q", replayed.Payload)
	}

	got, err := s.GetJob(ctx, replayed.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateWaiting {
		t.Errorf("stored job State = %q, want %q", got.State, job.StateWaiting)
	}
}

func TestService_Replay_StampsRecord(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	j := newFailedJob("replay-mark", nil)
	rec, err := svc.Push(ctx, j, errors.New("fail"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	if _, replayErr := svc.Replay(ctx, rec.ID); replayErr != nil {
		t.Fatalf("Replay: %v", replayErr)
	}

	got, err := s.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if !got.Replayed() {
		t.Error("expected record to be marked replayed")
	}
}

func TestService_Replay_NotFoundReturnsError(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)

	_, err := svc.Replay(context.Background(), id.NewRecordID())
	if !errors.Is(err, relayq.ErrRecordNotFound) {
		t.Fatalf("err = %v, want ErrRecordNotFound", err)
	}
}
