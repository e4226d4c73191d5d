package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/lumenlabs/relayq"
	"github.com/lumenlabs/relayq/backoff"
	"github.com/lumenlabs/relayq/dlq"
	"github.com/lumenlabs/relayq/ext"
	"github.com/lumenlabs/relayq/id"
	"github.com/lumenlabs/relayq/job"
	"github.com/lumenlabs/relayq/store/memory"
	"github.com/lumenlabs/relayq/worker"
)

func setupExecutor(t *testing.T) (*worker.Executor, *memory.Store, *job.Registry) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)
	dlqSvc := dlq.NewService(s, s)
	bo := backoff.NewExponential(100*time.Millisecond, 5*time.Minute)

	e := worker.NewExecutor(reg, extensions, s, dlqSvc, bo, 5*time.Minute, logger)
	return e, s, reg
}

func enqueueActive(t *testing.T, s *memory.Store, j *job.Job) {
	t.Helper()
	now := time.Now().UTC()
	j.Entity = relayq.NewEntity()
	if j.ID.IsNil() {
		j.ID = id.NewJobID()
	}
	if j.Queue == "" {
		j.Queue = "default"
	}
	if j.RunAt.IsZero() {
		j.RunAt = now
	}
	j.State = job.StateWaiting
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// The executor always receives claimed jobs.
	j.State = job.StateActive
}

func TestExecutor_Success(t *testing.T) {
	e, s, reg := setupExecutor(t)
	ctx := context.Background()

	reg.RegisterFunc("noop", func(_ context.Context, _ []byte) error { return nil })

	j := &job.Job{Name: "noop", MaxAttempts: 3}
	enqueueActive(t, s, j)

	if err := e.Execute(ctx, j); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateCompleted {
		t.Errorf("State = %q, want completed", got.State)
	}
	if got.FinishedAt == nil {
		t.Error("expected FinishedAt to be set")
	}
	if got.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0 on success", got.Attempts)
	}
}

func TestExecutor_TransientFailureSchedulesRetry(t *testing.T) {
	e, s, reg := setupExecutor(t)
	ctx := context.Background()

	reg.RegisterFunc("flaky", func(_ context.Context, _ []byte) error {
		return errors.New("connection reset")
	})

	j := &job.Job{Name: "flaky", MaxAttempts: 3}
	enqueueActive(t, s, j)

	before := time.Now().UTC()
	if err := e.Execute(ctx, j); err == nil {
		t.Fatal("expected error from failed execution")
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateDelayed {
		t.Errorf("State = %q, want delayed", got.State)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
	if got.FailureReason != "connection reset" {
		t.Errorf("FailureReason = %q", got.FailureReason)
	}
	// delay(1) = 100ms with the configured strategy.
	wantRunAt := before.Add(100 * time.Millisecond)
	if got.RunAt.Before(wantRunAt) || got.RunAt.After(wantRunAt.Add(time.Second)) {
		t.Errorf("RunAt = %v, want about %v", got.RunAt, wantRunAt)
	}
}

func TestExecutor_ExhaustedBudgetDeadLetters(t *testing.T) {
	e, s, reg := setupExecutor(t)
	ctx := context.Background()

	reg.RegisterFunc("doomed", func(_ context.Context, _ []byte) error {
		return errors.New("still broken")
	})

	j := &job.Job{Name: "doomed", MaxAttempts: 2, Attempts: 1, CorrelationID: "corr-d"}
	enqueueActive(t, s, j)

	execErr := e.Execute(ctx, j)
	if execErr == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(execErr, relayq.ErrMaxAttemptsReached) {
		t.Errorf("Execute error = %v, want ErrMaxAttemptsReached", execErr)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateFailed {
		t.Errorf("State = %q, want failed", got.State)
	}
	if got.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", got.Attempts)
	}

	recs, err := s.ListRecords(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("dead-letter records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.JobID != j.ID {
		t.Errorf("record JobID = %v", rec.JobID)
	}
	if rec.FailureReason != "still broken" {
		t.Errorf("record FailureReason = %q", rec.FailureReason)
	}
	if rec.CorrelationID != "corr-d" {
		t.Errorf("record CorrelationID = %q", rec.CorrelationID)
	}
	if rec.Attempts != 2 {
		t.Errorf("record Attempts = %d, want 2", rec.Attempts)
	}
}

func TestExecutor_PermanentFailureShortCircuits(t *testing.T) {
	e, s, reg := setupExecutor(t)
	ctx := context.Background()

	reg.RegisterFunc("invalid", func(_ context.Context, _ []byte) error {
		return relayq.Permanent(errors.New("payload failed validation"))
	})

	j := &job.Job{Name: "invalid", MaxAttempts: 5}
	enqueueActive(t, s, j)

	if err := e.Execute(ctx, j); err == nil {
		t.Fatal("expected error")
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateFailed {
		t.Errorf("State = %q, want failed on first attempt", got.State)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (budget skipped)", got.Attempts)
	}

	count, err := s.CountRecords(ctx)
	if err != nil {
		t.Fatalf("CountRecords: %v", err)
	}
	if count != 1 {
		t.Errorf("dead-letter records = %d, want 1", count)
	}
}

func TestExecutor_UnregisteredHandlerDeadLetters(t *testing.T) {
	e, s, _ := setupExecutor(t)
	ctx := context.Background()

	j := &job.Job{Name: "ghost", MaxAttempts: 3}
	enqueueActive(t, s, j)

	if err := e.Execute(ctx, j); err == nil {
		t.Fatal("expected error")
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateFailed {
		t.Errorf("State = %q, want failed", got.State)
	}
}

func TestExecutor_PerJobBackoffBase(t *testing.T) {
	e, s, reg := setupExecutor(t)
	ctx := context.Background()

	reg.RegisterFunc("custom-backoff", func(_ context.Context, _ []byte) error {
		return errors.New("try later")
	})

	// Second failure: delay = base * 2^(2-1) = 2s.
	j := &job.Job{Name: "custom-backoff", MaxAttempts: 5, Attempts: 1, BackoffBase: time.Second}
	enqueueActive(t, s, j)

	before := time.Now().UTC()
	_ = e.Execute(ctx, j)

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	wantRunAt := before.Add(2 * time.Second)
	if got.RunAt.Before(wantRunAt) || got.RunAt.After(wantRunAt.Add(time.Second)) {
		t.Errorf("RunAt = %v, want about %v", got.RunAt, wantRunAt)
	}
}

func TestExecutor_FailRoutesReapedJob(t *testing.T) {
	e, s, reg := setupExecutor(t)
	ctx := context.Background()

	reg.RegisterFunc("reaped", func(_ context.Context, _ []byte) error { return nil })

	j := &job.Job{Name: "reaped", MaxAttempts: 3}
	enqueueActive(t, s, j)

	cause := errors.New("worker heartbeat expired")
	if err := e.Fail(ctx, j, cause); err == nil {
		t.Fatal("expected error from Fail")
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateDelayed {
		t.Errorf("State = %q, want delayed (attempts remaining)", got.State)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
	if got.FailureReason != "worker heartbeat expired" {
		t.Errorf("FailureReason = %q", got.FailureReason)
	}
}
