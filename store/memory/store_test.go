package memory_test

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

func newJob(queue string, priority int) *job.Job {
	return &job.Job{
		Entity:      relayq.NewEntity(),
		ID:          id.NewJobID(),
		Name:        "test-job",
		Queue:       queue,
		State:       job.StateWaiting,
		Priority:    priority,
		MaxAttempts: 3,
		RunAt:       time.Now().UTC(),
	}
}

func TestStore_EnqueueGet(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newJob("default", 5)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got.ID != j.ID || got.Queue != "default" || got.State != job.StateWaiting {
		t.Errorf("got %+v, want enqueued job", got)
	}

	// Double enqueue of the same ID is rejected.
	if err := s.EnqueueJob(ctx, j); !errors.Is(err, relayq.ErrJobAlreadyExists) {
		t.Errorf("expected ErrJobAlreadyExists, got %v", err)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := memory.New()

	_, err := s.GetJob(context.Background(), id.NewJobID())
	if !errors.Is(err, relayq.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestStore_DequeuePriorityThenFIFO(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	base := time.Now().UTC()

	bulk := newJob("default", 1)
	bulk.CreatedAt = base
	defaultOld := newJob("default", 5)
	defaultOld.CreatedAt = base.Add(time.Millisecond)
	defaultNew := newJob("default", 5)
	defaultNew.CreatedAt = base.Add(2 * time.Millisecond)
	critical := newJob("default", 10)
	critical.CreatedAt = base.Add(3 * time.Millisecond)

	for _, j := range []*job.Job{bulk, defaultNew, defaultOld, critical} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}

	jobs, err := s.DequeueJobs(ctx, id.NewWorkerID(), []string{"default"}, 10)
	if err != nil {
		t.Fatalf("dequeue error: %v", err)
	}
	if len(jobs) != 4 {
		t.Fatalf("dequeued %d jobs, want 4", len(jobs))
	}

	wantOrder := []id.JobID{critical.ID, defaultOld.ID, defaultNew.ID, bulk.ID}
	for i, want := range wantOrder {
		if jobs[i].ID != want {
			t.Errorf("position %d: got job %s, want %s", i, jobs[i].ID, want)
		}
	}
	for _, j := range jobs {
		if j.State != job.StateActive {
			t.Errorf("dequeued job state = %q, want active", j.State)
		}
	}
}

func TestStore_DequeueSkipsFutureDelayed(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	ready := newJob("default", 5)
	ready.State = job.StateDelayed
	ready.RunAt = time.Now().UTC().Add(-time.Second)

	parked := newJob("default", 10)
	parked.State = job.StateDelayed
	parked.RunAt = time.Now().UTC().Add(time.Hour)

	for _, j := range []*job.Job{ready, parked} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}

	jobs, err := s.DequeueJobs(ctx, id.NewWorkerID(), []string{"default"}, 10)
	if err != nil {
		t.Fatalf("dequeue error: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != ready.ID {
		t.Fatalf("expected only the elapsed delayed job, got %d jobs", len(jobs))
	}
}

func TestStore_DequeueFiltersQueues(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	emails := newJob("emails", 5)
	reports := newJob("reports", 10)

	for _, j := range []*job.Job{emails, reports} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}

	jobs, err := s.DequeueJobs(ctx, id.NewWorkerID(), []string{"emails"}, 10)
	if err != nil {
		t.Fatalf("dequeue error: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != emails.ID {
		t.Fatalf("expected only the emails job, got %d jobs", len(jobs))
	}
}

func TestStore_CancelJob(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	waiting := newJob("default", 5)
	if err := s.EnqueueJob(ctx, waiting); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	if err := s.CancelJob(ctx, waiting.ID); err != nil {
		t.Fatalf("cancel waiting job: %v", err)
	}
	if _, err := s.GetJob(ctx, waiting.ID); !errors.Is(err, relayq.ErrJobNotFound) {
		t.Errorf("cancelled job still present: %v", err)
	}

	active := newJob("default", 5)
	if err := s.EnqueueJob(ctx, active); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	if _, err := s.DequeueJobs(ctx, id.NewWorkerID(), []string{"default"}, 1); err != nil {
		t.Fatalf("dequeue error: %v", err)
	}
	if err := s.CancelJob(ctx, active.ID); !errors.Is(err, relayq.ErrJobActive) {
		t.Errorf("expected ErrJobActive, got %v", err)
	}
}

func TestStore_CountJobs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	for range 3 {
		if err := s.EnqueueJob(ctx, newJob("emails", 5)); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}
	if err := s.EnqueueJob(ctx, newJob("reports", 5)); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	count, err := s.CountJobs(ctx, job.CountOpts{Queue: "emails"})
	if err != nil {
		t.Fatalf("count error: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	count, err = s.CountJobs(ctx, job.CountOpts{State: job.StateWaiting})
	if err != nil {
		t.Fatalf("count error: %v", err)
	}
	if count != 4 {
		t.Errorf("count = %d, want 4", count)
	}
}

func TestStore_DequeuePersistsClaim(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newJob("default", 5)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	workerID := id.NewWorkerID()
	if _, err := s.DequeueJobs(ctx, workerID, []string{"default"}, 1); err != nil {
		t.Fatalf("dequeue error: %v", err)
	}

	// The stored job, not just the returned copy, must carry the claim so
	// heartbeats validate and the reaper can see the job if the claiming
	// worker dies without another write.
	stored, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if stored.WorkerID != workerID {
		t.Errorf("stored worker id = %q, want %q", stored.WorkerID, workerID)
	}
	if stored.StartedAt == nil || stored.HeartbeatAt == nil {
		t.Fatalf("claim timestamps not persisted: started=%v heartbeat=%v",
			stored.StartedAt, stored.HeartbeatAt)
	}

	if err := s.HeartbeatJob(ctx, j.ID, workerID); err != nil {
		t.Errorf("heartbeat after claim: %v", err)
	}
}

func TestStore_HeartbeatAndReap(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	start := time.Now().UTC()
	clock := start
	s.SetClock(func() time.Time { return clock })

	j := newJob("default", 5)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	workerID := id.NewWorkerID()
	jobs, err := s.DequeueJobs(ctx, workerID, []string{"default"}, 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("dequeue error: %v (%d jobs)", err, len(jobs))
	}

	// With no further heartbeats the claim goes stale as time passes.
	clock = start.Add(time.Hour)
	stale, err := s.ReapStaleJobs(ctx, time.Minute)
	if err != nil {
		t.Fatalf("reap error: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != j.ID {
		t.Fatalf("expected 1 stale job, got %d", len(stale))
	}

	// A fresh heartbeat removes the job from the stale set.
	if err := s.HeartbeatJob(ctx, j.ID, workerID); err != nil {
		t.Fatalf("heartbeat error: %v", err)
	}
	stale, err = s.ReapStaleJobs(ctx, time.Minute)
	if err != nil {
		t.Fatalf("reap error: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("expected no stale jobs after heartbeat, got %d", len(stale))
	}

	// A heartbeat from the wrong worker is rejected.
	if err := s.HeartbeatJob(ctx, j.ID, id.NewWorkerID()); !errors.Is(err, relayq.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound for foreign worker, got %v", err)
	}
}

func TestStore_FIFOHoldsAcrossRetry(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	base := time.Now().UTC()

	first := newJob("default", 5)
	first.CreatedAt = base
	second := newJob("default", 5)
	second.CreatedAt = base.Add(time.Millisecond)

	for _, j := range []*job.Job{first, second} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}

	workerID := id.NewWorkerID()
	jobs, err := s.DequeueJobs(ctx, workerID, []string{"default"}, 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("dequeue error: %v (%d jobs)", err, len(jobs))
	}
	if jobs[0].ID != first.ID {
		t.Fatalf("first dequeue got %s, want %s", jobs[0].ID, first.ID)
	}

	// Fail the first job and schedule its retry with an elapsed backoff.
	retried := jobs[0]
	retried.State = job.StateDelayed
	retried.Attempts = 1
	retried.RunAt = base.Add(-time.Second)
	retried.WorkerID = id.Nil
	retried.StartedAt = nil
	retried.HeartbeatAt = nil
	if err := s.UpdateJob(ctx, retried); err != nil {
		t.Fatalf("update error: %v", err)
	}

	// The retried job keeps its original enqueue position: it comes out
	// ahead of the never-run second job, not behind it.
	jobs, err = s.DequeueJobs(ctx, workerID, []string{"default"}, 2)
	if err != nil {
		t.Fatalf("dequeue error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("dequeued %d jobs, want 2", len(jobs))
	}
	if jobs[0].ID != first.ID || jobs[1].ID != second.ID {
		t.Errorf("order after retry = [%s %s], want [%s %s]",
			jobs[0].ID, jobs[1].ID, first.ID, second.ID)
	}
	if jobs[0].Attempts != 1 {
		t.Errorf("retried job attempts = %d, want 1", jobs[0].Attempts)
	}
}

func TestStore_PruneCompleted(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	finish := func(j *job.Job, at time.Time) {
		j.State = job.StateCompleted
		j.FinishedAt = &at
		if err := s.UpdateJob(ctx, j); err != nil {
			t.Fatalf("update error: %v", err)
		}
	}

	old1 := newJob("default", 5)
	old2 := newJob("default", 5)
	recent := newJob("default", 5)
	for _, j := range []*job.Job{old1, old2, recent} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}

	now := time.Now().UTC()
	finish(old1, now.Add(-48*time.Hour))
	finish(old2, now.Add(-24*time.Hour))
	finish(recent, now)

	// Keep the single most recent; only jobs older than 1h are eligible.
	removed, err := s.PruneCompleted(ctx, time.Hour, 1)
	if err != nil {
		t.Fatalf("prune error: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if _, err := s.GetJob(ctx, recent.ID); err != nil {
		t.Errorf("most recent completed job was pruned: %v", err)
	}
}

func TestStore_DLQRoundTrip(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []*dlq.Record{
		{ID: id.NewRecordID(), JobID: id.NewJobID(), Queue: "emails", FailureReason: "boom", FailedAt: now.Add(-2 * time.Hour), CreatedAt: now},
		{ID: id.NewRecordID(), JobID: id.NewJobID(), Queue: "emails", FailureReason: "bang", FailedAt: now.Add(-time.Hour), CreatedAt: now},
		{ID: id.NewRecordID(), JobID: id.NewJobID(), Queue: "reports", FailureReason: "crash", FailedAt: now, CreatedAt: now},
	}
	for _, rec := range recs {
		if err := s.PushRecord(ctx, rec); err != nil {
			t.Fatalf("push error: %v", err)
		}
	}

	count, err := s.CountRecords(ctx)
	if err != nil || count != 3 {
		t.Fatalf("count = %d (err %v), want 3", count, err)
	}

	// Newest failure first, queue filter applies.
	listed, err := s.ListRecords(ctx, dlq.ListOpts{Queue: "emails"})
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != recs[1].ID {
		t.Fatalf("list order wrong: got %d records", len(listed))
	}

	if err := s.ReplayRecord(ctx, recs[0].ID); err != nil {
		t.Fatalf("replay error: %v", err)
	}
	got, err := s.GetRecord(ctx, recs[0].ID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if !got.Replayed() {
		t.Error("expected ReplayedAt to be stamped")
	}

	// Purge everything that failed more than 90 minutes ago.
	purged, err := s.PurgeRecords(ctx, now.Add(-90*time.Minute))
	if err != nil {
		t.Fatalf("purge error: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	if _, err := s.GetRecord(ctx, id.NewRecordID()); !errors.Is(err, relayq.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}
