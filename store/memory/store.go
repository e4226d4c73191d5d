package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lumenlabs/relayq"
	"github.com/lumenlabs/relayq/dlq"
	"github.com/lumenlabs/relayq/id"
	"github.com/lumenlabs/relayq/job"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store = (*Store)(nil)
	_ dlq.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	jobs    map[string]*job.Job
	records map[string]*dlq.Record

	// now is swappable for tests that need deterministic time.
	now func() time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]*job.Job),
		records: make(map[string]*dlq.Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store's time source. Test hook.
func (m *Store) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return relayq.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// eligible reports whether a job can be claimed right now. Waiting jobs
// are always eligible; delayed jobs only once RunAt has passed.
func eligible(j *job.Job, now time.Time) bool {
	switch j.State {
	case job.StateWaiting:
		return true
	case job.StateDelayed:
		return !j.RunAt.After(now)
	default:
		return false
	}
}

// DequeueJobs atomically claims up to limit eligible jobs from the given
// queues for workerID, sets them to active, and returns them.
func (m *Store) DequeueJobs(_ context.Context, workerID id.WorkerID, queues []string, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queueSet := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}

	now := m.now()

	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if !eligible(j, now) {
			continue
		}
		if len(queueSet) > 0 {
			if _, ok := queueSet[j.Queue]; !ok {
				continue
			}
		}
		candidates = append(candidates, j)
	}

	// Sort: priority DESC, then original enqueue time ASC. Retries keep
	// their CreatedAt, so a retried job does not lose its FIFO position.
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		// The claim persists worker ownership so heartbeats validate and
		// the reaper can find the job if this worker crashes.
		started := now
		j.State = job.StateActive
		j.WorkerID = workerID
		j.StartedAt = &started
		j.HeartbeatAt = &started
		j.UpdatedAt = now
		// Return a copy so callers can mutate without racing with the store.
		cp := *j
		result[i] = &cp
	}

	return result, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, relayq.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return relayq.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = m.now()
	m.jobs[key] = &cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return relayq.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// CancelJob removes a waiting or delayed job. Active jobs run to
// completion and cannot be preempted; terminal jobs cannot be cancelled.
func (m *Store) CancelJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	j, ok := m.jobs[key]
	if !ok {
		return relayq.ErrJobNotFound
	}
	if j.State != job.StateWaiting && j.State != job.StateDelayed {
		return relayq.ErrJobActive
	}
	delete(m.jobs, key)
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// HeartbeatJob updates the heartbeat timestamp for an active job.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return relayq.ErrJobNotFound
	}
	if j.State != job.StateActive || j.WorkerID != workerID {
		return relayq.ErrJobNotFound
	}
	now := m.now()
	j.HeartbeatAt = &now
	return nil
}

// ReapStaleJobs returns active jobs whose last heartbeat (or start, if no
// heartbeat was ever recorded) is older than the given threshold.
func (m *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().Add(-threshold)
	var stale []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StateActive {
			continue
		}
		last := j.HeartbeatAt
		if last == nil {
			last = j.StartedAt
		}
		if last != nil && last.Before(cutoff) {
			cp := *j
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}

// PruneCompleted removes completed jobs whose FinishedAt is older than
// olderThan, always keeping the keep most recently finished per queue.
func (m *Store) PruneCompleted(_ context.Context, olderThan time.Duration, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-olderThan)

	// Group completed jobs per queue, newest finish first.
	byQueue := make(map[string][]*job.Job)
	for _, j := range m.jobs {
		if j.State != job.StateCompleted || j.FinishedAt == nil {
			continue
		}
		byQueue[j.Queue] = append(byQueue[j.Queue], j)
	}

	var removed int64
	for _, jobs := range byQueue {
		sort.Slice(jobs, func(i, k int) bool {
			return jobs[i].FinishedAt.After(*jobs[k].FinishedAt)
		})
		for i, j := range jobs {
			if i < keep {
				continue
			}
			if j.FinishedAt.Before(cutoff) {
				delete(m.jobs, j.ID.String())
				removed++
			}
		}
	}
	return removed, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushRecord adds a dead-letter record.
func (m *Store) PushRecord(_ context.Context, rec *dlq.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.records[rec.ID.String()] = &cp
	return nil
}

// ListRecords returns dead-letter records, newest failure first.
func (m *Store) ListRecords(_ context.Context, opts dlq.ListOpts) ([]*dlq.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Record, 0, len(m.records))
	for _, rec := range m.records {
		if opts.Queue != "" && rec.Queue != opts.Queue {
			continue
		}
		cp := *rec
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.After(result[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// GetRecord retrieves a dead-letter record by ID.
func (m *Store) GetRecord(_ context.Context, recordID id.RecordID) (*dlq.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[recordID.String()]
	if !ok {
		return nil, relayq.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

// ReplayRecord stamps ReplayedAt on a record.
func (m *Store) ReplayRecord(_ context.Context, recordID id.RecordID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[recordID.String()]
	if !ok {
		return relayq.ErrRecordNotFound
	}
	now := m.now()
	rec.ReplayedAt = &now
	return nil
}

// PurgeRecords removes records with FailedAt before the given time.
func (m *Store) PurgeRecords(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, rec := range m.records {
		if rec.FailedAt.Before(before) {
			delete(m.records, key)
			removed++
		}
	}
	return removed, nil
}

// CountRecords returns the total number of dead-letter records.
func (m *Store) CountRecords(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.records)), nil
}
