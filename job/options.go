package job

import "time"

// Options configures per-job behavior such as retries, queue, and priority.
type Options struct {
	// MaxAttempts is the total number of execution attempts before the job
	// is dead-lettered.
	MaxAttempts int

	// Queue is the queue name this job should be enqueued to.
	Queue string

	// Priority determines dequeue ordering. Higher values are processed
	// first. Zero means "derive from the queue" (critical=10, default=5,
	// bulk=1).
	Priority int

	// Delay parks the job in delayed state for this long after enqueue
	// before it becomes eligible for dequeue.
	Delay time.Duration

	// BackoffBase seeds the exponential retry delay:
	// min(BackoffBase * 2^(attempts-1), cap). Zero uses the engine's
	// default strategy.
	BackoffBase time.Duration

	// Timeout is the maximum duration a job may run before being cancelled.
	Timeout time.Duration

	// CorrelationID threads an inbound event's identifier through the
	// job's whole asynchronous lifecycle.
	CorrelationID string

	// IdempotencyKey collapses replayed enqueues onto a single job. Empty
	// disables idempotent enqueue.
	IdempotencyKey string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Queue:       "default",
		Timeout:     5 * time.Minute,
	}
}

// Option is a functional option for configuring a job definition.
type Option func(*Options)

// WithMaxAttempts sets the total attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithQueue sets the queue name for the job.
func WithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithPriority overrides the queue-derived priority. Higher values are
// processed first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithDelay schedules the job to become eligible only after d has elapsed.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.Delay = d
	}
}

// WithBackoffBase sets the base of the per-job exponential retry delay.
func WithBackoffBase(d time.Duration) Option {
	return func(o *Options) {
		o.BackoffBase = d
	}
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithCorrelationID threads the given correlation identifier through the
// job's lifecycle.
func WithCorrelationID(cid string) Option {
	return func(o *Options) {
		o.CorrelationID = cid
	}
}

// WithIdempotencyKey makes the enqueue idempotent: concurrent or replayed
// enqueues with the same key produce a single job. Keys are derived by
// producers from a stable external identifier plus an operation
// discriminator, e.g. "order-123:sendConfirmation".
func WithIdempotencyKey(key string) Option {
	return func(o *Options) {
		o.IdempotencyKey = key
	}
}
