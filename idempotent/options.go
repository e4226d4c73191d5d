package idempotent

import (
	"log/slog"
	"time"

	"github.com/lumenlabs/relayq/backoff"
)

// Defaults for the Coordinator.
const (
	// DefaultLockTTL bounds how long a crashed holder blocks a key.
	DefaultLockTTL = 5 * time.Minute

	// DefaultResultTTL is the replay window for cached results.
	DefaultResultTTL = time.Hour

	// DefaultWaitTimeout is the total time a waiter polls for a result
	// before giving up with ErrContentionTimeout.
	DefaultWaitTimeout = 30 * time.Second

	// Waiter poll backoff: geometric, 100ms, 150ms, 225ms, ... capped at 2s.
	DefaultPollInitial = 100 * time.Millisecond
	DefaultPollFactor  = 1.5
	DefaultPollMax     = 2 * time.Second
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithHooks sets the lifecycle hook emitter.
func WithHooks(h Hooks) Option {
	return func(c *Coordinator) { c.hooks = h }
}

// WithLockTTL sets the lock lease duration. Size it above the worst-case
// executor run time, or enable renewal for unbounded executors.
func WithLockTTL(ttl time.Duration) Option {
	return func(c *Coordinator) { c.lockTTL = ttl }
}

// WithResultTTL sets how long completed results replay.
func WithResultTTL(ttl time.Duration) Option {
	return func(c *Coordinator) { c.resultTTL = ttl }
}

// WithWaitTimeout sets the total time a waiter polls for a concurrent
// execution's result.
func WithWaitTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.waitTimeout = d }
}

// WithPollBackoff overrides the waiter's poll schedule.
func WithPollBackoff(initial time.Duration, factor float64, maxDelay time.Duration) Option {
	return func(c *Coordinator) {
		c.poll = backoff.NewGeometric(initial, factor, maxDelay)
	}
}

// WithLockRenewal enables a background heartbeat that extends the lock
// lease while the executor runs. interval <= 0 defaults to lockTTL/3.
// Without renewal, an executor that outlives the lock TTL loses mutual
// exclusion.
func WithLockRenewal(interval time.Duration) Option {
	return func(c *Coordinator) {
		c.renewLock = true
		c.renewInterval = interval
	}
}
