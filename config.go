package relayq

import "time"

// Config holds configuration for the Dispatcher.
type Config struct {
	// Concurrency is the maximum number of jobs processed concurrently.
	Concurrency int

	// Queues is the list of queues this dispatcher will poll.
	Queues []string

	// PollInterval is how often to poll for new jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running jobs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long before an active job without a
	// heartbeat is considered abandoned by a crashed worker.
	StaleJobThreshold time.Duration

	// BackoffCap bounds the retry delay computed from a job's backoff base.
	BackoffCap time.Duration

	// CompletedRetention is how long completed jobs are retained before
	// pruning. Zero disables age-based pruning.
	CompletedRetention time.Duration

	// CompletedKeep is the number of most recent completed jobs kept per
	// queue regardless of age. Zero disables count-based pruning.
	CompletedKeep int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		Queues:             []string{"critical", "default", "bulk"},
		PollInterval:       1 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		StaleJobThreshold:  30 * time.Second,
		BackoffCap:         5 * time.Minute,
		CompletedRetention: 24 * time.Hour,
		CompletedKeep:      1000,
	}
}
