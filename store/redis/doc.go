// Package redis implements store.Store using Redis for high-throughput
// ephemeral workloads. Jobs are stored as Hashes; each queue keeps a
// ready Sorted Set (score = priority and enqueue time) and a delayed
// Sorted Set (score = RunAt) so ZPopMin always yields the next eligible
// job. Dead-letter records are Hashes indexed by a FailedAt Sorted Set.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
