package redis

// Redis key naming conventions for relayq data.
// All keys are prefixed with "relayq:" to avoid collisions.

const keyPrefix = "relayq:"

// ── Job keys ──

// jobKey returns the key for a job entity: relayq:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// readyKey returns the Sorted Set of dequeue-eligible jobs for a queue:
// relayq:queue:{name}:ready. Score encodes priority DESC then enqueue
// time ASC, so ZPopMin yields the next job to run.
func readyKey(queue string) string { return keyPrefix + "queue:" + queue + ":ready" }

// delayedKey returns the Sorted Set of parked jobs for a queue:
// relayq:queue:{name}:delayed. Score is the RunAt unix millisecond; due
// members are promoted into the ready set before each dequeue.
func delayedKey(queue string) string { return keyPrefix + "queue:" + queue + ":delayed" }

// ── DLQ keys ──

// recordKey returns the key for a dead-letter record: relayq:dlr:{id}
func recordKey(id string) string { return keyPrefix + "dlr:" + id }

// recordsByFailedKey is the Sorted Set indexing records by FailedAt
// (unix millisecond score) for newest-first listing and purging.
const recordsByFailedKey = keyPrefix + "dlr_by_failed"
