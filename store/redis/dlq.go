package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lumenlabs/relayq"
	"github.com/lumenlabs/relayq/dlq"
	"github.com/lumenlabs/relayq/id"
)

// PushRecord adds a dead-letter record.
func (s *Store) PushRecord(ctx context.Context, rec *dlq.Record) error {
	rID := rec.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, recordKey(rID), recordToMap(rec))
	pipe.ZAdd(ctx, recordsByFailedKey, goredis.Z{
		Score:  float64(rec.FailedAt.UnixMilli()),
		Member: rID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("relayq/redis: push record: %w", err)
	}
	return nil
}

// ListRecords returns dead-letter records, newest failure first.
func (s *Store) ListRecords(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Record, error) {
	ids, err := s.client.ZRevRange(ctx, recordsByFailedKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("relayq/redis: list records: %w", err)
	}

	records := make([]*dlq.Record, 0, len(ids))
	for _, rID := range ids {
		vals, getErr := s.client.HGetAll(ctx, recordKey(rID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		rec, convErr := mapToRecord(vals)
		if convErr != nil {
			continue
		}
		if opts.Queue != "" && rec.Queue != opts.Queue {
			continue
		}
		records = append(records, rec)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(records) {
			return nil, nil
		}
		records = records[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(records) {
		records = records[:opts.Limit]
	}
	return records, nil
}

// GetRecord retrieves a dead-letter record by ID.
func (s *Store) GetRecord(ctx context.Context, recordID id.RecordID) (*dlq.Record, error) {
	vals, err := s.client.HGetAll(ctx, recordKey(recordID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("relayq/redis: get record: %w", err)
	}
	if len(vals) == 0 {
		return nil, relayq.ErrRecordNotFound
	}
	return mapToRecord(vals)
}

// ReplayRecord stamps ReplayedAt on a record.
func (s *Store) ReplayRecord(ctx context.Context, recordID id.RecordID) error {
	key := recordKey(recordID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("relayq/redis: replay record exists: %w", err)
	}
	if exists == 0 {
		return relayq.ErrRecordNotFound
	}

	_, err = s.client.HSet(ctx, key,
		"replayed_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return fmt.Errorf("relayq/redis: replay record: %w", err)
	}
	return nil
}

// PurgeRecords removes records with FailedAt before the given time.
func (s *Store) PurgeRecords(ctx context.Context, before time.Time) (int64, error) {
	cutoff := strconv.FormatInt(before.UnixMilli()-1, 10)
	ids, err := s.client.ZRangeByScore(ctx, recordsByFailedKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("relayq/redis: purge records: %w", err)
	}

	var purged int64
	for _, rID := range ids {
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, recordKey(rID))
		pipe.ZRem(ctx, recordsByFailedKey, rID)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return purged, fmt.Errorf("relayq/redis: purge records del: %w", pErr)
		}
		purged++
	}
	return purged, nil
}

// CountRecords returns the total number of dead-letter records.
func (s *Store) CountRecords(ctx context.Context) (int64, error) {
	count, err := s.client.ZCard(ctx, recordsByFailedKey).Result()
	if err != nil {
		return 0, fmt.Errorf("relayq/redis: count records: %w", err)
	}
	return count, nil
}

// ── helpers ──

func recordToMap(rec *dlq.Record) map[string]interface{} {
	m := map[string]interface{}{
		"id":             rec.ID.String(),
		"job_id":         rec.JobID.String(),
		"job_name":       rec.JobName,
		"queue":          rec.Queue,
		"priority":       strconv.Itoa(rec.Priority),
		"payload":        string(rec.Payload),
		"failure_reason": rec.FailureReason,
		"attempts":       strconv.Itoa(rec.Attempts),
		"max_attempts":   strconv.Itoa(rec.MaxAttempts),
		"correlation_id": rec.CorrelationID,
		"failed_at":      rec.FailedAt.Format(time.RFC3339Nano),
		"created_at":     rec.CreatedAt.Format(time.RFC3339Nano),
	}
	if rec.ReplayedAt != nil {
		m["replayed_at"] = rec.ReplayedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToRecord(m map[string]string) (*dlq.Record, error) {
	rID, err := id.ParseRecordID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("relayq/redis: parse record id: %w", err)
	}
	jobID, _ := id.ParseJobID(m["job_id"])                        //nolint:errcheck // best-effort parse from trusted Redis data
	priority, _ := strconv.Atoi(m["priority"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])             //nolint:errcheck // best-effort parse from trusted Redis data
	failedAt, _ := time.Parse(time.RFC3339Nano, m["failed_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	rec := &dlq.Record{
		ID:            rID,
		JobID:         jobID,
		JobName:       m["job_name"],
		Queue:         m["queue"],
		Priority:      priority,
		Payload:       []byte(m["payload"]),
		FailureReason: m["failure_reason"],
		Attempts:      attempts,
		MaxAttempts:   maxAttempts,
		CorrelationID: m["correlation_id"],
		FailedAt:      failedAt,
		CreatedAt:     createdAt,
	}

	if v := m["replayed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		rec.ReplayedAt = &t
	}
	return rec, nil
}
