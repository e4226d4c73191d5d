package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lumenlabs/relayq"
	"github.com/lumenlabs/relayq/dlq"
	"github.com/lumenlabs/relayq/id"
)

const recordColumns = `
	id, job_id, job_name, queue, priority, payload, failure_reason,
	attempts, max_attempts, correlation_id, failed_at, replayed_at, created_at`

// PushRecord adds a dead-letter record.
func (s *Store) PushRecord(ctx context.Context, rec *dlq.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relayq_dead_letters (
			id, job_id, job_name, queue, priority, payload, failure_reason,
			attempts, max_attempts, correlation_id, failed_at, replayed_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13
		)`,
		rec.ID.String(), rec.JobID.String(), rec.JobName, rec.Queue,
		rec.Priority, rec.Payload, rec.FailureReason,
		rec.Attempts, rec.MaxAttempts, rec.CorrelationID,
		rec.FailedAt, rec.ReplayedAt, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("relayq/postgres: push record: %w", err)
	}
	return nil
}

// ListRecords returns dead-letter records, newest failure first.
func (s *Store) ListRecords(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM relayq_dead_letters WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY failed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("relayq/postgres: list records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// GetRecord retrieves a dead-letter record by ID.
func (s *Store) GetRecord(ctx context.Context, recordID id.RecordID) (*dlq.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM relayq_dead_letters WHERE id = $1`,
		recordID.String(),
	)

	rec, err := scanRecord(row)
	if err != nil {
		if isNoRows(err) {
			return nil, relayq.ErrRecordNotFound
		}
		return nil, fmt.Errorf("relayq/postgres: get record: %w", err)
	}
	return rec, nil
}

// ReplayRecord stamps replayed_at on a record.
func (s *Store) ReplayRecord(ctx context.Context, recordID id.RecordID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE relayq_dead_letters SET replayed_at = NOW() WHERE id = $1`,
		recordID.String(),
	)
	if err != nil {
		return fmt.Errorf("relayq/postgres: replay record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return relayq.ErrRecordNotFound
	}
	return nil
}

// PurgeRecords removes records with failed_at before the given time.
func (s *Store) PurgeRecords(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM relayq_dead_letters WHERE failed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("relayq/postgres: purge records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountRecords returns the total number of dead-letter records.
func (s *Store) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM relayq_dead_letters`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("relayq/postgres: count records: %w", err)
	}
	return count, nil
}

// scanRecord scans a single dead-letter record row.
func scanRecord(row pgx.Row) (*dlq.Record, error) {
	var (
		rec      dlq.Record
		idStr    string
		jobIDStr string
	)
	err := row.Scan(
		&idStr, &jobIDStr, &rec.JobName, &rec.Queue, &rec.Priority,
		&rec.Payload, &rec.FailureReason,
		&rec.Attempts, &rec.MaxAttempts, &rec.CorrelationID,
		&rec.FailedAt, &rec.ReplayedAt, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseRecordID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("relayq/postgres: parse record id %q: %w", idStr, parseErr)
	}
	rec.ID = parsedID

	if jobIDStr != "" {
		parsedJobID, jobErr := id.ParseJobID(jobIDStr)
		if jobErr == nil {
			rec.JobID = parsedJobID
		}
	}

	return &rec, nil
}

// collectRecords collects all records from query rows.
func collectRecords(rows pgx.Rows) ([]*dlq.Record, error) {
	var records []*dlq.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("relayq/postgres: scan record row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("relayq/postgres: iterate record rows: %w", err)
	}
	return records, nil
}
