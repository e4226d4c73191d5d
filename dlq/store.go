package dlq

import (
	"context"
	"time"

	"github.com/lumenlabs/relayq/id"
)

// ListOpts controls pagination and filtering for DLQ list queries.
type ListOpts struct {
	// Limit is the maximum number of records to return. Zero means no limit.
	Limit int
	// Offset is the number of records to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// PushRecord adds a dead-letter record. Records are append-only; no
	// update operation exists apart from the replay stamp.
	PushRecord(ctx context.Context, rec *Record) error

	// ListRecords returns records matching the given options, newest
	// failure first.
	ListRecords(ctx context.Context, opts ListOpts) ([]*Record, error)

	// GetRecord retrieves a record by ID.
	GetRecord(ctx context.Context, recordID id.RecordID) (*Record, error)

	// ReplayRecord stamps ReplayedAt on a record. The actual re-enqueue
	// is handled at the service layer.
	ReplayRecord(ctx context.Context, recordID id.RecordID) error

	// PurgeRecords removes records with FailedAt before the given time.
	// Returns the number of records removed.
	PurgeRecords(ctx context.Context, before time.Time) (int64, error)

	// CountRecords returns the total number of dead-letter records.
	CountRecords(ctx context.Context) (int64, error)
}
