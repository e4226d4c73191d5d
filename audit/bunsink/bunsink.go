// Package bunsink persists audit events to PostgreSQL using the Bun ORM.
//
// The sink is append-only: events are inserted, never updated or deleted,
// apart from retention pruning via [Sink.Prune]. Use [Open] to build a
// *bun.DB from a DSN, or pass an existing handle to [New].
package bunsink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/lumenlabs/relayq/audit"
	"github.com/lumenlabs/relayq/id"
)

var _ audit.Sink = (*Sink)(nil)

type eventModel struct {
	bun.BaseModel `bun:"table:relayq_audit_events"`

	ID            string    `bun:"id,pk"`
	Action        string    `bun:"action,notnull"`
	Resource      string    `bun:"resource,notnull"`
	Category      string    `bun:"category,notnull"`
	ResourceID    string    `bun:"resource_id"`
	CorrelationID string    `bun:"correlation_id"`
	Metadata      []byte    `bun:"metadata,type:jsonb"`
	Outcome       string    `bun:"outcome,notnull"`
	Severity      string    `bun:"severity,notnull"`
	Reason        string    `bun:"reason"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// Sink writes audit events to a PostgreSQL table via Bun.
// The caller owns the *bun.DB lifecycle; Sink never closes it.
type Sink struct {
	db *bun.DB
}

// New creates a Sink over an existing Bun handle.
func New(db *bun.DB) *Sink {
	return &Sink{db: db}
}

// Open builds a *bun.DB from a PostgreSQL DSN and wraps it in a Sink.
func Open(dsn string) (*Sink, *bun.DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return New(db), db, nil
}

// Migrate creates the audit events table if it does not exist.
func (s *Sink) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS relayq_audit_events (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			resource TEXT NOT NULL,
			category TEXT NOT NULL,
			resource_id TEXT NOT NULL DEFAULT '',
			correlation_id TEXT NOT NULL DEFAULT '',
			metadata JSONB,
			outcome TEXT NOT NULL,
			severity TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS relayq_audit_events_resource_idx
			ON relayq_audit_events (resource, resource_id);
		CREATE INDEX IF NOT EXISTS relayq_audit_events_correlation_idx
			ON relayq_audit_events (correlation_id) WHERE correlation_id <> '';
	`)
	if err != nil {
		return fmt.Errorf("relayq/bunsink: migrate: %w", err)
	}
	return nil
}

// Write implements audit.Sink.
func (s *Sink) Write(ctx context.Context, evt *audit.Event) error {
	var meta []byte
	if len(evt.Metadata) > 0 {
		var err error
		meta, err = json.Marshal(evt.Metadata)
		if err != nil {
			return fmt.Errorf("relayq/bunsink: marshal metadata: %w", err)
		}
	}

	m := &eventModel{
		ID:            id.NewAuditID().String(),
		Action:        evt.Action,
		Resource:      evt.Resource,
		Category:      evt.Category,
		ResourceID:    evt.ResourceID,
		CorrelationID: evt.CorrelationID,
		Metadata:      meta,
		Outcome:       evt.Outcome,
		Severity:      evt.Severity,
		Reason:        evt.Reason,
		CreatedAt:     time.Now().UTC(),
	}

	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("relayq/bunsink: insert event: %w", err)
	}
	return nil
}

// ListByCorrelation returns events for a correlation ID, oldest first.
func (s *Sink) ListByCorrelation(ctx context.Context, correlationID string, limit int) ([]*audit.Event, error) {
	var models []*eventModel
	q := s.db.NewSelect().Model(&models).
		Where("correlation_id = ?", correlationID).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("relayq/bunsink: list events: %w", err)
	}

	events := make([]*audit.Event, 0, len(models))
	for _, m := range models {
		evt, err := fromEventModel(m)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, nil
}

// Prune deletes events older than the given time. Returns rows removed.
func (s *Sink) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().Model((*eventModel)(nil)).
		Where("created_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("relayq/bunsink: prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("relayq/bunsink: prune rows affected: %w", err)
	}
	return n, nil
}

func fromEventModel(m *eventModel) (*audit.Event, error) {
	evt := &audit.Event{
		Action:        m.Action,
		Resource:      m.Resource,
		Category:      m.Category,
		ResourceID:    m.ResourceID,
		CorrelationID: m.CorrelationID,
		Outcome:       m.Outcome,
		Severity:      m.Severity,
		Reason:        m.Reason,
	}
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &evt.Metadata); err != nil {
			return nil, fmt.Errorf("relayq/bunsink: unmarshal metadata: %w", err)
		}
	}
	return evt, nil
}
