// Package audit is a relayq extension that bridges lifecycle events to an
// append-only audit trail.
//
// Every job and idempotency lifecycle hook emits a structured [Event]
// through the [Sink] interface. The extension assigns severity levels
// (info for normal operations, warning for retries and lock contention,
// critical for terminal failures) and rich metadata (job name, queue,
// attempt counts, elapsed time, errors). Correlation IDs travel with each
// event so a dead-lettered job can be traced back to the request that
// enqueued it.
//
// # Sinks
//
// A [Sink] persists events. The bunsink subpackage ships a PostgreSQL
// sink built on github.com/uptrace/bun; [SinkFunc] adapts a plain
// function for custom backends:
//
//	audit.New(audit.SinkFunc(func(ctx context.Context, evt *audit.Event) error {
//	    log.Printf("%s %s %s", evt.Severity, evt.Action, evt.ResourceID)
//	    return nil
//	}))
//
// # Selective filtering
//
//	audit.New(sink,
//	    audit.WithActions(
//	        audit.ActionJobFailed,
//	        audit.ActionJobDeadLettered,
//	    ),
//	)
package audit
