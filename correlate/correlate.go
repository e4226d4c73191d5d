// Package correlate carries a correlation identifier on context.Context so
// a single inbound event can be traced end-to-end across asynchronous
// boundaries: producer → job payload → worker logs → dead-letter record.
//
// The identifier is threaded unmodified; relayq never rewrites or derives
// from it.
package correlate

import "context"

type ctxKey struct{}

// With attaches a correlation ID to the context. An empty ID returns the
// context unchanged (no-op).
func With(ctx context.Context, correlationID string) context.Context {
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, correlationID)
}

// From extracts the correlation ID from the context.
// Returns an empty string if none is present.
func From(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}
