package middleware

import (
	"context"

	"github.com/lumenlabs/relayq/correlate"
	"github.com/lumenlabs/relayq/job"
)

// Correlate returns middleware that restores the job's correlation ID into
// the context. Handlers and anything they call see the same correlation ID
// as the original enqueue caller.
func Correlate() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx = correlate.With(ctx, j.CorrelationID)
		return next(ctx)
	}
}
