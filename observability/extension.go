package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lumenlabs/relayq/dlq"
	"github.com/lumenlabs/relayq/ext"
	"github.com/lumenlabs/relayq/job"
)

const meterName = "github.com/lumenlabs/relayq/observability"

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.JobEnqueued     = (*MetricsExtension)(nil)
	_ ext.JobCompleted    = (*MetricsExtension)(nil)
	_ ext.JobFailed       = (*MetricsExtension)(nil)
	_ ext.JobRetrying     = (*MetricsExtension)(nil)
	_ ext.JobDeadLettered = (*MetricsExtension)(nil)
	_ ext.JobCancelled    = (*MetricsExtension)(nil)
	_ ext.LockAcquired    = (*MetricsExtension)(nil)
	_ ext.LockContended   = (*MetricsExtension)(nil)
	_ ext.ResultCached    = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters via OpenTelemetry.
// Register it as a relayq extension to track enqueue rates, completion
// counts, retries, dead-letter arrivals, and idempotency-lock behavior.
// These complement the per-execution middleware metrics: enqueues,
// cancellations, and lock contention happen outside the execution path,
// where middleware cannot see them.
type MetricsExtension struct {
	jobsEnqueued    metric.Int64Counter
	jobsCompleted   metric.Int64Counter
	jobsFailed      metric.Int64Counter
	jobsRetried     metric.Int64Counter
	jobsDeadLetter  metric.Int64Counter
	jobsCancelled   metric.Int64Counter
	locksAcquired   metric.Int64Counter
	locksContended  metric.Int64Counter
	resultsReplayed metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.GetMeterProvider().Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Use this when instruments must land on a specific
// MeterProvider, e.g. in tests with a manual reader.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	m.jobsEnqueued, _ = meter.Int64Counter("relayq.jobs.enqueued",
		metric.WithDescription("Jobs accepted for processing"))
	m.jobsCompleted, _ = meter.Int64Counter("relayq.jobs.completed",
		metric.WithDescription("Jobs that finished successfully"))
	m.jobsFailed, _ = meter.Int64Counter("relayq.jobs.failed",
		metric.WithDescription("Job attempts that ended in failure"))
	m.jobsRetried, _ = meter.Int64Counter("relayq.jobs.retried",
		metric.WithDescription("Retries scheduled after transient failures"))
	m.jobsDeadLetter, _ = meter.Int64Counter("relayq.jobs.dead_lettered",
		metric.WithDescription("Jobs moved to the dead letter queue"))
	m.jobsCancelled, _ = meter.Int64Counter("relayq.jobs.cancelled",
		metric.WithDescription("Jobs cancelled before execution"))
	m.locksAcquired, _ = meter.Int64Counter("relayq.locks.acquired",
		metric.WithDescription("Idempotency locks acquired"))
	m.locksContended, _ = meter.Int64Counter("relayq.locks.contended",
		metric.WithDescription("Callers that found an idempotency lock held"))
	m.resultsReplayed, _ = meter.Int64Counter("relayq.results.replayed",
		metric.WithDescription("Idempotent calls answered from the result cache"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.jobsEnqueued.Add(ctx, 1, metric.WithAttributes(queueAttr(j.Queue)))
	return nil
}

func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.jobsCompleted.Add(ctx, 1, metric.WithAttributes(queueAttr(j.Queue)))
	return nil
}

func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.jobsFailed.Add(ctx, 1, metric.WithAttributes(queueAttr(j.Queue)))
	return nil
}

func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.jobsRetried.Add(ctx, 1, metric.WithAttributes(queueAttr(j.Queue)))
	return nil
}

func (m *MetricsExtension) OnJobDeadLettered(ctx context.Context, rec *dlq.Record) error {
	m.jobsDeadLetter.Add(ctx, 1, metric.WithAttributes(queueAttr(rec.Queue)))
	return nil
}

func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.jobsCancelled.Add(ctx, 1, metric.WithAttributes(queueAttr(j.Queue)))
	return nil
}

// ── Idempotency hooks ───────────────────────────────

func (m *MetricsExtension) OnLockAcquired(ctx context.Context, _ string, _ string) error {
	m.locksAcquired.Add(ctx, 1)
	return nil
}

func (m *MetricsExtension) OnLockContended(ctx context.Context, _ string, timedOut bool) error {
	m.locksContended.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("relayq.lock.timed_out", timedOut)))
	return nil
}

func (m *MetricsExtension) OnResultCached(ctx context.Context, _ string, cached bool) error {
	if cached {
		m.resultsReplayed.Add(ctx, 1)
	}
	return nil
}

func queueAttr(queue string) attribute.KeyValue {
	return attribute.String("relayq.queue", queue)
}
