// Package engine wires all relayq subsystems together. It creates the
// extension registry, job registry, middleware chain, idempotency
// coordinator, and worker pool, and provides Register/Enqueue operations.
//
// This package exists to break the import cycle: the root relayq package
// defines Entity (imported by job, dlq, etc.) and so cannot import those
// packages back. The engine package sits above all subsystem packages and
// below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lumenlabs/relayq"
	"github.com/lumenlabs/relayq/backoff"
	"github.com/lumenlabs/relayq/correlate"
	"github.com/lumenlabs/relayq/dlq"
	"github.com/lumenlabs/relayq/ext"
	"github.com/lumenlabs/relayq/id"
	"github.com/lumenlabs/relayq/idempotent"
	"github.com/lumenlabs/relayq/job"
	"github.com/lumenlabs/relayq/kv"
	kvmemory "github.com/lumenlabs/relayq/kv/memory"
	mw "github.com/lumenlabs/relayq/middleware"
	"github.com/lumenlabs/relayq/observability"
	"github.com/lumenlabs/relayq/queue"
	"github.com/lumenlabs/relayq/worker"
)

// Engine wraps a Dispatcher with typed subsystem access.
// Use Build() to create one from a Dispatcher.
type Engine struct {
	d           *relayq.Dispatcher
	extensions  *ext.Registry
	registry    *job.Registry
	jobStore    job.Store
	dlqService  *dlq.Service
	coordinator *idempotent.Coordinator
	bo          backoff.Strategy
	pool        *worker.Pool
	mws         []mw.Middleware
	logger      *slog.Logger

	// Idempotency subsystem.
	kvStore  kv.Store
	coordOps []idempotent.Option

	// Queue subsystem.
	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Completed-job retention pruner.
	pruneEvery time.Duration
	pruneStop  chan struct{}
	pruneOnce  sync.Once
	pruneWG    sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the default retry backoff strategy for jobs without a
// per-job backoff base. If not set, backoff.DefaultStrategy() is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithKV sets the key-value store backing the idempotency coordinator.
// If not set, an in-process memory store is used; production deployments
// should pass a Redis-backed store so locks are shared across processes.
func WithKV(s kv.Store) Option {
	return func(eng *Engine) {
		eng.kvStore = s
	}
}

// WithCoordinatorOptions passes options through to the idempotency
// coordinator (lock TTL, result TTL, wait timeout, renewal).
func WithCoordinatorOptions(opts ...idempotent.Option) Option {
	return func(eng *Engine) {
		eng.coordOps = append(eng.coordOps, opts...)
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithPruneInterval sets how often the completed-job retention pruner
// runs. Zero keeps the default.
func WithPruneInterval(d time.Duration) Option {
	return func(eng *Engine) {
		if d > 0 {
			eng.pruneEvery = d
		}
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, the metrics middleware uses this provider instead of the
// global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Dispatcher.
// The Dispatcher's store must implement job.Store and dlq.Store.
func Build(d *relayq.Dispatcher, opts ...Option) (*Engine, error) {
	logger := d.Logger()
	store := d.Store()

	if store == nil {
		return nil, relayq.ErrNoStore
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("relayq: store does not implement job.Store")
	}

	ds, ok := store.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("relayq: store does not implement dlq.Store")
	}

	eng := &Engine{
		d:          d,
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		jobStore:   js,
		logger:     logger,
		pruneEvery: 15 * time.Minute,
		pruneStop:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}
	if eng.kvStore == nil {
		eng.kvStore = kvmemory.New()
	}

	eng.dlqService = dlq.NewService(ds, js)

	// Register the built-in metrics extension so lifecycle and lock events
	// are counted even when callers add no extensions of their own.
	if eng.meterProvider != nil {
		eng.extensions.Register(observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter("github.com/lumenlabs/relayq/observability")))
	} else {
		eng.extensions.Register(observability.NewMetricsExtension())
	}

	// Create the idempotency coordinator.
	coordOps := append([]idempotent.Option{
		idempotent.WithLogger(logger),
		idempotent.WithHooks(eng.extensions),
	}, eng.coordOps...)
	eng.coordinator = idempotent.NewCoordinator(eng.kvStore, coordOps...)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/lumenlabs/relayq")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/lumenlabs/relayq")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging →
	// correlate → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Correlate(),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	// Create executor and pool.
	config := d.Config()
	executor := worker.NewExecutor(
		eng.registry, eng.extensions, eng.jobStore, eng.dlqService,
		eng.bo, config.BackoffCap, logger, allMws...,
	)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPoolQueues(config.Queues),
		worker.WithPollInterval(config.PollInterval),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithStaleJobThreshold(config.StaleJobThreshold),
	}

	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}

	eng.pool = worker.NewPool(
		eng.jobStore,
		executor,
		eng.extensions,
		logger,
		poolOpts...,
	)

	// Wire back into the Dispatcher.
	d.SetPool(eng.pool)
	d.SetHooks(eng.extensions)

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue creates and enqueues a job.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}

	return eng.EnqueueRaw(ctx, name, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload. When an
// idempotency key is set, enqueues with the same key collapse onto a
// single job: the first caller creates it, every other caller gets the
// same job back.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	jobOpts := job.DefaultOptions()
	for _, opt := range opts {
		opt(&jobOpts)
	}

	if jobOpts.IdempotencyKey == "" {
		return eng.enqueueNew(ctx, name, payload, jobOpts)
	}

	jobID, _, err := idempotent.Execute(ctx, eng.coordinator, jobOpts.IdempotencyKey,
		func(ctx context.Context) (id.JobID, error) {
			j, enqErr := eng.enqueueNew(ctx, name, payload, jobOpts)
			if enqErr != nil {
				return id.Nil, enqErr
			}
			return j.ID, nil
		})
	if err != nil {
		return nil, err
	}
	return eng.jobStore.GetJob(ctx, jobID)
}

// enqueueNew builds and persists a fresh job from resolved options.
func (eng *Engine) enqueueNew(ctx context.Context, name string, payload []byte, jobOpts job.Options) (*job.Job, error) {
	priority := jobOpts.Priority
	if priority == 0 {
		priority = queue.PriorityFor(jobOpts.Queue)
	}

	correlationID := jobOpts.CorrelationID
	if correlationID == "" {
		correlationID = correlate.From(ctx)
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:         relayq.NewEntity(),
		ID:             id.NewJobID(),
		Name:           name,
		Queue:          jobOpts.Queue,
		Payload:        payload,
		State:          job.StateWaiting,
		Priority:       priority,
		MaxAttempts:    jobOpts.MaxAttempts,
		BackoffBase:    jobOpts.BackoffBase,
		CorrelationID:  correlationID,
		IdempotencyKey: jobOpts.IdempotencyKey,
		RunAt:          now,
		Timeout:        jobOpts.Timeout,
	}
	if jobOpts.Delay > 0 {
		j.State = job.StateDelayed
		j.RunAt = now.Add(jobOpts.Delay)
	}

	if err := eng.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// JobStatus returns the producer-facing status view of a job.
func (eng *Engine) JobStatus(ctx context.Context, jobID id.JobID) (job.Status, error) {
	j, err := eng.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return job.Status{}, err
	}
	return job.StatusOf(j), nil
}

// Cancel removes a waiting or delayed job before it becomes active.
// Returns ErrJobActive if the job is already executing.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID) error {
	j, err := eng.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if err := eng.jobStore.CancelJob(ctx, jobID); err != nil {
		return err
	}
	eng.extensions.EmitJobCancelled(ctx, j)
	return nil
}

// Start begins job processing by starting the worker pool and, when
// retention is configured, the completed-job pruner.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.d.Start(ctx); err != nil {
		return err
	}

	if cfg := eng.d.Config(); cfg.CompletedRetention > 0 {
		eng.pruneWG.Add(1)
		go eng.pruneLoop(cfg.CompletedRetention, cfg.CompletedKeep)
	}
	return nil
}

// Stop gracefully shuts down the engine. Safe to call more than once.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.pruneOnce.Do(func() { close(eng.pruneStop) })
	eng.pruneWG.Wait()
	return eng.d.Stop(ctx)
}

// pruneLoop periodically removes completed jobs past the retention window.
func (eng *Engine) pruneLoop(retention time.Duration, keep int) {
	defer eng.pruneWG.Done()

	ticker := time.NewTicker(eng.pruneEvery)
	defer ticker.Stop()

	for {
		select {
		case <-eng.pruneStop:
			return
		case <-ticker.C:
			removed, err := eng.jobStore.PruneCompleted(context.Background(), retention, keep)
			if err != nil {
				eng.logger.Warn("completed-job prune failed", slog.String("error", err.Error()))
				continue
			}
			if removed > 0 {
				eng.logger.Debug("pruned completed jobs", slog.Int64("removed", removed))
			}
		}
	}
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Dispatcher returns the underlying Dispatcher.
func (eng *Engine) Dispatcher() *relayq.Dispatcher { return eng.d }

// DLQService returns the engine's DLQ service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// Coordinator returns the idempotency coordinator for direct use with
// idempotent.Execute outside the enqueue path.
func (eng *Engine) Coordinator() *idempotent.Coordinator { return eng.coordinator }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
