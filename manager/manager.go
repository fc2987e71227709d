package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/vforwater/geoapi"
	"github.com/vforwater/geoapi/artifact"
	"github.com/vforwater/geoapi/backoff"
	"github.com/vforwater/geoapi/catalog"
	"github.com/vforwater/geoapi/ext"
	"github.com/vforwater/geoapi/id"
	"github.com/vforwater/geoapi/job"
	"github.com/vforwater/geoapi/limits"
	mw "github.com/vforwater/geoapi/middleware"
	"github.com/vforwater/geoapi/observability"
	"github.com/vforwater/geoapi/process"
	"github.com/vforwater/geoapi/retention"
	"github.com/vforwater/geoapi/worker"
)

// Manager accepts process execution requests, tracks them as jobs, and
// answers status, result, dismiss, and delete queries. All job mutation
// flows through the store's conditional transitions, so concurrent
// operations on the same job resolve to exactly one terminal state.
type Manager struct {
	store      job.Store
	artifacts  artifact.Store
	registry   *process.Registry
	processes  map[string]*catalog.ProcessDefinition
	extensions *ext.Registry
	pool       *worker.Pool
	limits     *limits.Manager
	sweeper    *retention.Sweeper
	waiters    *waiters
	config     geoapi.Config
	admitMu    sync.Mutex
	bo         backoff.Strategy
	mws        []mw.Middleware
	exts       []ext.Extension
	logger     *slog.Logger

	retentionTTL time.Duration

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithConfig sets the runtime tunables. Defaults to geoapi.DefaultConfig().
func WithConfig(cfg geoapi.Config) Option {
	return func(m *Manager) { m.config = cfg }
}

// WithArtifacts sets the artifact store for externally stored results.
// Without it, results are stored inline on the job record.
func WithArtifacts(s artifact.Store) Option {
	return func(m *Manager) { m.artifacts = s }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(m *Manager) { m.exts = append(m.exts, e) }
}

// WithMiddleware appends middleware to the execution chain, after the
// default stack.
func WithMiddleware(middlewares ...mw.Middleware) Option {
	return func(m *Manager) { m.mws = append(m.mws, middlewares...) }
}

// WithLimits configures per-process concurrency and rate limits.
func WithLimits(configs ...limits.Config) Option {
	return func(m *Manager) { m.limits = limits.NewManager(configs...) }
}

// WithBackoff sets the strategy the pool uses to back off store polling
// after errors. Defaults to backoff.DefaultStrategy().
func WithBackoff(b backoff.Strategy) Option {
	return func(m *Manager) { m.bo = b }
}

// WithRetention enables the background sweeper that deletes terminal
// jobs older than ttl together with their artifacts.
func WithRetention(ttl time.Duration) Option {
	return func(m *Manager) { m.retentionTTL = ttl }
}

// WithTracerProvider sets a custom OTel TracerProvider. When set, the
// tracing middleware uses it instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Manager) { m.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. When set, both
// the metrics middleware and the observability extension use it instead
// of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(m *Manager) { m.meterProvider = mp }
}

// New creates a Manager. Every process definition's handler reference
// is resolved against the handler registry up front; an unresolvable
// reference is a configuration error and New fails rather than serving
// a partially valid catalog.
func New(
	processes []*catalog.ProcessDefinition,
	handlers *process.Registry,
	store job.Store,
	opts ...Option,
) (*Manager, error) {
	if store == nil {
		return nil, geoapi.ErrNoStore
	}

	m := &Manager{
		store:     store,
		registry:  process.NewRegistry(),
		processes: make(map[string]*catalog.ProcessDefinition, len(processes)),
		config:    geoapi.DefaultConfig(),
		logger:    slog.Default(),
		waiters:   newWaiters(),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.extensions = ext.NewRegistry(m.logger)
	for _, e := range m.exts {
		m.extensions.Register(e)
	}

	// Bind catalog process IDs to registered handlers.
	for _, def := range processes {
		fn, ok := handlers.Get(def.Handler)
		if !ok {
			return nil, fmt.Errorf("manager: process %q: unresolvable handler reference %q", def.ID, def.Handler)
		}
		m.registry.RegisterFunc(def.ID, fn)
		m.processes[def.ID] = def
	}

	if m.bo == nil {
		m.bo = backoff.DefaultStrategy()
	}

	// Tracing and metrics middleware, against the custom providers
	// when set.
	tracingMw := mw.Tracing()
	if m.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(m.tracerProvider.Tracer("github.com/vforwater/geoapi"))
	}
	metricsMw := mw.Metrics()
	if m.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(m.meterProvider.Meter("github.com/vforwater/geoapi"))
	}

	obsExt := observability.NewMetricsExtension()
	if m.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(
			m.meterProvider.Meter("github.com/vforwater/geoapi/observability"))
	}
	m.extensions.Register(obsExt)
	m.extensions.Register(m.waiters)

	// Default stack: recover, tracing, metrics, logging, then any
	// caller-supplied middleware. The execution deadline sits inside
	// the default stack so those layers observe the timeout error.
	allMws := make([]mw.Middleware, 0, 5+len(m.mws))
	allMws = append(allMws,
		mw.Recover(m.logger),
		tracingMw,
		metricsMw,
		mw.Logging(m.logger),
	)
	if m.config.ExecutionTimeout > 0 {
		allMws = append(allMws, mw.Timeout(m.config.ExecutionTimeout))
	}
	allMws = append(allMws, m.mws...)

	executor := worker.NewExecutor(m.registry, m.store, m.artifacts, m.extensions, m.logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithConcurrency(m.config.Concurrency),
		worker.WithPollInterval(m.config.PollInterval),
		worker.WithBackoff(m.bo),
	}
	if m.limits != nil {
		poolOpts = append(poolOpts, worker.WithLimits(m.limits))
	}
	m.pool = worker.NewPool(m.store, executor, m.extensions, m.logger, poolOpts...)

	if m.retentionTTL > 0 {
		m.sweeper = retention.NewSweeper(m.store, m.artifacts, m.retentionTTL, m.logger)
	}

	return m, nil
}

// Start launches the worker pool and, when configured, the retention
// sweeper. It returns immediately.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.pool.Start(ctx); err != nil {
		return err
	}
	if m.sweeper != nil {
		return m.sweeper.Start(ctx)
	}
	return nil
}

// Stop gracefully shuts down the manager: the sweeper first, then the
// worker pool, bounded by Config.ShutdownTimeout when ctx carries no
// deadline. Shutdown extensions are notified last.
func (m *Manager) Stop(ctx context.Context) error {
	if m.sweeper != nil {
		if err := m.sweeper.Stop(ctx); err != nil {
			m.logger.Error("retention sweeper stop error", slog.String("error", err.Error()))
		}
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && m.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.ShutdownTimeout)
		defer cancel()
	}

	err := m.pool.Stop(ctx)
	m.extensions.EmitShutdown(context.WithoutCancel(ctx))
	return err
}

// SubmitOptions control a single submission.
type SubmitOptions struct {
	// Sync blocks the caller until the job is terminal.
	Sync bool
	// Timeout bounds a synchronous submission. Zero falls back to
	// Config.SyncTimeout; both zero means wait indefinitely.
	Timeout time.Duration
}

// SubmitOption configures a submission.
type SubmitOption func(*SubmitOptions)

// Sync makes the submission block until the job reaches a terminal
// state.
func Sync() SubmitOption {
	return func(o *SubmitOptions) { o.Sync = true }
}

// SyncTimeout makes the submission block at most d. When d elapses the
// caller gets geoapi.ErrExecutionTimeout while the job keeps running
// and can still be polled.
func SyncTimeout(d time.Duration) SubmitOption {
	return func(o *SubmitOptions) {
		o.Sync = true
		o.Timeout = d
	}
}

// Submit creates a job for the given process and schedules its
// execution. It fails with geoapi.ErrUnknownProcess before creating any
// job when processID is not in the catalog, and with
// geoapi.ErrOverloaded when the accepted backlog is at the configured
// queue depth.
//
// Asynchronous submissions return as soon as the job is persisted.
// Synchronous ones block until the job is terminal, returning the
// terminal record.
func (m *Manager) Submit(ctx context.Context, processID string, params []byte, opts ...SubmitOption) (*job.Job, error) {
	if _, ok := m.registry.Get(processID); !ok {
		return nil, geoapi.ErrUnknownProcess
	}

	so := SubmitOptions{Timeout: m.config.SyncTimeout}
	for _, opt := range opts {
		opt(&so)
	}

	j := job.New(processID, params)

	// The waiter must be registered before the job is visible to the
	// pool, or a fast handler could finish before anyone listens.
	var done chan *job.Job
	if so.Sync {
		done = m.waiters.add(j.ID.String())
		defer m.waiters.remove(j.ID.String(), done)
	}

	if err := m.admit(ctx, j); err != nil {
		return nil, err
	}

	m.extensions.EmitJobAccepted(ctx, j)
	m.pool.Wake()

	m.logger.Debug("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("process_id", processID),
		slog.Bool("sync", so.Sync),
	)

	if !so.Sync {
		return j, nil
	}
	return m.await(ctx, j, done, so.Timeout)
}

// admit creates the job, enforcing the queue-depth ceiling first. The
// count-and-create pair runs under a lock so concurrent submissions on
// this manager cannot overshoot the ceiling.
func (m *Manager) admit(ctx context.Context, j *job.Job) error {
	if m.config.QueueDepth > 0 {
		m.admitMu.Lock()
		defer m.admitMu.Unlock()

		backlog, err := m.store.CountJobs(ctx, job.CountOpts{State: job.StateAccepted})
		if err != nil {
			return fmt.Errorf("manager: queue depth check: %w", err)
		}
		if backlog >= int64(m.config.QueueDepth) {
			return geoapi.ErrOverloaded
		}
	}
	return m.store.CreateJob(ctx, j)
}

// await blocks until the job is terminal, the timeout elapses, or ctx
// is cancelled. Store polling backs up the waiter channel so terminal
// transitions written by another manager instance are seen too.
func (m *Manager) await(ctx context.Context, j *job.Job, done <-chan *job.Job, timeout time.Duration) (*job.Job, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	poll := m.config.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case terminal := <-done:
			return terminal, nil
		case <-ticker.C:
			got, err := m.store.GetJob(ctx, j.ID)
			if err != nil {
				return j, err
			}
			if got.State.Terminal() {
				return got, nil
			}
		case <-timeoutCh:
			return j, geoapi.ErrExecutionTimeout
		case <-ctx.Done():
			return j, ctx.Err()
		}
	}
}

// Status returns the job record. Fails with geoapi.ErrUnknownJob when
// absent.
func (m *Manager) Status(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return m.store.GetJob(ctx, jobID)
}

// Result returns the stored result payload of a successful job. It
// fails with geoapi.ErrResultNotReady while the job is non-terminal,
// geoapi.ErrJobFailed (carrying the error detail) when it failed, and
// geoapi.ErrJobDismissed when it was dismissed.
func (m *Manager) Result(ctx context.Context, jobID id.JobID) ([]byte, error) {
	j, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch j.State {
	case job.StateAccepted, job.StateRunning:
		return nil, geoapi.ErrResultNotReady
	case job.StateFailed:
		if j.Error != nil {
			return nil, fmt.Errorf("%w: %s: %s", geoapi.ErrJobFailed, j.Error.Code, j.Error.Message)
		}
		return nil, geoapi.ErrJobFailed
	case job.StateDismissed:
		return nil, geoapi.ErrJobDismissed
	}

	if j.ResultRef == "" {
		return j.Result, nil
	}
	if m.artifacts == nil {
		return nil, fmt.Errorf("manager: job %s references artifact %q but no artifact store is configured", jobID, j.ResultRef)
	}

	rc, err := m.artifacts.Get(ctx, j.ResultRef)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Dismiss transitions a non-terminal job to dismissed and requests
// cooperative cancellation of an in-flight handler. It fails with
// geoapi.ErrUnknownJob or geoapi.ErrAlreadyTerminal. A handler that
// ignores the cancellation may run to completion; its result is then
// discarded and the job stays dismissed.
func (m *Manager) Dismiss(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	for {
		j, err := m.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if j.State.Terminal() {
			return nil, geoapi.ErrAlreadyTerminal
		}

		d := j.Clone()
		d.State = job.StateDismissed
		now := time.Now().UTC()
		d.FinishedAt = &now
		d.Touch()

		// Transition only from the state just read. If a claim raced in
		// between the read and the write, the conditional update fails
		// and the re-read picks up the claim's StartedAt stamp instead
		// of clobbering it.
		if err := m.store.TransitionJob(ctx, d, j.State); err != nil {
			if errors.Is(err, geoapi.ErrInvalidTransition) {
				continue
			}
			return nil, err
		}

		m.pool.Cancel(jobID)
		m.extensions.EmitJobDismissed(ctx, d)

		m.logger.Info("job dismissed",
			slog.String("job_id", jobID.String()),
			slog.String("process_id", j.ProcessID),
		)

		return d, nil
	}
}

// Delete removes a terminal job and its stored result. It fails with
// geoapi.ErrUnknownJob or, for non-terminal jobs, geoapi.ErrJobNotTerminal.
func (m *Manager) Delete(ctx context.Context, jobID id.JobID) error {
	j, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !j.State.Terminal() {
		return geoapi.ErrJobNotTerminal
	}

	if j.ResultRef != "" && m.artifacts != nil {
		if err := m.artifacts.Remove(ctx, j.ResultRef); err != nil && !errors.Is(err, geoapi.ErrNotFound) {
			return fmt.Errorf("manager: delete job %s: remove artifact: %w", jobID, err)
		}
	}

	return m.store.DeleteJob(ctx, jobID)
}

// List returns jobs matching the given filter, newest first.
func (m *Manager) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return m.store.ListJobs(ctx, opts)
}

// Process returns the catalog definition for the given process ID.
func (m *Manager) Process(processID string) (*catalog.ProcessDefinition, bool) {
	def, ok := m.processes[processID]
	return def, ok
}

// Extensions returns the extension registry.
func (m *Manager) Extensions() *ext.Registry { return m.extensions }

// Config returns the manager's runtime configuration.
func (m *Manager) Config() geoapi.Config { return m.config }
