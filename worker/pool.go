package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vforwater/geoapi/backoff"
	"github.com/vforwater/geoapi/ext"
	"github.com/vforwater/geoapi/id"
	"github.com/vforwater/geoapi/job"
	"github.com/vforwater/geoapi/limits"
)

// Pool manages a set of concurrent worker goroutines that claim
// accepted jobs from the store and execute them through the Executor.
// The store is the queue: claiming atomically moves a job to running,
// so pools on separate hosts sharing a store never double-execute.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	concurrency  int
	pollInterval time.Duration
	backoff      backoff.Strategy
	limits       *limits.Manager
	logger       *slog.Logger

	wakeCh     chan struct{}
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how often idle workers poll for accepted jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithBackoff sets the strategy used to stretch the poll interval after
// consecutive store errors.
func WithBackoff(s backoff.Strategy) PoolOption {
	return func(p *Pool) { p.backoff = s }
}

// WithLimits sets the per-process admission manager. Claimed jobs whose
// process is over its concurrency or rate limit are returned to the
// accepted state.
func WithLimits(m *limits.Manager) PoolOption {
	return func(p *Pool) { p.limits = m }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		concurrency:  10,
		pollInterval: 500 * time.Millisecond,
		backoff:      backoff.DefaultStrategy(),
		logger:       logger,
		wakeCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.Int("concurrency", p.concurrency),
		slog.Duration("poll_interval", p.pollInterval),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish. If the
// context expires first, active job contexts are cancelled and Stop
// waits for the handlers to unwind.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// Wake nudges an idle worker to poll immediately instead of waiting out
// the poll interval. The manager calls it after each submission.
func (p *Pool) Wake() {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

// Cancel cancels the execution context of a running job. It returns
// false when the job is not executing on this pool.
func (p *Pool) Cancel(jobID id.JobID) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	cancel, ok := p.activeJobs[jobID.String()]
	if ok {
		cancel()
	}
	return ok
}

// claimLoop is run by each worker goroutine.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	failures := 0
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		jobs, err := p.store.ClaimJobs(context.Background(), 1)
		if err != nil {
			failures++
			p.logger.Error("claim error",
				slog.String("error", err.Error()),
				slog.Int("consecutive_failures", failures),
			)
			p.sleep(p.backoff.Delay(failures))
			continue
		}
		failures = 0

		if len(jobs) == 0 {
			p.sleep(p.pollInterval)
			continue
		}

		j := jobs[0]

		if p.limits != nil && !p.limits.Acquire(j.ProcessID) {
			p.requeue(j)
			p.sleep(p.pollInterval)
			continue
		}

		p.execute(j)

		if p.limits != nil {
			p.limits.Release(j.ProcessID)
		}
	}
}

func (p *Pool) execute(j *job.Job) {
	p.extensions.EmitJobStarted(context.Background(), j)

	ctx, cancel := context.WithCancel(context.Background())
	p.trackJob(j.ID.String(), cancel)

	if err := p.executor.Execute(ctx, j); err != nil {
		p.logger.Debug("job execution not finalized",
			slog.String("job_id", j.ID.String()),
			slog.String("process_id", j.ProcessID),
			slog.String("error", err.Error()),
		)
	}

	p.untrackJob(j.ID.String())
	cancel()
}

// requeue returns an over-limit claim to the accepted state so another
// worker picks it up once the process has capacity again.
func (p *Pool) requeue(j *job.Job) {
	j.State = job.StateAccepted
	j.StartedAt = nil
	j.Touch()

	if err := p.store.TransitionJob(context.Background(), j, job.StateRunning); err != nil {
		p.logger.Error("failed to requeue over-limit job",
			slog.String("job_id", j.ID.String()),
			slog.String("process_id", j.ProcessID),
			slog.String("error", err.Error()),
		)
	}
}

// sleep waits for d, a wake signal, or shutdown, whichever comes first.
func (p *Pool) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.wakeCh:
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
