// Package retention provides a background sweeper that deletes terminal
// jobs older than a configured TTL, together with their result
// artifacts. It is optional: deployments without a retention_ttl keep
// jobs until they are deleted explicitly.
package retention

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vforwater/geoapi"
	"github.com/vforwater/geoapi/artifact"
	"github.com/vforwater/geoapi/job"
)

// terminalStates are the states the sweeper considers for deletion.
// Non-terminal jobs are never touched.
var terminalStates = []job.State{
	job.StateSuccessful,
	job.StateFailed,
	job.StateDismissed,
}

// Sweeper periodically deletes terminal jobs whose FinishedAt is older
// than the TTL.
type Sweeper struct {
	store     job.Store
	artifacts artifact.Store
	ttl       time.Duration
	interval  time.Duration
	batchSize int
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithInterval sets how often the sweeper scans the store.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) { s.interval = d }
}

// WithBatchSize caps how many jobs one sweep pass examines per state.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) { s.batchSize = n }
}

// NewSweeper creates a Sweeper. artifacts may be nil when results are
// stored inline.
func NewSweeper(
	store job.Store,
	artifacts artifact.Store,
	ttl time.Duration,
	logger *slog.Logger,
	opts ...Option,
) *Sweeper {
	s := &Sweeper{
		store:     store,
		artifacts: artifacts,
		ttl:       ttl,
		interval:  time.Minute,
		batchSize: 500,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the sweep loop. It returns immediately.
func (s *Sweeper) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.running = true

	s.logger.Info("retention sweeper starting",
		slog.Duration("ttl", s.ttl),
		slog.Duration("interval", s.interval),
	)

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop signals the sweep loop to stop and waits for it to finish.
func (s *Sweeper) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	return nil
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

// Sweep runs one pass, deleting every terminal job whose FinishedAt is
// older than the TTL. Exported so startup code can run an immediate
// cleanup before the loop ticks.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	deleted := 0

	for _, state := range terminalStates {
		jobs, err := s.store.ListJobs(ctx, job.ListOpts{State: state, Limit: s.batchSize})
		if err != nil {
			s.logger.Error("retention sweep list failed",
				slog.String("state", string(state)),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, j := range jobs {
			if j.FinishedAt == nil || j.FinishedAt.After(cutoff) {
				continue
			}
			if s.remove(ctx, j) {
				deleted++
			}
		}
	}

	if deleted > 0 {
		s.logger.Info("retention sweep deleted expired jobs", slog.Int("count", deleted))
	}
}

func (s *Sweeper) remove(ctx context.Context, j *job.Job) bool {
	if s.artifacts != nil && j.ResultRef != "" {
		if err := s.artifacts.Remove(ctx, j.ResultRef); err != nil && !errors.Is(err, geoapi.ErrNotFound) {
			s.logger.Warn("retention sweep: artifact removal failed",
				slog.String("job_id", j.ID.String()),
				slog.String("ref", j.ResultRef),
				slog.String("error", err.Error()),
			)
			return false
		}
	}

	if err := s.store.DeleteJob(ctx, j.ID); err != nil {
		if errors.Is(err, geoapi.ErrUnknownJob) {
			return false
		}
		s.logger.Error("retention sweep: job deletion failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}
