// Package limits enforces per-process execution limits: a token-bucket
// rate cap on how often a process may start (golang.org/x/time/rate)
// and an active-count gate on how many of its jobs run at once.
//
// The worker pool acquires a slot before executing a claimed job:
//
//	if m.Acquire(j.ProcessID) {
//	    defer m.Release(j.ProcessID)
//	    // execute the job
//	}
//
// Processes without a [Config] have no limits beyond the pool-wide
// concurrency.
package limits

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-process execution limits.
type Config struct {
	// ProcessID identifies the process this config applies to.
	ProcessID string

	// MaxConcurrency limits how many jobs of this process may run
	// simultaneously across the local worker pool. Zero means no
	// process-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained job starts per second for
	// this process. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// processState tracks runtime state for a single process.
type processState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-process rate limiting and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	processes map[string]*processState
}

// NewManager creates a Manager with the given process configurations.
// Processes not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		processes: make(map[string]*processState, len(configs)),
	}
	for _, cfg := range configs {
		m.processes[cfg.ProcessID] = newProcessState(cfg)
	}
	return m
}

func newProcessState(cfg Config) *processState {
	ps := &processState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ps.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ps
}

// Acquire checks rate limits and concurrency for the given process. If
// the job is allowed to proceed it increments the active counter and
// returns true. The caller MUST call Release when the job completes.
func (m *Manager) Acquire(processID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps := m.processes[processID]
	if ps != nil {
		if ps.limiter != nil && !ps.limiter.Allow() {
			return false
		}
		if ps.config.MaxConcurrency > 0 && ps.active >= ps.config.MaxConcurrency {
			return false
		}
		ps.active++
	}
	return true
}

// Release decrements the active job count for the process.
func (m *Manager) Release(processID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ps := m.processes[processID]; ps != nil && ps.active > 0 {
		ps.active--
	}
}

// SetConfig dynamically updates (or creates) a process configuration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.processes[cfg.ProcessID]
	ps := newProcessState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ps.active = existing.active
	}
	m.processes[cfg.ProcessID] = ps
}

// ActiveCount returns the current number of active jobs for a process.
func (m *Manager) ActiveCount(processID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ps := m.processes[processID]; ps != nil {
		return ps.active
	}
	return 0
}
