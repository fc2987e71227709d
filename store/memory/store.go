// Package memory provides a fully in-memory job store. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vforwater/geoapi"
	"github.com/vforwater/geoapi/id"
	"github.com/vforwater/geoapi/job"
)

// Ensure Store satisfies the job store contract at compile time.
var _ job.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// New returns a new empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*job.Job)}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// CreateJob atomically persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return geoapi.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// ClaimJobs atomically moves up to limit accepted jobs to running.
func (m *Store) ClaimJobs(_ context.Context, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]*job.Job, 0, limit)
	for _, j := range m.jobs {
		if j.State == job.StateAccepted {
			candidates = append(candidates, j)
		}
	}

	// Oldest submissions first.
	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	now := time.Now().UTC()
	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.State = job.StateRunning
		n := now
		j.StartedAt = &n
		j.UpdatedAt = now
		result[i] = j.Clone()
	}

	return result, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, geoapi.ErrUnknownJob
	}
	return j.Clone(), nil
}

// TransitionJob persists j only while the stored state is one of from.
func (m *Store) TransitionJob(_ context.Context, j *job.Job, from ...job.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.jobs[j.ID.String()]
	if !ok {
		return geoapi.ErrUnknownJob
	}

	matched := false
	for _, s := range from {
		if stored.State == s {
			matched = true
			break
		}
	}
	if !matched {
		return geoapi.ErrInvalidTransition
	}

	cp := j.Clone()
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[j.ID.String()] = cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return geoapi.ErrUnknownJob
	}
	delete(m.jobs, key)
	return nil
}

// ListJobs returns jobs matching the given options, newest first.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.ProcessID != "" && j.ProcessID != opts.ProcessID {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		matched = append(matched, j)
	}

	sort.Slice(matched, func(i, k int) bool {
		return matched[i].CreatedAt.After(matched[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	result := make([]*job.Job, len(matched))
	for i, j := range matched {
		result[i] = j.Clone()
	}
	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, j := range m.jobs {
		if opts.ProcessID != "" && j.ProcessID != opts.ProcessID {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		n++
	}
	return n, nil
}
