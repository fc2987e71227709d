package job

import (
	"context"

	"github.com/vforwater/geoapi/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// ProcessID filters by process identifier. Empty means all processes.
	ProcessID string
	// State filters by job state. Empty means all states.
	State State
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// ProcessID filters by process identifier. Empty means all processes.
	ProcessID string
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for jobs. Implementations must
// provide read-after-write consistency: a transition is visible to any
// reader as soon as the writing call returns.
type Store interface {
	// CreateJob atomically persists a new job in the accepted state.
	// Returns geoapi.ErrJobAlreadyExists on an ID collision.
	CreateJob(ctx context.Context, j *Job) error

	// ClaimJobs atomically moves up to limit accepted jobs to running,
	// stamps StartedAt, and returns them ordered by creation time.
	// Concurrent claimers never receive the same job.
	ClaimJobs(ctx context.Context, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID. Returns geoapi.ErrUnknownJob if absent.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// TransitionJob persists j only while the stored state is one of
	// from. It returns geoapi.ErrInvalidTransition when another writer
	// reached a conflicting state first, so exactly one terminal state
	// wins under concurrent dismiss and completion.
	TransitionJob(ctx context.Context, j *Job, from ...State) error

	// DeleteJob removes a job by ID. Returns geoapi.ErrUnknownJob if
	// absent.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobs returns jobs matching the given options, newest first.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
