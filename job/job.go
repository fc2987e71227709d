// Package job defines the Job record — one execution instance of a
// process — its state machine, and the persistence contract job stores
// implement.
package job

import (
	"time"

	"github.com/vforwater/geoapi"
	"github.com/vforwater/geoapi/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateAccepted means the job is persisted and waiting for a worker.
	StateAccepted State = "accepted"
	// StateRunning means a worker is currently executing the handler.
	StateRunning State = "running"
	// StateSuccessful means the handler finished and the result is stored.
	StateSuccessful State = "successful"
	// StateFailed means the handler returned an error or panicked.
	StateFailed State = "failed"
	// StateDismissed means the job was cancelled before or during execution.
	StateDismissed State = "dismissed"
)

// Terminal reports whether the state is absorbing: once reached it is
// never left.
func (s State) Terminal() bool {
	switch s {
	case StateSuccessful, StateFailed, StateDismissed:
		return true
	}
	return false
}

// CanTransition reports whether the monotonic state machine permits
// moving from s to next.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateAccepted:
		return next == StateRunning || next == StateDismissed
	case StateRunning:
		return next.Terminal()
	}
	return false
}

// ErrorDetail is the structured failure record of a failed job.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Job is one execution instance of a registered process. It is created
// by the manager on submission and mutated only through the manager's
// transition operations.
type Job struct {
	geoapi.Entity

	ID        id.JobID `json:"id"`
	ProcessID string   `json:"process_id"`
	State     State    `json:"state"`

	// Params is the caller-supplied JSON parameter document.
	Params []byte `json:"params,omitempty"`

	// Result is the inline JSON result payload, present only when the
	// job is successful and the deployment stores results inline.
	Result []byte `json:"result,omitempty"`
	// ResultRef references an externally stored result artifact. Result
	// and ResultRef are never both set.
	ResultRef string `json:"result_ref,omitempty"`

	// Error is set only when State is failed.
	Error *ErrorDetail `json:"error,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// New creates a Job in the accepted state.
func New(processID string, params []byte) *Job {
	return &Job{
		Entity:    geoapi.NewEntity(),
		ID:        id.NewJobID(),
		ProcessID: processID,
		State:     StateAccepted,
		Params:    params,
	}
}

// Clone returns a deep copy so callers can mutate without racing the
// store.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Params != nil {
		cp.Params = append([]byte(nil), j.Params...)
	}
	if j.Result != nil {
		cp.Result = append([]byte(nil), j.Result...)
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
