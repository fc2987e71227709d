// Package worker provides the job execution engine — an Executor that
// runs claimed jobs through middleware and the registered process
// handler, and a Pool of goroutines that claim accepted jobs from the
// store.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vforwater/geoapi"
	"github.com/vforwater/geoapi/artifact"
	"github.com/vforwater/geoapi/ext"
	"github.com/vforwater/geoapi/job"
	"github.com/vforwater/geoapi/middleware"
	"github.com/vforwater/geoapi/process"
)

// Error codes recorded on failed jobs.
const (
	CodeNoSuchHandler   = "NoSuchHandler"
	CodeExecutionFailed = "ExecutionFailed"
	CodeResultStorage   = "ResultStorageFailed"
)

// Executor runs a single claimed job through the middleware chain and
// the process handler, stores the result either inline or in the
// artifact store, and finalizes the job with a conditional terminal
// transition so a concurrent dismissal always wins over a late result.
type Executor struct {
	registry   *process.Registry
	store      job.Store
	artifacts  artifact.Store
	extensions *ext.Registry
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor. registry must be keyed by process
// identifier. artifacts may be nil, in which case results are stored
// inline on the job record.
func NewExecutor(
	registry *process.Registry,
	store job.Store,
	artifacts artifact.Store,
	extensions *ext.Registry,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		store:      store,
		artifacts:  artifacts,
		extensions: extensions,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a job that is already in the running state. ctx carries
// the per-job cancellation used by Dismiss; finalization always uses an
// uncancelled context so a dismissed job's terminal write still lands.
//
// A lost terminal transition is not an error: it means another writer
// (a dismissal) reached a terminal state first, and the result is
// discarded.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.ProcessID)
	if !ok {
		return e.finalizeFailure(ctx, j,
			&job.ErrorDetail{Code: CodeNoSuchHandler, Message: fmt.Sprintf("no handler for process %q", j.ProcessID)})
	}

	start := time.Now()

	var payload []byte
	terminal := func(ctx context.Context) error {
		out, err := handler(ctx, j.Params)
		if err != nil {
			return err
		}
		payload = out
		return nil
	}

	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	if err != nil {
		return e.finalizeFailure(ctx, j,
			&job.ErrorDetail{Code: CodeExecutionFailed, Message: err.Error()})
	}

	return e.finalizeSuccess(ctx, j, payload, elapsed)
}

func (e *Executor) finalizeSuccess(ctx context.Context, j *job.Job, payload []byte, elapsed time.Duration) error {
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()

	j.Result = nil
	j.ResultRef = ""
	if e.artifacts != nil {
		ref, putErr := e.artifacts.Put(ctx, j.ID.String(), bytes.NewReader(payload), int64(len(payload)))
		if putErr != nil {
			e.logger.Error("storing result artifact failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", putErr.Error()),
			)
			return e.finalizeFailure(ctx, j,
				&job.ErrorDetail{Code: CodeResultStorage, Message: putErr.Error()})
		}
		j.ResultRef = ref
	} else {
		j.Result = payload
	}

	j.State = job.StateSuccessful
	j.FinishedAt = &now
	j.UpdatedAt = now

	if err := e.store.TransitionJob(ctx, j, job.StateRunning); err != nil {
		e.discardResult(ctx, j)
		if errors.Is(err, geoapi.ErrInvalidTransition) {
			e.logger.Debug("result discarded, job already terminal",
				slog.String("job_id", j.ID.String()),
			)
			return nil
		}
		e.logger.Error("failed to finalize successful job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

func (e *Executor) finalizeFailure(ctx context.Context, j *job.Job, detail *job.ErrorDetail) error {
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()

	j.State = job.StateFailed
	j.Error = detail
	j.Result = nil
	j.ResultRef = ""
	j.FinishedAt = &now
	j.UpdatedAt = now

	if err := e.store.TransitionJob(ctx, j, job.StateRunning); err != nil {
		if errors.Is(err, geoapi.ErrInvalidTransition) {
			e.logger.Debug("failure discarded, job already terminal",
				slog.String("job_id", j.ID.String()),
			)
			return nil
		}
		e.logger.Error("failed to finalize failed job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobFailed(ctx, j, fmt.Errorf("%s: %s", detail.Code, detail.Message))
	return nil
}

// discardResult removes an artifact written for a job whose terminal
// transition was lost.
func (e *Executor) discardResult(ctx context.Context, j *job.Job) {
	if e.artifacts == nil || j.ResultRef == "" {
		return
	}
	if err := e.artifacts.Remove(ctx, j.ResultRef); err != nil && !errors.Is(err, geoapi.ErrNotFound) {
		e.logger.Warn("failed to remove orphaned result artifact",
			slog.String("job_id", j.ID.String()),
			slog.String("ref", j.ResultRef),
			slog.String("error", err.Error()),
		)
	}
	j.ResultRef = ""
}
