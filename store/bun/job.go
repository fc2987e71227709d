package bunstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/uptrace/bun"

	"github.com/vforwater/geoapi"
	"github.com/vforwater/geoapi/id"
	"github.com/vforwater/geoapi/job"
)

// CreateJob persists a new job in the accepted state.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return geoapi.ErrJobAlreadyExists
		}
		return fmt.Errorf("geoapi/bun: create job: %w", err)
	}
	return nil
}

// ClaimJobs atomically moves up to limit accepted jobs to running and
// returns them, oldest first. Selection and the conditional update run
// in one transaction; the state guard on the update keeps concurrent
// claimers from taking the same job on any dialect.
func (s *Store) ClaimJobs(ctx context.Context, limit int) ([]*job.Job, error) {
	var claimed []*job.Job

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var candidates []jobModel
		err := tx.NewSelect().Model(&candidates).
			Where("state = ?", string(job.StateAccepted)).
			Order("created_at ASC").
			Limit(limit).
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("select candidates: %w", err)
		}

		now := time.Now().UTC()
		for i := range candidates {
			res, updErr := tx.NewUpdate().
				TableExpr("geoapi_jobs").
				Set("state = ?", string(job.StateRunning)).
				Set("started_at = ?", now).
				Set("updated_at = ?", now).
				Where("id = ?", candidates[i].ID).
				Where("state = ?", string(job.StateAccepted)).
				Exec(ctx)
			if updErr != nil {
				return fmt.Errorf("claim %s: %w", candidates[i].ID, updErr)
			}
			rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
			if rows == 0 {
				// Another claimer won this row.
				continue
			}

			candidates[i].State = string(job.StateRunning)
			candidates[i].StartedAt = &now
			candidates[i].UpdatedAt = now

			j, convErr := fromJobModel(&candidates[i])
			if convErr != nil {
				return convErr
			}
			claimed = append(claimed, j)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("geoapi/bun: claim jobs: %w", err)
	}
	return claimed, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, geoapi.ErrUnknownJob
		}
		return nil, fmt.Errorf("geoapi/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// TransitionJob persists j only while the stored state is one of from.
// When another writer already moved the job to a conflicting state the
// update matches no row and the call returns geoapi.ErrInvalidTransition.
func (s *Store) TransitionJob(ctx context.Context, j *job.Job, from ...job.State) error {
	fromStates := make([]string, len(from))
	for i, st := range from {
		fromStates[i] = string(st)
	}

	m := toJobModel(j)
	res, err := s.db.NewUpdate().
		Model(m).
		Column("state", "result", "result_ref", "error_code", "error_message",
			"started_at", "finished_at", "updated_at").
		Value("updated_at", "?", time.Now().UTC()).
		WherePK().
		Where("state IN (?)", bun.In(fromStates)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("geoapi/bun: transition job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		exists, existsErr := s.db.NewSelect().
			TableExpr("geoapi_jobs").
			Where("id = ?", j.ID.String()).
			Exists(ctx)
		if existsErr != nil {
			return fmt.Errorf("geoapi/bun: transition job: %w", existsErr)
		}
		if !exists {
			return geoapi.ErrUnknownJob
		}
		return geoapi.ErrInvalidTransition
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.NewDelete().
		TableExpr("geoapi_jobs").
		Where("id = ?", jobID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("geoapi/bun: delete job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return geoapi.ErrUnknownJob
	}
	return nil
}

// ListJobs returns jobs matching the given options, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models)

	if opts.ProcessID != "" {
		q = q.Where("process_id = ?", opts.ProcessID)
	}
	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}

	q = q.Order("created_at DESC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	} else if opts.Offset > 0 {
		// SQLite rejects OFFSET without LIMIT, and bun drops non-positive
		// limits, so an unbounded offset query needs an explicit cap.
		q = q.Limit(math.MaxInt32)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("geoapi/bun: list jobs: %w", err)
	}

	jobs, err := fromJobModels(models)
	if err != nil {
		return nil, fmt.Errorf("geoapi/bun: list jobs convert: %w", err)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	q := s.db.NewSelect().TableExpr("geoapi_jobs")

	if opts.ProcessID != "" {
		q = q.Where("process_id = ?", opts.ProcessID)
	}
	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}

	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("geoapi/bun: count jobs: %w", err)
	}
	return int64(count), nil
}
