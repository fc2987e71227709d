package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vforwater/geoapi"
	"github.com/vforwater/geoapi/id"
	"github.com/vforwater/geoapi/job"
)

const jobColumns = `
	id, process_id, state, params, result, result_ref,
	error_code, error_message,
	started_at, finished_at, created_at, updated_at`

// CreateJob persists a new job in the accepted state.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	var errCode, errMsg *string
	if j.Error != nil {
		errCode, errMsg = &j.Error.Code, &j.Error.Message
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO geoapi_jobs (
			id, process_id, state, params, result, result_ref,
			error_code, error_message,
			started_at, finished_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8,
			$9, $10, $11, $12
		)`,
		j.ID.String(), j.ProcessID, string(j.State), j.Params, j.Result, j.ResultRef,
		errCode, errMsg,
		j.StartedAt, j.FinishedAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return geoapi.ErrJobAlreadyExists
		}
		return fmt.Errorf("geoapi/postgres: create job: %w", err)
	}
	return nil
}

// ClaimJobs atomically moves up to limit accepted jobs to running and
// returns them, oldest first. Uses SELECT FOR UPDATE SKIP LOCKED so
// concurrent claimers never receive the same job.
func (s *Store) ClaimJobs(ctx context.Context, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE geoapi_jobs
			SET state = 'running', started_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM geoapi_jobs
				WHERE state = 'accepted'
				ORDER BY created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $1
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM claimed ORDER BY created_at ASC`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("geoapi/postgres: claim jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM geoapi_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, geoapi.ErrUnknownJob
		}
		return nil, fmt.Errorf("geoapi/postgres: get job: %w", err)
	}
	return j, nil
}

// TransitionJob persists j only while the stored state is one of from.
// When another writer already moved the job to a conflicting state the
// UPDATE matches no row and the call returns geoapi.ErrInvalidTransition.
func (s *Store) TransitionJob(ctx context.Context, j *job.Job, from ...job.State) error {
	fromStates := make([]string, len(from))
	for i, st := range from {
		fromStates[i] = string(st)
	}

	var errCode, errMsg *string
	if j.Error != nil {
		errCode, errMsg = &j.Error.Code, &j.Error.Message
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE geoapi_jobs SET
			state = $2, result = $3, result_ref = $4,
			error_code = $5, error_message = $6,
			started_at = $7, finished_at = $8, updated_at = NOW()
		WHERE id = $1 AND state = ANY($9)`,
		j.ID.String(), string(j.State), j.Result, j.ResultRef,
		errCode, errMsg,
		j.StartedAt, j.FinishedAt,
		fromStates,
	)
	if err != nil {
		return fmt.Errorf("geoapi/postgres: transition job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		checkErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM geoapi_jobs WHERE id = $1)`,
			j.ID.String(),
		).Scan(&exists)
		if checkErr != nil {
			return fmt.Errorf("geoapi/postgres: transition job: %w", checkErr)
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
	tag, err := s.pool.Exec(ctx, `DELETE FROM geoapi_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("geoapi/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return geoapi.ErrUnknownJob
	}
	return nil
}

// ListJobs returns jobs matching the given options, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM geoapi_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.ProcessID != "" {
		query += fmt.Sprintf(" AND process_id = $%d", argIdx)
		args = append(args, opts.ProcessID)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("geoapi/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM geoapi_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.ProcessID != "" {
		query += fmt.Sprintf(" AND process_id = $%d", argIdx)
		args = append(args, opts.ProcessID)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("geoapi/postgres: count jobs: %w", err)
	}
	return count, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j        job.Job
		idStr    string
		stateStr string
		errCode  *string
		errMsg   *string
	)
	err := row.Scan(
		&idStr, &j.ProcessID, &stateStr, &j.Params, &j.Result, &j.ResultRef,
		&errCode, &errMsg,
		&j.StartedAt, &j.FinishedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	if errCode != nil || errMsg != nil {
		detail := job.ErrorDetail{}
		if errCode != nil {
			detail.Code = *errCode
		}
		if errMsg != nil {
			detail.Message = *errMsg
		}
		j.Error = &detail
	}

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("geoapi/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("geoapi/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("geoapi/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
