package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vforwater/geoapi"
	"github.com/vforwater/geoapi/id"
	"github.com/vforwater/geoapi/job"
)

// claimScript pops up to ARGV[1] members from the accepted set and
// moves the ones still in the accepted state to running. Runs
// atomically, so concurrent claimers never receive the same job.
var claimScript = goredis.NewScript(`
local claimed = {}
local popped = redis.call('ZPOPMIN', KEYS[1], ARGV[1])
for i = 1, #popped, 2 do
	local jid = popped[i]
	local key = ARGV[3] .. jid
	if redis.call('HGET', key, 'state') == 'accepted' then
		redis.call('HSET', key, 'state', 'running', 'started_at', ARGV[2], 'updated_at', ARGV[2])
		claimed[#claimed + 1] = jid
	end
end
return claimed
`)

// transitionScript applies the field updates in ARGV[4+n..] only while
// the stored state is one of the n from-states in ARGV[4..3+n]. The
// job leaves the claim backlog unless the new state is accepted, which
// re-enqueues it at its original score (ARGV[2]) so requeued jobs keep
// their place in line. Returns 'unknown', 'conflict' or 'ok'.
var transitionScript = goredis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
	return 'unknown'
end
local n = tonumber(ARGV[3])
local ok = false
for i = 4, 3 + n do
	if state == ARGV[i] then
		ok = true
	end
end
if not ok then
	return 'conflict'
end
redis.call('HSET', KEYS[1], unpack(ARGV, 4 + n))
if redis.call('HGET', KEYS[1], 'state') == 'accepted' then
	redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
else
	redis.call('ZREM', KEYS[2], ARGV[1])
end
return 'ok'
`)

// CreateJob stores the job as a Hash and, while it is in the accepted
// state, adds it to the claim backlog.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()

	// SADD doubles as the duplicate check.
	added, err := s.client.SAdd(ctx, jobIDsKey, jID).Result()
	if err != nil {
		return fmt.Errorf("geoapi/redis: create job: %w", err)
	}
	if added == 0 {
		return geoapi.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jID), jobToMap(j))
	if j.State == job.StateAccepted {
		pipe.ZAdd(ctx, acceptedKey, goredis.Z{
			Score:  float64(j.CreatedAt.UnixMilli()),
			Member: jID,
		})
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("geoapi/redis: create job: %w", err)
	}
	return nil
}

// ClaimJobs atomically moves up to limit accepted jobs to running and
// returns them, oldest first.
func (s *Store) ClaimJobs(ctx context.Context, limit int) ([]*job.Job, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	ids, err := claimScript.Run(ctx, s.client,
		[]string{acceptedKey},
		limit, now, jobKeyPrefix,
	).StringSlice()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("geoapi/redis: claim jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			return nil, getErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// TransitionJob persists j only while the stored state is one of from.
func (s *Store) TransitionJob(ctx context.Context, j *job.Job, from ...job.State) error {
	jID := j.ID.String()

	args := make([]interface{}, 0, 3+len(from)+24)
	args = append(args, jID, j.CreatedAt.UnixMilli(), len(from))
	for _, st := range from {
		args = append(args, string(st))
	}
	fields := jobToMap(j)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	// Deterministic field order keeps the script arguments stable.
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		args = append(args, name, fields[name])
	}

	res, err := transitionScript.Run(ctx, s.client,
		[]string{jobKey(jID), acceptedKey},
		args...,
	).Text()
	if err != nil {
		return fmt.Errorf("geoapi/redis: transition job: %w", err)
	}
	switch res {
	case "ok":
		return nil
	case "unknown":
		return geoapi.ErrUnknownJob
	default:
		return geoapi.ErrInvalidTransition
	}
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()

	removed, err := s.client.SRem(ctx, jobIDsKey, jID).Result()
	if err != nil {
		return fmt.Errorf("geoapi/redis: delete job: %w", err)
	}
	if removed == 0 {
		return geoapi.ErrUnknownJob
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, jobKey(jID))
	pipe.ZRem(ctx, acceptedKey, jID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("geoapi/redis: delete job: %w", err)
	}
	return nil
}

// ListJobs returns jobs matching the given options, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("geoapi/redis: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // removed between SMEMBERS and HGETALL
		}
		if opts.ProcessID != "" && j.ProcessID != opts.ProcessID {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	// The accepted backlog has a dedicated set, so the admission check
	// on submit stays O(1).
	if opts.ProcessID == "" && opts.State == job.StateAccepted {
		n, err := s.client.ZCard(ctx, acceptedKey).Result()
		if err != nil {
			return 0, fmt.Errorf("geoapi/redis: count jobs: %w", err)
		}
		return n, nil
	}

	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("geoapi/redis: count jobs: %w", err)
	}

	var count int64
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if opts.ProcessID != "" && j.ProcessID != opts.ProcessID {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// ── helpers ──

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":         j.ID.String(),
		"process_id": j.ProcessID,
		"state":      string(j.State),
		"params":     string(j.Params),
		"result":     string(j.Result),
		"result_ref": j.ResultRef,
		"created_at": j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": j.UpdatedAt.Format(time.RFC3339Nano),
		// Optional fields are always written so transitions overwrite
		// any stale values.
		"error_code":    "",
		"error_message": "",
		"started_at":    "",
		"finished_at":   "",
	}
	if j.Error != nil {
		m["error_code"] = j.Error.Code
		m["error_message"] = j.Error.Message
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.FinishedAt != nil {
		m["finished_at"] = j.FinishedAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("geoapi/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, geoapi.ErrUnknownJob
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("geoapi/redis: parse job id: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: geoapi.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:        jID,
		ProcessID: m["process_id"],
		State:     job.State(m["state"]),
		ResultRef: m["result_ref"],
	}
	if v := m["params"]; v != "" {
		j.Params = []byte(v)
	}
	if v := m["result"]; v != "" {
		j.Result = []byte(v)
	}
	if m["error_code"] != "" || m["error_message"] != "" {
		j.Error = &job.ErrorDetail{
			Code:    m["error_code"],
			Message: m["error_message"],
		}
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["finished_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.FinishedAt = &t
	}
	return j, nil
}
