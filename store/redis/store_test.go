package redis_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vforwater/geoapi"
	"github.com/vforwater/geoapi/job"
	redisstore "github.com/vforwater/geoapi/store/redis"
)

// setupTestStore connects to the Redis instance named by TEST_REDIS_URL
// (e.g. "redis://localhost:6379/15") and skips the test when it is unset.
// The selected database is flushed, so point the URL at a dedicated test
// database.
func setupTestStore(t *testing.T) *redisstore.Store {
	t.Helper()

	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	opts, err := goredis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() {
		_ = client.Close()
	})

	ctx := context.Background()
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush test database: %v", err)
	}

	s := redisstore.New(client)
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := job.New(fmt.Sprintf("%s-proc", t.Name()), []byte(`{"name":"World"}`))
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateJob(ctx, j); !errors.Is(err, geoapi.ErrJobAlreadyExists) {
		t.Fatalf("duplicate create error = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateAccepted || string(got.Params) != `{"name":"World"}` {
		t.Errorf("got %+v", got)
	}

	now := time.Now().UTC()
	j.State = job.StateFailed
	j.Error = &job.ErrorDetail{Code: "handler_error", Message: "boom"}
	j.FinishedAt = &now
	if err := s.TransitionJob(ctx, j, job.StateAccepted, job.StateRunning); err != nil {
		t.Fatalf("transition: %v", err)
	}

	j.State = job.StateSuccessful
	if err := s.TransitionJob(ctx, j, job.StateRunning); !errors.Is(err, geoapi.ErrInvalidTransition) {
		t.Fatalf("conflicting transition error = %v, want ErrInvalidTransition", err)
	}

	got, err = s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get after transition: %v", err)
	}
	if got.State != job.StateFailed || got.Error == nil || got.Error.Code != "handler_error" {
		t.Errorf("got %+v error %+v", got, got.Error)
	}

	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, geoapi.ErrUnknownJob) {
		t.Fatalf("get after delete err = %v, want ErrUnknownJob", err)
	}
}

func TestStore_ClaimOrdersByCreation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := job.New("p", nil)
	first.CreatedAt = time.Now().UTC().Add(-time.Minute)
	second := job.New("p", nil)

	for _, j := range []*job.Job{second, first} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	claimed, err := s.ClaimJobs(ctx, 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != first.ID {
		t.Fatalf("claimed = %v, want the oldest accepted job", claimed)
	}
	if claimed[0].State != job.StateRunning || claimed[0].StartedAt == nil {
		t.Errorf("claimed job not running: %+v", claimed[0])
	}

	rest, err := s.ClaimJobs(ctx, 10)
	if err != nil {
		t.Fatalf("claim rest: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != second.ID {
		t.Errorf("second claim = %v", rest)
	}
}

func TestStore_RequeueReentersBacklog(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := job.New("p", nil)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, err := s.ClaimJobs(ctx, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim = %v, %v", claimed, err)
	}

	// Returning the job to accepted must make it claimable again.
	j = claimed[0]
	j.State = job.StateAccepted
	j.StartedAt = nil
	if err := s.TransitionJob(ctx, j, job.StateRunning); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	again, err := s.ClaimJobs(ctx, 1)
	if err != nil {
		t.Fatalf("claim again: %v", err)
	}
	if len(again) != 1 || again[0].ID != j.ID {
		t.Fatalf("reclaim = %v", again)
	}
}

func TestStore_ListAndCount(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := job.New("proc-a", nil)
	b := job.New("proc-b", nil)
	c := job.New("proc-b", nil)
	c.State = job.StateSuccessful

	for _, j := range []*job.Job{a, b, c} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	got, err := s.ListJobs(ctx, job.ListOpts{ProcessID: "proc-b"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}

	n, err := s.CountJobs(ctx, job.CountOpts{State: job.StateAccepted})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}
