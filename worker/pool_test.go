package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vforwater/geoapi/ext"
	"github.com/vforwater/geoapi/job"
	"github.com/vforwater/geoapi/limits"
	"github.com/vforwater/geoapi/process"
	"github.com/vforwater/geoapi/store/memory"
)

func newPool(t *testing.T, store *memory.Store, registry *process.Registry, opts ...PoolOption) *Pool {
	t.Helper()
	logger := testLogger()
	exec := NewExecutor(registry, store, nil, ext.NewRegistry(logger), logger)
	base := []PoolOption{WithPollInterval(10 * time.Millisecond)}
	p := NewPool(store, exec, ext.NewRegistry(logger), logger, append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p
}

func waitForState(t *testing.T, store *memory.Store, j *job.Job, want job.State) *job.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.GetJob(context.Background(), j.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.State == want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, _ := store.GetJob(context.Background(), j.ID)
	t.Fatalf("job %s never reached %q, last state %q", j.ID, want, got.State)
	return nil
}

func TestPoolExecutesSubmittedJobs(t *testing.T) {
	store := memory.New()
	p := newPool(t, store, newRegistry(t), WithConcurrency(2))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var jobs []*job.Job
	for range 5 {
		j := job.New("greeter", []byte(`{"name":"World"}`))
		if err := store.CreateJob(context.Background(), j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		jobs = append(jobs, j)
	}
	p.Wake()

	for _, j := range jobs {
		got := waitForState(t, store, j, job.StateSuccessful)
		if len(got.Result) == 0 {
			t.Errorf("job %s has no result", j.ID)
		}
	}
}

func TestPoolStartIdempotent(t *testing.T) {
	store := memory.New()
	p := newPool(t, store, newRegistry(t))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
}

func TestPoolStopWaitsForActiveJob(t *testing.T) {
	store := memory.New()
	registry := process.NewRegistry()

	started := make(chan struct{})
	release := make(chan struct{})
	registry.RegisterFunc("blocker", func(ctx context.Context, _ []byte) ([]byte, error) {
		close(started)
		select {
		case <-release:
			return []byte(`{}`), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	p := newPool(t, store, registry, WithConcurrency(1))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	j := job.New("blocker", nil)
	if err := store.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	p.Wake()
	<-started

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	wg.Wait()

	got, _ := store.GetJob(context.Background(), j.ID)
	if got.State != job.StateSuccessful {
		t.Fatalf("state after graceful stop = %q, want successful", got.State)
	}
}

func TestPoolStopDeadlineCancelsActiveJob(t *testing.T) {
	store := memory.New()
	registry := process.NewRegistry()

	started := make(chan struct{})
	registry.RegisterFunc("forever", func(ctx context.Context, _ []byte) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	p := newPool(t, store, registry, WithConcurrency(1))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	j := job.New("forever", nil)
	if err := store.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	p.Wake()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got, _ := store.GetJob(context.Background(), j.ID)
	if got.State != job.StateFailed {
		t.Fatalf("state after forced stop = %q, want failed", got.State)
	}
}

func TestPoolCancelRunningJob(t *testing.T) {
	store := memory.New()
	p := newPool(t, store, newRegistry(t), WithConcurrency(1))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	j := job.New("slow", nil)
	if err := store.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	p.Wake()

	waitForState(t, store, j, job.StateRunning)

	deadline := time.Now().Add(time.Second)
	for !p.Cancel(j.ID) {
		if time.Now().After(deadline) {
			t.Fatal("job never became cancellable")
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := waitForState(t, store, j, job.StateFailed)
	if got.Error == nil {
		t.Fatal("cancelled job should carry an error detail")
	}
}

func TestPoolCancelUnknownJob(t *testing.T) {
	store := memory.New()
	p := newPool(t, store, newRegistry(t))
	j := job.New("greeter", nil)
	if p.Cancel(j.ID) {
		t.Error("Cancel returned true for a job the pool never saw")
	}
}

func TestPoolHonorsProcessConcurrencyLimit(t *testing.T) {
	store := memory.New()
	registry := process.NewRegistry()

	var mu sync.Mutex
	active, peak := 0, 0
	registry.RegisterFunc("limited", func(_ context.Context, _ []byte) ([]byte, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()

		time.Sleep(30 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return []byte(`{}`), nil
	})

	lm := limits.NewManager(limits.Config{ProcessID: "limited", MaxConcurrency: 1})
	p := newPool(t, store, registry, WithConcurrency(3), WithLimits(lm))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var jobs []*job.Job
	for range 3 {
		j := job.New("limited", nil)
		if err := store.CreateJob(context.Background(), j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		jobs = append(jobs, j)
	}
	p.Wake()

	for _, j := range jobs {
		waitForState(t, store, j, job.StateSuccessful)
	}

	mu.Lock()
	defer mu.Unlock()
	if peak != 1 {
		t.Errorf("peak concurrent executions = %d, want 1", peak)
	}
}
