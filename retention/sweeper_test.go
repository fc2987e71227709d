package retention

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/vforwater/geoapi"
	"github.com/vforwater/geoapi/artifact"
	"github.com/vforwater/geoapi/job"
	"github.com/vforwater/geoapi/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// terminalJob creates a job already in the given terminal state with the
// given age.
func terminalJob(t *testing.T, store *memory.Store, state job.State, age time.Duration) *job.Job {
	t.Helper()
	ctx := context.Background()

	j := job.New("greeter", nil)
	if err := store.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	running := j.Clone()
	running.State = job.StateRunning
	if err := store.TransitionJob(ctx, running, job.StateAccepted); err != nil {
		t.Fatalf("to running: %v", err)
	}

	done := running.Clone()
	done.State = state
	finished := time.Now().UTC().Add(-age)
	done.FinishedAt = &finished
	if err := store.TransitionJob(ctx, done, job.StateRunning); err != nil {
		t.Fatalf("to %s: %v", state, err)
	}
	return done
}

func TestSweepDeletesExpiredTerminalJobs(t *testing.T) {
	store := memory.New()
	old := terminalJob(t, store, job.StateSuccessful, 2*time.Hour)
	oldFailed := terminalJob(t, store, job.StateFailed, 3*time.Hour)
	fresh := terminalJob(t, store, job.StateSuccessful, time.Minute)

	s := NewSweeper(store, nil, time.Hour, testLogger())
	s.Sweep(context.Background())

	ctx := context.Background()
	if _, err := store.GetJob(ctx, old.ID); !errors.Is(err, geoapi.ErrUnknownJob) {
		t.Errorf("expired job still present, err = %v", err)
	}
	if _, err := store.GetJob(ctx, oldFailed.ID); !errors.Is(err, geoapi.ErrUnknownJob) {
		t.Errorf("expired failed job still present, err = %v", err)
	}
	if _, err := store.GetJob(ctx, fresh.ID); err != nil {
		t.Errorf("fresh job was deleted: %v", err)
	}
}

func TestSweepSparesNonTerminalJobs(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	j := job.New("greeter", nil)
	if err := store.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	s := NewSweeper(store, nil, time.Nanosecond, testLogger())
	time.Sleep(time.Millisecond)
	s.Sweep(ctx)

	if _, err := store.GetJob(ctx, j.ID); err != nil {
		t.Errorf("accepted job was deleted: %v", err)
	}
}

func TestSweepRemovesArtifacts(t *testing.T) {
	store := memory.New()
	dir, err := artifact.NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	ctx := context.Background()

	j := terminalJob(t, store, job.StateSuccessful, 2*time.Hour)
	ref, err := dir.Put(ctx, j.ID.String(), strings.NewReader(`{"id":"echo"}`), -1)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	withRef := j.Clone()
	withRef.ResultRef = ref
	if err := store.TransitionJob(ctx, withRef, job.StateSuccessful); err != nil {
		t.Fatalf("attach ref: %v", err)
	}

	s := NewSweeper(store, dir, time.Hour, testLogger())
	s.Sweep(ctx)

	if _, err := store.GetJob(ctx, j.ID); !errors.Is(err, geoapi.ErrUnknownJob) {
		t.Errorf("expired job still present, err = %v", err)
	}
	if _, err := dir.Get(ctx, ref); !errors.Is(err, geoapi.ErrNotFound) {
		t.Errorf("artifact still present, err = %v", err)
	}
}

func TestSweeperStartStop(t *testing.T) {
	store := memory.New()
	old := terminalJob(t, store, job.StateDismissed, time.Hour)

	s := NewSweeper(store, nil, time.Minute, testLogger(), WithInterval(10*time.Millisecond))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := store.GetJob(context.Background(), old.ID); errors.Is(err, geoapi.ErrUnknownJob) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sweeper loop never deleted the expired job")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
