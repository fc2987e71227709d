package manager

import (
	"context"
	"sync"
	"time"

	"github.com/vforwater/geoapi/ext"
	"github.com/vforwater/geoapi/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*waiters)(nil)
	_ ext.JobCompleted = (*waiters)(nil)
	_ ext.JobFailed    = (*waiters)(nil)
	_ ext.JobDismissed = (*waiters)(nil)
)

// waiters is the extension that wakes synchronous submitters. Each
// sync Submit registers a buffered channel under its job ID; any
// terminal lifecycle event delivers the terminal record to every
// registered channel.
type waiters struct {
	mu    sync.Mutex
	chans map[string][]chan *job.Job
}

func newWaiters() *waiters {
	return &waiters{chans: make(map[string][]chan *job.Job)}
}

func (w *waiters) Name() string { return "sync-waiters" }

// add registers a waiter channel for the job. The channel is buffered
// so the notifying goroutine never blocks.
func (w *waiters) add(jobID string) chan *job.Job {
	ch := make(chan *job.Job, 1)
	w.mu.Lock()
	w.chans[jobID] = append(w.chans[jobID], ch)
	w.mu.Unlock()
	return ch
}

// remove unregisters a waiter channel.
func (w *waiters) remove(jobID string, ch chan *job.Job) {
	w.mu.Lock()
	defer w.mu.Unlock()

	remaining := w.chans[jobID][:0]
	for _, c := range w.chans[jobID] {
		if c != ch {
			remaining = append(remaining, c)
		}
	}
	if len(remaining) == 0 {
		delete(w.chans, jobID)
	} else {
		w.chans[jobID] = remaining
	}
}

func (w *waiters) notify(j *job.Job) {
	w.mu.Lock()
	chans := w.chans[j.ID.String()]
	delete(w.chans, j.ID.String())
	w.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- j.Clone():
		default:
		}
	}
}

func (w *waiters) OnJobCompleted(_ context.Context, j *job.Job, _ time.Duration) error {
	w.notify(j)
	return nil
}

func (w *waiters) OnJobFailed(_ context.Context, j *job.Job, _ error) error {
	w.notify(j)
	return nil
}

func (w *waiters) OnJobDismissed(_ context.Context, j *job.Job) error {
	w.notify(j)
	return nil
}
