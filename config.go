package geoapi

import "time"

// Config holds runtime tunables for the job manager and its worker pool.
type Config struct {
	// Concurrency is the maximum number of jobs executing concurrently.
	Concurrency int

	// QueueDepth caps how many jobs may sit in the accepted state before
	// further submissions fail with ErrOverloaded. Zero means unbounded.
	QueueDepth int

	// PollInterval is how often idle workers poll the store for
	// accepted jobs.
	PollInterval time.Duration

	// SyncTimeout bounds synchronous submissions. When it elapses the
	// caller gets ErrExecutionTimeout while the job keeps running.
	// Zero means wait until the job is terminal.
	SyncTimeout time.Duration

	// ExecutionTimeout cancels a handler's context after this duration.
	// The job then fails with the handler's error. Zero means handlers
	// run unbounded.
	ExecutionTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	// before in-flight handlers are cancelled.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     10,
		QueueDepth:      0,
		PollInterval:    500 * time.Millisecond,
		SyncTimeout:     0,
		ShutdownTimeout: 30 * time.Second,
	}
}
