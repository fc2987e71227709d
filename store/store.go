// Package store defines the aggregate persistence interface backing the
// job manager. Backends: Postgres, Bun, Redis, and Memory. A backend
// implements the job store contract plus lifecycle management.
package store

import (
	"context"

	"github.com/vforwater/geoapi/job"
)

// Store is the aggregate persistence interface.
type Store interface {
	job.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
