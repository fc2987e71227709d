// Package artifact stores job result payloads outside the job record.
// A job whose result lives here carries only the artifact reference;
// the store resolves the reference back to the payload on demand.
package artifact

import (
	"context"
	"io"
)

// Store persists result artifacts keyed by an opaque reference. The
// reference returned by Put must be passed verbatim to Get and Remove.
type Store interface {
	// Put writes the payload and returns its reference. size may be -1
	// when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64) (ref string, err error)

	// Get opens the artifact for reading. Returns geoapi.ErrNotFound
	// when the reference does not resolve. The caller closes the reader.
	Get(ctx context.Context, ref string) (io.ReadCloser, error)

	// Remove deletes the artifact. Returns geoapi.ErrNotFound when the
	// reference does not resolve.
	Remove(ctx context.Context, ref string) error
}
