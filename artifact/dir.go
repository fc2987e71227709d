package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vforwater/geoapi"
)

var _ Store = (*Dir)(nil)

// Dir stores artifacts as files under a single directory. References
// are the file names relative to the root.
type Dir struct {
	root string
}

// NewDir creates the directory if needed and returns a filesystem
// artifact store rooted there.
func NewDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("geoapi/artifact: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("geoapi/artifact: create root: %w", err)
	}
	return &Dir{root: abs}, nil
}

// Root returns the absolute directory artifacts are written to.
func (d *Dir) Root() string { return d.root }

// Put writes the payload to a file named after key.
func (d *Dir) Put(_ context.Context, key string, r io.Reader, _ int64) (string, error) {
	ref := key + ".json"
	path, err := d.resolve(ref)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(d.root, "put-*")
	if err != nil {
		return "", fmt.Errorf("geoapi/artifact: create temp: %w", err)
	}
	tmp := f.Name()

	if _, err = io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("geoapi/artifact: write %s: %w", ref, err)
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("geoapi/artifact: close %s: %w", ref, err)
	}
	// Rename so readers never observe a partial artifact.
	if err = os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("geoapi/artifact: rename %s: %w", ref, err)
	}
	return ref, nil
}

// Get opens the artifact file behind ref.
func (d *Dir) Get(_ context.Context, ref string) (io.ReadCloser, error) {
	path, err := d.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, geoapi.ErrNotFound
		}
		return nil, fmt.Errorf("geoapi/artifact: open %s: %w", ref, err)
	}
	return f, nil
}

// Remove deletes the artifact file behind ref.
func (d *Dir) Remove(_ context.Context, ref string) error {
	path, err := d.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return geoapi.ErrNotFound
		}
		return fmt.Errorf("geoapi/artifact: remove %s: %w", ref, err)
	}
	return nil
}

// resolve maps a reference to a path inside the root, rejecting
// references that would escape it.
func (d *Dir) resolve(ref string) (string, error) {
	path := filepath.Join(d.root, filepath.FromSlash(ref))
	if path != d.root && !strings.HasPrefix(path, d.root+string(filepath.Separator)) {
		return "", fmt.Errorf("geoapi/artifact: reference %q escapes store root", ref)
	}
	return path, nil
}
