// Package stac implements the STAC item provider over a filesystem tree,
// exposing files that match a configured type whitelist as catalog items.
package stac

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vforwater/geoapi"
	"github.com/vforwater/geoapi/catalog"
	"github.com/vforwater/geoapi/provider"
)

// Adapter walks a directory tree and serves the files whose extension is
// whitelisted. Item IDs are slash-separated paths relative to the root.
type Adapter struct {
	binding catalog.ProviderBinding
	root    string
	// exts is the lowercase extension whitelist; empty admits every file.
	exts map[string]struct{}
}

var _ provider.Adapter = (*Adapter)(nil)

// New creates the adapter. The data locator must be an existing
// directory; the optional file_types option is a comma-separated
// extension whitelist (".tif,.grib2").
func New(b catalog.ProviderBinding) (*Adapter, error) {
	info, err := os.Stat(b.Data)
	if err != nil {
		return nil, fmt.Errorf("stac: data %s: %w", b.Data, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("stac: data %s: not a directory", b.Data)
	}

	exts := make(map[string]struct{})
	if raw := b.Options["file_types"]; raw != "" {
		for _, e := range strings.Split(raw, ",") {
			e = strings.ToLower(strings.TrimSpace(e))
			if e == "" {
				continue
			}
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			exts[e] = struct{}{}
		}
	}

	return &Adapter{binding: b, root: filepath.Clean(b.Data), exts: exts}, nil
}

func (a *Adapter) admitted(name string) bool {
	if len(a.exts) == 0 {
		return true
	}
	_, ok := a.exts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// item builds the catalog item for one file.
func (a *Adapter) item(rel string, info fs.FileInfo) *provider.Feature {
	mtime := info.ModTime().UTC()
	return &provider.Feature{
		ID:    filepath.ToSlash(rel),
		Title: filepath.Base(rel),
		Properties: map[string]any{
			"size":     float64(info.Size()),
			"updated":  mtime.Format("2006-01-02T15:04:05Z07:00"),
			"file:ext": strings.ToLower(filepath.Ext(rel)),
		},
		Time: &mtime,
	}
}

// Query walks the tree and returns the whitelisted files matching the
// datetime and property filters, ordered by item id.
func (a *Adapter) Query(_ context.Context, q provider.Query) (provider.Iterator, error) {
	var matched []*provider.Feature

	err := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if d.IsDir() || !a.admitted(d.Name()) {
			return nil
		}

		info, ierr := d.Info()
		if ierr != nil {
			return ierr
		}
		rel, rerr := filepath.Rel(a.root, path)
		if rerr != nil {
			return rerr
		}

		f := a.item(rel, info)
		if q.Datetime != nil && !q.Datetime.Contains(*f.Time) {
			return nil
		}
		if !provider.MatchProperties(f.Properties, q.Properties) {
			return nil
		}
		matched = append(matched, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stac: walk %s: %w", a.root, err)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	return provider.NewSliceIterator(provider.Page(matched, q.Offset, q.Limit)), nil
}

// Get returns the item with the given relative path id. Paths escaping
// the root are rejected as not found.
func (a *Adapter) Get(_ context.Context, id string) (*provider.Feature, error) {
	rel := filepath.FromSlash(id)
	full := filepath.Join(a.root, rel)
	if !strings.HasPrefix(full, a.root+string(filepath.Separator)) {
		return nil, fmt.Errorf("stac: item %q: %w", id, geoapi.ErrNotFound)
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() || !a.admitted(info.Name()) {
		return nil, fmt.Errorf("stac: item %q: %w", id, geoapi.ErrNotFound)
	}
	return a.item(rel, info), nil
}

// Describe reports the root and whitelist.
func (a *Adapter) Describe(_ context.Context) (*provider.Schema, error) {
	exts := make([]string, 0, len(a.exts))
	for e := range a.exts {
		exts = append(exts, e)
	}
	sort.Strings(exts)

	return &provider.Schema{
		Fields: []provider.FieldDef{
			{Name: "size", Type: "number"},
			{Name: "updated", Type: "string"},
			{Name: "file:ext", Type: "string"},
		},
		Extra: map[string]any{
			"root":       a.root,
			"file_types": exts,
		},
	}, nil
}
