// Package geojson implements the feature provider over a native GeoJSON
// FeatureCollection document.
package geojson

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/paulmach/orb/geojson"

	"github.com/vforwater/geoapi"
	"github.com/vforwater/geoapi/catalog"
	"github.com/vforwater/geoapi/provider"
)

// Adapter serves features from a GeoJSON file. The file is re-read on
// every call so adapters hold no mutable state and per-call I/O failures
// are not sticky.
type Adapter struct {
	binding catalog.ProviderBinding
}

var _ provider.Adapter = (*Adapter)(nil)

// New creates the adapter and verifies the data file is reachable.
// A missing file is a configuration error and fails startup.
func New(b catalog.ProviderBinding) (*Adapter, error) {
	if _, err := os.Stat(b.Data); err != nil {
		return nil, fmt.Errorf("geojson: data %s: %w", b.Data, err)
	}
	return &Adapter{binding: b}, nil
}

// load reads and decodes the whole collection.
func (a *Adapter) load() ([]*provider.Feature, error) {
	data, err := os.ReadFile(a.binding.Data)
	if err != nil {
		return nil, fmt.Errorf("geojson: read %s: %w", a.binding.Data, err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("geojson: decode %s: %w", a.binding.Data, err)
	}

	out := make([]*provider.Feature, 0, len(fc.Features))
	for _, gf := range fc.Features {
		f := &provider.Feature{
			Geometry:   gf.Geometry,
			Properties: map[string]any(gf.Properties),
		}

		f.ID = a.featureID(gf)
		f.Title = f.ID
		if a.binding.TitleField != "" {
			if title, ok := gf.Properties[a.binding.TitleField].(string); ok && title != "" {
				f.Title = title
			}
		}
		if tf := a.binding.TimeField; tf != "" {
			if raw, ok := gf.Properties[tf].(string); ok {
				if t, perr := provider.ParseTime(raw); perr == nil {
					f.Time = &t
				}
			}
		}

		out = append(out, f)
	}
	return out, nil
}

// featureID resolves the item identifier: the configured id field wins,
// then the top-level GeoJSON feature id.
func (a *Adapter) featureID(gf *geojson.Feature) string {
	if a.binding.IDField != "" {
		if v, ok := gf.Properties[a.binding.IDField]; ok {
			return fmt.Sprint(v)
		}
	}
	if gf.ID != nil {
		return fmt.Sprint(gf.ID)
	}
	return ""
}

// Query returns the features intersecting the query bbox and matching the
// datetime and property filters.
func (a *Adapter) Query(_ context.Context, q provider.Query) (provider.Iterator, error) {
	features, err := a.load()
	if err != nil {
		return nil, err
	}

	bound, hasBBox := q.Bound()

	matched := make([]*provider.Feature, 0, len(features))
	for _, f := range features {
		if hasBBox {
			if f.Geometry == nil || !f.Geometry.Bound().Intersects(bound) {
				continue
			}
		}
		if q.Datetime != nil {
			if f.Time == nil || !q.Datetime.Contains(*f.Time) {
				continue
			}
		}
		if !provider.MatchProperties(f.Properties, q.Properties) {
			continue
		}
		matched = append(matched, f)
	}

	return provider.NewSliceIterator(provider.Page(matched, q.Offset, q.Limit)), nil
}

// Get returns the feature with the given id.
func (a *Adapter) Get(_ context.Context, id string) (*provider.Feature, error) {
	features, err := a.load()
	if err != nil {
		return nil, err
	}
	for _, f := range features {
		if f.ID == id {
			return f, nil
		}
	}
	return nil, fmt.Errorf("geojson: feature %q: %w", id, geoapi.ErrNotFound)
}

// Describe infers field metadata from the first feature.
func (a *Adapter) Describe(_ context.Context) (*provider.Schema, error) {
	features, err := a.load()
	if err != nil {
		return nil, err
	}

	s := &provider.Schema{
		IDField:    a.binding.IDField,
		TitleField: a.binding.TitleField,
		TimeField:  a.binding.TimeField,
	}
	if len(features) == 0 {
		return s, nil
	}

	names := make([]string, 0, len(features[0].Properties))
	for name := range features[0].Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s.Fields = append(s.Fields, provider.FieldDef{
			Name: name,
			Type: provider.FieldType(features[0].Properties[name]),
		})
	}
	return s, nil
}
