// Package provider defines the capability interface fulfilled by every
// data backend: querying, point lookup, and schema description. Concrete
// adapters live in subpackages (csvfile, geojson, coverage, mongo, stac);
// the dispatcher package selects among them per resource.
package provider

import (
	"context"
	"time"

	"github.com/paulmach/orb"

	"github.com/vforwater/geoapi/catalog"
)

// Operation is a category of read access against a resource. Each
// operation is fulfilled by exactly one provider type.
type Operation string

const (
	// OpFeatures queries vector features.
	OpFeatures Operation = "features"
	// OpCoverage reads gridded numeric data.
	OpCoverage Operation = "coverage"
	// OpRecords queries documents.
	OpRecords Operation = "records"
	// OpItems browses STAC items.
	OpItems Operation = "items"
)

// ProviderType returns the provider type tag that fulfils the operation,
// or false for an unrecognized operation.
func (o Operation) ProviderType() (catalog.ProviderType, bool) {
	switch o {
	case OpFeatures:
		return catalog.TypeFeature, true
	case OpCoverage:
		return catalog.TypeCoverage, true
	case OpRecords:
		return catalog.TypeRecord, true
	case OpItems:
		return catalog.TypeStac, true
	}
	return "", false
}

// Feature is one item returned by an adapter: a vector feature, a
// document record, a coverage cell, or a STAC item.
type Feature struct {
	// ID is the item identifier within its collection.
	ID string `json:"id"`
	// Title comes from the binding's title field, falling back to ID.
	Title string `json:"title"`
	// Geometry is nil for non-spatial records.
	Geometry orb.Geometry `json:"-"`
	// Properties carries the item's attributes.
	Properties map[string]any `json:"properties"`
	// Time is populated when the binding declares a time field.
	Time *time.Time `json:"time,omitempty"`
}

// TimeRange bounds a query in time. A nil end is open.
type TimeRange struct {
	Begin *time.Time
	End   *time.Time
}

// Contains reports whether t falls inside the range.
func (r *TimeRange) Contains(t time.Time) bool {
	if r.Begin != nil && t.Before(*r.Begin) {
		return false
	}
	if r.End != nil && t.After(*r.End) {
		return false
	}
	return true
}

// Query is the adapter-interpreted filter for a resource query.
type Query struct {
	// BBox filters spatially: [minx, miny, maxx, maxy]. Empty disables.
	BBox []float64
	// Datetime filters on the binding's declared time field.
	Datetime *TimeRange
	// Properties are equality filters on item attributes.
	Properties map[string]string
	// Offset and Limit page the result sequence. Limit zero means all.
	Offset int
	Limit  int
}

// Bound converts the query bbox to an orb.Bound. ok is false when no
// bbox filter was given.
func (q Query) Bound() (orb.Bound, bool) {
	if len(q.BBox) < 4 {
		return orb.Bound{}, false
	}
	return orb.Bound{
		Min: orb.Point{q.BBox[0], q.BBox[1]},
		Max: orb.Point{q.BBox[2], q.BBox[3]},
	}, true
}

// FieldDef describes one attribute of a collection.
type FieldDef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Schema is the field metadata an adapter exposes through Describe.
type Schema struct {
	Fields     []FieldDef `json:"fields"`
	IDField    string     `json:"id_field,omitempty"`
	TitleField string     `json:"title_field,omitempty"`
	TimeField  string     `json:"time_field,omitempty"`
	// Extra holds adapter-specific metadata (grid shape, whitelists).
	Extra map[string]any `json:"extra,omitempty"`
}

// Iterator is a finite, lazily-produced sequence of features. Every Query
// call returns a fresh iterator; iterators are not safe for concurrent
// use but independent iterators are.
type Iterator interface {
	// Next advances the iterator. It returns false when the sequence is
	// exhausted or an error occurred; check Err afterwards.
	Next() bool
	// Item returns the current feature. Only valid after Next returned true.
	Item() *Feature
	// Err returns the first error encountered while iterating.
	Err() error
	// Close releases resources held by the iterator.
	Close() error
}

// Adapter executes read operations against one physical data source.
// Implementations must not share mutable state across calls: concurrent
// queries against the same binding are independent, and an I/O failure in
// one call must not poison the next.
type Adapter interface {
	// Query returns a finite sequence of features matching q.
	Query(ctx context.Context, q Query) (Iterator, error)
	// Get returns the single feature with the given id, or
	// geoapi.ErrNotFound.
	Get(ctx context.Context, id string) (*Feature, error)
	// Describe returns the adapter's field metadata.
	Describe(ctx context.Context) (*Schema, error)
}

// sliceIterator adapts an in-memory feature slice to the Iterator
// contract. Most file-backed adapters materialize their (small) filtered
// result and wrap it here.
type sliceIterator struct {
	items []*Feature
	pos   int
}

// NewSliceIterator wraps an already-filtered feature slice.
func NewSliceIterator(items []*Feature) Iterator {
	return &sliceIterator{items: items, pos: -1}
}

func (s *sliceIterator) Next() bool {
	if s.pos+1 >= len(s.items) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceIterator) Item() *Feature { return s.items[s.pos] }
func (s *sliceIterator) Err() error     { return nil }
func (s *sliceIterator) Close() error   { return nil }

// Collect drains an iterator into a slice, closing it afterwards.
func Collect(it Iterator) ([]*Feature, error) {
	defer it.Close() //nolint:errcheck // close error is secondary to Err

	var out []*Feature
	for it.Next() {
		out = append(out, it.Item())
	}
	return out, it.Err()
}

// Page applies offset/limit paging to a filtered slice. Negative
// offsets are treated as zero.
func Page(items []*Feature, offset, limit int) []*Feature {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
