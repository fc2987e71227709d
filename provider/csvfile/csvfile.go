// Package csvfile implements the feature provider over delimited-text
// data with declared coordinate columns.
package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/paulmach/orb"

	"github.com/vforwater/geoapi"
	"github.com/vforwater/geoapi/catalog"
	"github.com/vforwater/geoapi/provider"
)

// Adapter serves point features from a delimited text file. Coordinates
// come from the binding's x/y fields; all remaining columns become
// properties (numeric where they parse as numbers).
type Adapter struct {
	binding catalog.ProviderBinding
}

var _ provider.Adapter = (*Adapter)(nil)

// New creates the adapter. The x and y field mappings are required for
// tabular data; their absence is a configuration error.
func New(b catalog.ProviderBinding) (*Adapter, error) {
	if b.XField == "" || b.YField == "" {
		return nil, fmt.Errorf("csvfile: binding for %s: x_field and y_field are required", b.Data)
	}
	if _, err := os.Stat(b.Data); err != nil {
		return nil, fmt.Errorf("csvfile: data %s: %w", b.Data, err)
	}
	return &Adapter{binding: b}, nil
}

func (a *Adapter) load() ([]*provider.Feature, []string, error) {
	f, err := os.Open(a.binding.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("csvfile: open %s: %w", a.binding.Data, err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("csvfile: read header %s: %w", a.binding.Data, err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{a.binding.XField, a.binding.YField} {
		if _, ok := col[required]; !ok {
			return nil, nil, fmt.Errorf("csvfile: %s: missing declared column %q", a.binding.Data, required)
		}
	}

	var features []*provider.Feature
	for line := 2; ; line++ {
		rec, rerr := r.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, nil, fmt.Errorf("csvfile: %s line %d: %w", a.binding.Data, line, rerr)
		}

		x, xerr := strconv.ParseFloat(rec[col[a.binding.XField]], 64)
		y, yerr := strconv.ParseFloat(rec[col[a.binding.YField]], 64)
		if xerr != nil || yerr != nil {
			return nil, nil, fmt.Errorf("csvfile: %s line %d: malformed coordinates", a.binding.Data, line)
		}

		props := make(map[string]any, len(header)-2)
		for name, i := range col {
			if name == a.binding.XField || name == a.binding.YField {
				continue
			}
			props[name] = parseValue(rec[i])
		}

		ft := &provider.Feature{
			Geometry:   orb.Point{x, y},
			Properties: props,
		}
		ft.ID = a.rowID(props, line)
		ft.Title = ft.ID
		if tf := a.binding.TitleField; tf != "" {
			if title, ok := props[tf].(string); ok && title != "" {
				ft.Title = title
			}
		}
		if tf := a.binding.TimeField; tf != "" {
			if raw, ok := props[tf].(string); ok {
				if t, perr := provider.ParseTime(raw); perr == nil {
					ft.Time = &t
				}
			}
		}

		features = append(features, ft)
	}

	sort.Strings(header)
	return features, header, nil
}

// rowID resolves the item identifier from the configured id column,
// falling back to the 1-based data row number.
func (a *Adapter) rowID(props map[string]any, line int) string {
	if a.binding.IDField != "" {
		if v, ok := props[a.binding.IDField]; ok {
			return fmt.Sprint(v)
		}
	}
	return strconv.Itoa(line - 1)
}

// parseValue keeps numerics numeric so property filters and schema
// inference behave like the other feature adapters.
func parseValue(s string) any {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}

// Query returns the rows whose point falls inside the query bbox and
// which match the datetime and property filters.
func (a *Adapter) Query(_ context.Context, q provider.Query) (provider.Iterator, error) {
	features, _, err := a.load()
	if err != nil {
		return nil, err
	}

	bound, hasBBox := q.Bound()

	matched := make([]*provider.Feature, 0, len(features))
	for _, f := range features {
		if hasBBox && !bound.Contains(f.Geometry.(orb.Point)) {
			continue
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

// Get returns the row with the given id.
func (a *Adapter) Get(_ context.Context, id string) (*provider.Feature, error) {
	features, _, err := a.load()
	if err != nil {
		return nil, err
	}
	for _, f := range features {
		if f.ID == id {
			return f, nil
		}
	}
	return nil, fmt.Errorf("csvfile: row %q: %w", id, geoapi.ErrNotFound)
}

// Describe reports the columns of the file.
func (a *Adapter) Describe(_ context.Context) (*provider.Schema, error) {
	features, header, err := a.load()
	if err != nil {
		return nil, err
	}

	s := &provider.Schema{
		IDField:    a.binding.IDField,
		TitleField: a.binding.TitleField,
		TimeField:  a.binding.TimeField,
	}

	var sample map[string]any
	if len(features) > 0 {
		sample = features[0].Properties
	}
	for _, name := range header {
		if name == a.binding.XField || name == a.binding.YField {
			continue
		}
		ftype := "string"
		if v, ok := sample[name]; ok {
			ftype = provider.FieldType(v)
		}
		s.Fields = append(s.Fields, provider.FieldDef{Name: name, Type: ftype})
	}
	return s, nil
}
