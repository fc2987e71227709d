// Package coverage implements the coverage provider over gridded numeric
// data in the ESRI ASCII grid format.
package coverage

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/vforwater/geoapi"
	"github.com/vforwater/geoapi/catalog"
	"github.com/vforwater/geoapi/provider"
)

// Packing schemes understood by the adapter. The declared scheme is used
// verbatim: a value the scheme cannot represent exactly fails the call
// instead of being silently rounded.
const (
	EncodingFloat64 = "float64"
	EncodingFloat32 = "float32"
	EncodingInt16   = "int16"
)

// Adapter serves grid cells from an ASCII grid file. Each cell becomes a
// point feature at the cell centre carrying the packed value.
type Adapter struct {
	binding  catalog.ProviderBinding
	encoding string
}

var _ provider.Adapter = (*Adapter)(nil)

// New creates the adapter and validates the declared packing scheme.
// An undeclared or unknown scheme fails startup.
func New(b catalog.ProviderBinding) (*Adapter, error) {
	enc := b.Options["encoding"]
	if enc == "" {
		enc = EncodingFloat64
	}
	switch enc {
	case EncodingFloat64, EncodingFloat32, EncodingInt16:
	default:
		return nil, fmt.Errorf("coverage: packing scheme %q: %w", enc, geoapi.ErrUnsupportedEncoding)
	}
	if _, err := os.Stat(b.Data); err != nil {
		return nil, fmt.Errorf("coverage: data %s: %w", b.Data, err)
	}
	return &Adapter{binding: b, encoding: enc}, nil
}

// grid is one parsed ASCII grid.
type grid struct {
	ncols, nrows         int
	xll, yll, cellsize   float64
	nodata               float64
	values               [][]float64 // row-major, row 0 is the top row
}

func (a *Adapter) load() (*grid, error) {
	f, err := os.Open(a.binding.Data)
	if err != nil {
		return nil, fmt.Errorf("coverage: open %s: %w", a.binding.Data, err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	g := &grid{nodata: math.NaN()}
	sc := bufio.NewScanner(f)

	headers := map[string]*float64{
		"xllcorner":    &g.xll,
		"yllcorner":    &g.yll,
		"cellsize":     &g.cellsize,
		"nodata_value": &g.nodata,
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		key := strings.ToLower(fields[0])
		switch {
		case key == "ncols" || key == "nrows":
			if len(fields) != 2 {
				return nil, fmt.Errorf("coverage: %s: malformed header %q", a.binding.Data, line)
			}
			n, perr := strconv.Atoi(fields[1])
			if perr != nil {
				return nil, fmt.Errorf("coverage: %s: header %q: %w", a.binding.Data, line, perr)
			}
			if key == "ncols" {
				g.ncols = n
			} else {
				g.nrows = n
			}
		case headers[key] != nil:
			if len(fields) != 2 {
				return nil, fmt.Errorf("coverage: %s: malformed header %q", a.binding.Data, line)
			}
			v, perr := strconv.ParseFloat(fields[1], 64)
			if perr != nil {
				return nil, fmt.Errorf("coverage: %s: header %q: %w", a.binding.Data, line, perr)
			}
			*headers[key] = v
		default:
			// First data row.
			row, perr := parseRow(fields, g.ncols)
			if perr != nil {
				return nil, fmt.Errorf("coverage: %s row %d: %w", a.binding.Data, len(g.values)+1, perr)
			}
			g.values = append(g.values, row)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("coverage: read %s: %w", a.binding.Data, err)
	}

	if g.ncols == 0 || g.nrows == 0 {
		return nil, fmt.Errorf("coverage: %s: missing ncols/nrows header", a.binding.Data)
	}
	if len(g.values) != g.nrows {
		return nil, fmt.Errorf("coverage: %s: expected %d rows, got %d", a.binding.Data, g.nrows, len(g.values))
	}
	return g, nil
}

func parseRow(fields []string, ncols int) ([]float64, error) {
	if len(fields) != ncols {
		return nil, fmt.Errorf("expected %d columns, got %d", ncols, len(fields))
	}
	row := make([]float64, ncols)
	for i, s := range fields {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		row[i] = v
	}
	return row, nil
}

// pack applies the declared packing scheme to a cell value.
func (a *Adapter) pack(v float64) (float64, error) {
	switch a.encoding {
	case EncodingFloat64:
		return v, nil
	case EncodingFloat32:
		return float64(float32(v)), nil
	case EncodingInt16:
		if v != math.Trunc(v) || v < math.MinInt16 || v > math.MaxInt16 {
			return 0, fmt.Errorf("coverage: value %g does not fit int16 packing: %w", v, geoapi.ErrUnsupportedEncoding)
		}
		return v, nil
	}
	return 0, fmt.Errorf("coverage: packing scheme %q: %w", a.encoding, geoapi.ErrUnsupportedEncoding)
}

// cellFeature builds the point feature for grid cell (row, col).
func (g *grid) cellFeature(row, col int, packed float64) *provider.Feature {
	cx := g.xll + (float64(col)+0.5)*g.cellsize
	cy := g.yll + (float64(g.nrows-1-row)+0.5)*g.cellsize

	cid := fmt.Sprintf("%d_%d", row, col)
	return &provider.Feature{
		ID:       cid,
		Title:    cid,
		Geometry: orb.Point{cx, cy},
		Properties: map[string]any{
			"value": packed,
			"row":   float64(row),
			"col":   float64(col),
		},
	}
}

func (g *grid) isNoData(v float64) bool {
	return !math.IsNaN(g.nodata) && v == g.nodata
}

// Query returns the non-nodata cells whose centre falls inside the bbox.
func (a *Adapter) Query(_ context.Context, q provider.Query) (provider.Iterator, error) {
	g, err := a.load()
	if err != nil {
		return nil, err
	}

	bound, hasBBox := q.Bound()

	var matched []*provider.Feature
	for row := range g.values {
		for col, v := range g.values[row] {
			if g.isNoData(v) {
				continue
			}
			packed, perr := a.pack(v)
			if perr != nil {
				return nil, perr
			}
			f := g.cellFeature(row, col, packed)
			if hasBBox && !bound.Contains(f.Geometry.(orb.Point)) {
				continue
			}
			if !provider.MatchProperties(f.Properties, q.Properties) {
				continue
			}
			matched = append(matched, f)
		}
	}

	return provider.NewSliceIterator(provider.Page(matched, q.Offset, q.Limit)), nil
}

// Get returns the cell with id "row_col".
func (a *Adapter) Get(_ context.Context, cid string) (*provider.Feature, error) {
	var row, col int
	if _, err := fmt.Sscanf(cid, "%d_%d", &row, &col); err != nil {
		return nil, fmt.Errorf("coverage: cell %q: %w", cid, geoapi.ErrNotFound)
	}

	g, err := a.load()
	if err != nil {
		return nil, err
	}
	if row < 0 || row >= g.nrows || col < 0 || col >= g.ncols {
		return nil, fmt.Errorf("coverage: cell %q: %w", cid, geoapi.ErrNotFound)
	}
	v := g.values[row][col]
	if g.isNoData(v) {
		return nil, fmt.Errorf("coverage: cell %q is nodata: %w", cid, geoapi.ErrNotFound)
	}

	packed, err := a.pack(v)
	if err != nil {
		return nil, err
	}
	return g.cellFeature(row, col, packed), nil
}

// Describe reports the grid shape and the declared packing scheme.
func (a *Adapter) Describe(_ context.Context) (*provider.Schema, error) {
	g, err := a.load()
	if err != nil {
		return nil, err
	}

	extra := map[string]any{
		"ncols":    g.ncols,
		"nrows":    g.nrows,
		"cellsize": g.cellsize,
		"encoding": a.encoding,
		"bbox": []float64{
			g.xll, g.yll,
			g.xll + float64(g.ncols)*g.cellsize,
			g.yll + float64(g.nrows)*g.cellsize,
		},
	}
	if !math.IsNaN(g.nodata) {
		extra["nodata"] = g.nodata
	}

	return &provider.Schema{
		Fields: []provider.FieldDef{
			{Name: "value", Type: "number"},
			{Name: "row", Type: "number"},
			{Name: "col", Type: "number"},
		},
		Extra: extra,
	}, nil
}
