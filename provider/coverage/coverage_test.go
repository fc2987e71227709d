package coverage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vforwater/geoapi"
	"github.com/vforwater/geoapi/catalog"
	"github.com/vforwater/geoapi/provider"
)

const demGrid = `ncols 3
nrows 2
xllcorner 10.0
yllcorner 50.0
cellsize 1.0
NODATA_value -9999
1.5 2 -9999
4 5.25 6
`

func writeGrid(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dem.asc")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func newAdapter(t *testing.T, b catalog.ProviderBinding) *Adapter {
	t.Helper()
	a, err := New(b)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNewRejectsUnknownEncoding(t *testing.T) {
	b := catalog.ProviderBinding{
		Data:    writeGrid(t, demGrid),
		Options: map[string]string{"encoding": "uint4"},
	}
	if _, err := New(b); !errors.Is(err, geoapi.ErrUnsupportedEncoding) {
		t.Fatalf("err = %v, want ErrUnsupportedEncoding", err)
	}
}

func TestQuerySkipsNoData(t *testing.T) {
	a := newAdapter(t, catalog.ProviderBinding{Data: writeGrid(t, demGrid)})

	it, err := a.Query(context.Background(), provider.Query{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	features, err := provider.Collect(it)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	// Six cells, one nodata.
	if len(features) != 5 {
		t.Fatalf("len(features) = %d, want 5", len(features))
	}
	for _, f := range features {
		if f.Properties["value"] == -9999.0 {
			t.Errorf("nodata cell %s leaked into the result", f.ID)
		}
	}
}

func TestQueryBBox(t *testing.T) {
	a := newAdapter(t, catalog.ProviderBinding{Data: writeGrid(t, demGrid)})

	// Covers only the bottom-left cell centre (10.5, 50.5): row 1, col 0.
	it, err := a.Query(context.Background(), provider.Query{BBox: []float64{10, 50, 11, 51}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	features, err := provider.Collect(it)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(features) != 1 {
		t.Fatalf("len(features) = %d, want 1", len(features))
	}
	if features[0].ID != "1_0" {
		t.Errorf("id = %q, want 1_0", features[0].ID)
	}
	if features[0].Properties["value"] != 4.0 {
		t.Errorf("value = %v, want 4", features[0].Properties["value"])
	}
}

func TestGetCell(t *testing.T) {
	a := newAdapter(t, catalog.ProviderBinding{Data: writeGrid(t, demGrid)})

	f, err := a.Get(context.Background(), "0_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if f.Properties["value"] != 2.0 {
		t.Errorf("value = %v, want 2", f.Properties["value"])
	}

	tests := []struct {
		name string
		id   string
	}{
		{"nodata cell", "0_2"},
		{"out of range", "9_9"},
		{"malformed id", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.Get(context.Background(), tt.id); !errors.Is(err, geoapi.ErrNotFound) {
				t.Fatalf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestInt16PackingRejectsFractions(t *testing.T) {
	b := catalog.ProviderBinding{
		Data:    writeGrid(t, demGrid),
		Options: map[string]string{"encoding": EncodingInt16},
	}
	a := newAdapter(t, b)

	// The grid contains 1.5 and 5.25: int16 packing cannot represent
	// them exactly and must fail rather than round.
	if _, err := a.Query(context.Background(), provider.Query{}); !errors.Is(err, geoapi.ErrUnsupportedEncoding) {
		t.Fatalf("err = %v, want ErrUnsupportedEncoding", err)
	}
}

func TestInt16PackingAcceptsIntegers(t *testing.T) {
	intGrid := `ncols 2
nrows 1
xllcorner 0
yllcorner 0
cellsize 1
7 -3
`
	b := catalog.ProviderBinding{
		Data:    writeGrid(t, intGrid),
		Options: map[string]string{"encoding": EncodingInt16},
	}
	a := newAdapter(t, b)

	it, err := a.Query(context.Background(), provider.Query{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	features, err := provider.Collect(it)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(features) != 2 {
		t.Fatalf("len(features) = %d, want 2", len(features))
	}
}

func TestMalformedGrid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing shape", "xllcorner 0\nyllcorner 0\ncellsize 1\n1 2\n"},
		{"row count mismatch", "ncols 2\nnrows 3\nxllcorner 0\nyllcorner 0\ncellsize 1\n1 2\n"},
		{"column count mismatch", "ncols 3\nnrows 1\nxllcorner 0\nyllcorner 0\ncellsize 1\n1 2\n"},
		{"non-numeric cell", "ncols 2\nnrows 1\nxllcorner 0\nyllcorner 0\ncellsize 1\n1 x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAdapter(t, catalog.ProviderBinding{Data: writeGrid(t, tt.content)})
			if _, err := a.Query(context.Background(), provider.Query{}); err == nil {
				t.Fatal("expected a parse error")
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	a := newAdapter(t, catalog.ProviderBinding{Data: writeGrid(t, demGrid)})

	s, err := a.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if s.Extra["ncols"] != 3 || s.Extra["nrows"] != 2 {
		t.Errorf("grid shape = %v x %v", s.Extra["ncols"], s.Extra["nrows"])
	}
	if s.Extra["encoding"] != EncodingFloat64 {
		t.Errorf("encoding = %v", s.Extra["encoding"])
	}
	bbox, ok := s.Extra["bbox"].([]float64)
	if !ok || len(bbox) != 4 {
		t.Fatalf("bbox = %v", s.Extra["bbox"])
	}
	if bbox[2] != 13 || bbox[3] != 52 {
		t.Errorf("bbox max = %v", bbox[2:])
	}
}
