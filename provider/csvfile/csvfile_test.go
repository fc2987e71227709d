package csvfile

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

const stationsCSV = `station_id,name,lon,lat,discharge,measured
ab12,Karlsruhe,8.40,49.01,130.5,2024-01-10
cd34,Stuttgart,9.18,48.78,88,2024-02-20
ef56,Berlin,13.40,52.52,210,2024-03-30
`

func writeStations(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stations.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func stationsBinding(path string) catalog.ProviderBinding {
	return catalog.ProviderBinding{
		Data:       path,
		IDField:    "station_id",
		TitleField: "name",
		TimeField:  "measured",
		XField:     "lon",
		YField:     "lat",
	}
}

func TestNewRequiresCoordinateFields(t *testing.T) {
	path := writeStations(t, stationsCSV)

	tests := []struct {
		name    string
		binding catalog.ProviderBinding
	}{
		{"missing x", catalog.ProviderBinding{Data: path, YField: "lat"}},
		{"missing y", catalog.ProviderBinding{Data: path, XField: "lon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.binding); err == nil {
				t.Fatal("expected a configuration error")
			}
		})
	}
}

func TestQueryBBox(t *testing.T) {
	a, err := New(stationsBinding(writeStations(t, stationsCSV)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	it, err := a.Query(context.Background(), provider.Query{BBox: []float64{8, 48, 10, 50}})
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
	if features[0].ID != "ab12" || features[1].ID != "cd34" {
		t.Errorf("ids = %q, %q", features[0].ID, features[1].ID)
	}
}

func TestQueryNumericProperty(t *testing.T) {
	a, err := New(stationsBinding(writeStations(t, stationsCSV)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	it, err := a.Query(context.Background(), provider.Query{Properties: map[string]string{"discharge": "88"}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	features, err := provider.Collect(it)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(features) != 1 || features[0].ID != "cd34" {
		t.Fatalf("unexpected match: %+v", features)
	}
}

func TestGet(t *testing.T) {
	a, err := New(stationsBinding(writeStations(t, stationsCSV)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	f, err := a.Get(context.Background(), "ef56")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if f.Title != "Berlin" {
		t.Errorf("title = %q", f.Title)
	}
	if f.Time == nil {
		t.Error("declared time field was not parsed")
	}

	if _, err := a.Get(context.Background(), "zz99"); !errors.Is(err, geoapi.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRowIDFallback(t *testing.T) {
	// No id_field: rows are identified by their 1-based data row number.
	b := stationsBinding(writeStations(t, stationsCSV))
	b.IDField = ""
	a, err := New(b)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	f, err := a.Get(context.Background(), "1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if f.Title != "Karlsruhe" {
		t.Errorf("title = %q", f.Title)
	}
}

func TestMalformedCoordinates(t *testing.T) {
	bad := "station_id,name,lon,lat\nx1,Nowhere,not-a-number,49.0\n"
	a, err := New(stationsBinding(writeStations(t, bad)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.Query(context.Background(), provider.Query{}); err == nil {
		t.Fatal("expected a parse error for malformed coordinates")
	}
}

func TestMissingDeclaredColumn(t *testing.T) {
	content := "station_id,name\nx1,Somewhere\n"
	path := writeStations(t, content)
	a, err := New(catalog.ProviderBinding{Data: path, XField: "lon", YField: "lat"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.Query(context.Background(), provider.Query{}); err == nil {
		t.Fatal("expected an error for a missing declared column")
	}
}

func TestDescribeExcludesCoordinateColumns(t *testing.T) {
	a, err := New(stationsBinding(writeStations(t, stationsCSV)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s, err := a.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	for _, fd := range s.Fields {
		if fd.Name == "lon" || fd.Name == "lat" {
			t.Errorf("coordinate column %q leaked into the schema", fd.Name)
		}
	}

	types := make(map[string]string, len(s.Fields))
	for _, fd := range s.Fields {
		types[fd.Name] = fd.Type
	}
	if types["discharge"] != "number" {
		t.Errorf("discharge type = %q, want number", types["discharge"])
	}
	if types["name"] != "string" {
		t.Errorf("name type = %q, want string", types["name"])
	}
}
