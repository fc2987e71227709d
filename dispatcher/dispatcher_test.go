package dispatcher

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

const lakesDoc = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "id": "1",
      "geometry": {"type": "Point", "coordinates": [8.4, 49.0]},
      "properties": {"name": "Mummelsee"}
    }
  ]
}`

func geojsonFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lakes.geojson")
	if err := os.WriteFile(path, []byte(lakesDoc), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func lakesResource(t *testing.T) *catalog.ResourceDefinition {
	t.Helper()
	return &catalog.ResourceDefinition{
		ID:   "lakes",
		Kind: catalog.KindCollection,
		Providers: []catalog.ProviderBinding{
			{Type: catalog.TypeFeature, Name: "geojson", Data: geojsonFile(t)},
		},
	}
}

func TestNewRejectsMalformedBindings(t *testing.T) {
	tests := []struct {
		name    string
		binding catalog.ProviderBinding
	}{
		{
			name:    "unknown adapter name",
			binding: catalog.ProviderBinding{Type: catalog.TypeFeature, Name: "shapefile", Data: "x"},
		},
		{
			name:    "unknown type tag",
			binding: catalog.ProviderBinding{Type: "tile", Name: "geojson", Data: "x"},
		},
		{
			name:    "unreachable data source",
			binding: catalog.ProviderBinding{Type: catalog.TypeFeature, Name: "geojson", Data: "/nonexistent/lakes.geojson"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New([]*catalog.ResourceDefinition{{
				ID:        "broken",
				Kind:      catalog.KindCollection,
				Providers: []catalog.ProviderBinding{tt.binding},
			}})
			if err == nil {
				t.Fatal("expected construction to fail")
			}
		})
	}
}

func TestResolve(t *testing.T) {
	d, err := New([]*catalog.ResourceDefinition{
		lakesResource(t),
		{ID: "windspeed", Kind: catalog.KindProcess},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name     string
		resource string
		op       provider.Operation
		wantErr  error
	}{
		{"feature provider found", "lakes", provider.OpFeatures, nil},
		{"unknown resource", "rivers", provider.OpFeatures, geoapi.ErrUnknownResource},
		{"unknown operation", "lakes", provider.Operation("tiles"), geoapi.ErrUnsupportedOperation},
		{"process kind has no providers", "windspeed", provider.OpFeatures, geoapi.ErrUnsupportedOperation},
		{"no provider of required type", "lakes", provider.OpCoverage, geoapi.ErrNoCompatibleProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, binding, err := d.Resolve(tt.resource, tt.op)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if adapter == nil || binding == nil {
				t.Fatal("Resolve returned nil adapter or binding")
			}
			if binding.Name != "geojson" {
				t.Errorf("binding name = %q", binding.Name)
			}
		})
	}
}

func TestQueryGetDescribe(t *testing.T) {
	d, err := New([]*catalog.ResourceDefinition{lakesResource(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	it, err := d.Query(ctx, "lakes", provider.OpFeatures, provider.Query{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	items, err := provider.Collect(it)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(items) != 1 || items[0].ID != "1" {
		t.Fatalf("items = %v", items)
	}

	f, err := d.Get(ctx, "lakes", provider.OpFeatures, "1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if f.Properties["name"] != "Mummelsee" {
		t.Errorf("name = %v", f.Properties["name"])
	}

	if _, err := d.Describe(ctx, "lakes", provider.OpFeatures); err != nil {
		t.Fatalf("Describe: %v", err)
	}

	if _, err := d.Query(ctx, "rivers", provider.OpFeatures, provider.Query{}); !errors.Is(err, geoapi.ErrUnknownResource) {
		t.Fatalf("err = %v, want ErrUnknownResource", err)
	}
}
