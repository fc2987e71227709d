package catalog_test

import (
	"strings"
	"testing"

	"github.com/vforwater/geoapi/catalog"
)

const validDoc = `
resources:
  lakes:
    type: collection
    title:
      en: Large Lakes
      de: Große Seen
    description: lakes of the world, public domain
    keywords: [lakes]
    links:
      - href: http://www.naturalearthdata.com/
        rel: canonical
        type: text/html
        hreflang: en-US
    extents:
      spatial:
        bbox: [-180, -90, 180, 90]
        crs: http://www.opengis.net/def/crs/OGC/1.3/CRS84
      temporal:
        begin: 2011-11-11T11:11:11Z
        end: null
    providers:
      - type: feature
        name: geojson
        data: testdata/lakes.geojson
        id_field: id
        title_field: name
processes:
  hello-world:
    handler: greeter
    title: Hello World
    version: 0.2.0
manager:
  store: memory
  output_dir: /tmp/geoapi/results
  concurrency: 4
`

func TestLoadValid(t *testing.T) {
	t.Parallel()

	cat, err := catalog.Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	lakes, ok := cat.Resource("lakes")
	if !ok {
		t.Fatal("resource lakes not found")
	}
	if lakes.Kind != catalog.KindCollection {
		t.Errorf("kind = %q, want collection", lakes.Kind)
	}
	if got := lakes.Title.Get("de"); got != "Große Seen" {
		t.Errorf("title[de] = %q", got)
	}
	if got := lakes.Description.Get("en"); got != "lakes of the world, public domain" {
		t.Errorf("description = %q", got)
	}
	if len(lakes.Providers) != 1 || lakes.Providers[0].Type != catalog.TypeFeature {
		t.Fatalf("unexpected providers: %+v", lakes.Providers)
	}
	if lakes.Extents.Temporal == nil || lakes.Extents.Temporal.Begin == nil {
		t.Error("temporal begin missing")
	}
	if lakes.Extents.Temporal.End != nil {
		t.Error("temporal end should be open")
	}

	hw, ok := cat.Process("hello-world")
	if !ok {
		t.Fatal("process hello-world not found")
	}
	if hw.Handler != "greeter" {
		t.Errorf("handler = %q", hw.Handler)
	}

	if cat.Manager().Store != "memory" || cat.Manager().Concurrency != 4 {
		t.Errorf("manager settings: %+v", cat.Manager())
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name: "unknown resource kind",
			doc: `
resources:
  bad:
    type: widget
    title: Bad
    providers:
      - {type: feature, name: geojson, data: x.json}
`,
			wantErr: "unknown kind",
		},
		{
			name: "collection without providers",
			doc: `
resources:
  bare:
    type: collection
    title: Bare
`,
			wantErr: "at least one provider",
		},
		{
			name: "process resource with providers",
			doc: `
resources:
  calc:
    type: process
    title: Calc
    providers:
      - {type: feature, name: geojson, data: x.json}
`,
			wantErr: "must not declare providers",
		},
		{
			name: "unknown provider type tag",
			doc: `
resources:
  odd:
    type: collection
    title: Odd
    providers:
      - {type: teapot, name: geojson, data: x.json}
`,
			wantErr: "unknown type tag",
		},
		{
			name: "missing data locator",
			doc: `
resources:
  nodata:
    type: collection
    title: NoData
    providers:
      - {type: feature, name: geojson}
`,
			wantErr: "data locator is required",
		},
		{
			name: "bad bbox arity",
			doc: `
resources:
  box:
    type: collection
    title: Box
    extents:
      spatial:
        bbox: [1, 2, 3]
    providers:
      - {type: feature, name: geojson, data: x.json}
`,
			wantErr: "bbox",
		},
		{
			name: "process without handler",
			doc: `
processes:
  broken:
    title: Broken
`,
			wantErr: "handler reference is required",
		},
		{
			name: "stray key outside mapping",
			doc: `
processes:
  ok-process:
    handler: greeter
  name: misplaced
`,
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := catalog.Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if tt.wantErr != "" && !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	doc := `
resources:
  lakes:
    type: collection
    title: Lakes
    providres:
      - {type: feature, name: geojson, data: x.json}
`
	if _, err := catalog.Parse([]byte(doc)); err == nil {
		t.Fatal("misspelled key should fail strict decoding")
	}
}
