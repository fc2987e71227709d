// Package catalog holds the static definitions of a geoapi deployment:
// resources bound to provider backends, processes bound to handler
// references, and manager settings. Definitions are loaded once from a
// YAML document, validated strictly, and immutable afterwards.
package catalog

import (
	"fmt"
	"time"
)

// Kind classifies a resource definition.
type Kind string

const (
	// KindCollection is a queryable data collection.
	KindCollection Kind = "collection"
	// KindProcess is an invocable server-side computation.
	KindProcess Kind = "process"
	// KindStacCollection is a browsable STAC item catalog.
	KindStacCollection Kind = "stac-collection"
)

// ProviderType tags the backend variant a binding resolves to.
// The set is closed; unknown tags are rejected at load time.
type ProviderType string

const (
	// TypeFeature serves vector features (tabular or native geometry).
	TypeFeature ProviderType = "feature"
	// TypeCoverage serves gridded numeric data.
	TypeCoverage ProviderType = "coverage"
	// TypeRecord serves documents with declared id/time/title fields.
	TypeRecord ProviderType = "record"
	// TypeStac serves filesystem-backed STAC items.
	TypeStac ProviderType = "stac"
)

// Text is per-locale text keyed by language tag. A bare YAML string is
// accepted and stored under the "en" key.
type Text map[string]string

// UnmarshalYAML accepts either a plain string or a language→text mapping.
func (t *Text) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		*t = Text{"en": s}
		return nil
	}

	var m map[string]string
	if err := unmarshal(&m); err != nil {
		return err
	}
	*t = m
	return nil
}

// Get returns the text for the given language tag, falling back to "en"
// and then to any available entry.
func (t Text) Get(lang string) string {
	if s, ok := t[lang]; ok {
		return s
	}
	if s, ok := t["en"]; ok {
		return s
	}
	for _, s := range t {
		return s
	}
	return ""
}

// Link is a typed hyperlink attached to a resource.
type Link struct {
	Href     string `yaml:"href"`
	Rel      string `yaml:"rel,omitempty"`
	Type     string `yaml:"type,omitempty"`
	Title    string `yaml:"title,omitempty"`
	Hreflang string `yaml:"hreflang,omitempty"`
}

// SpatialExtent is a bounding box plus its coordinate reference identifier.
type SpatialExtent struct {
	BBox []float64 `yaml:"bbox"`
	CRS  string    `yaml:"crs,omitempty"`
}

// TemporalExtent bounds a resource in time. Either end may be nil,
// meaning open-ended.
type TemporalExtent struct {
	Begin *time.Time `yaml:"begin"`
	End   *time.Time `yaml:"end"`
}

// Extents groups the spatial and optional temporal extent of a resource.
type Extents struct {
	Spatial  SpatialExtent   `yaml:"spatial"`
	Temporal *TemporalExtent `yaml:"temporal,omitempty"`
}

// ProviderBinding binds a resource to one physical data source.
// It is owned exclusively by its ResourceDefinition.
type ProviderBinding struct {
	// Type is the provider type tag (closed set, see ProviderType).
	Type ProviderType `yaml:"type"`
	// Name selects the adapter implementation (e.g. "geojson", "csv").
	Name string `yaml:"name"`
	// Data locates the physical data source (path or URI).
	Data string `yaml:"data"`

	// Field mappings. All optional, adapter-specific.
	IDField    string `yaml:"id_field,omitempty"`
	TitleField string `yaml:"title_field,omitempty"`
	TimeField  string `yaml:"time_field,omitempty"`
	XField     string `yaml:"x_field,omitempty"`
	YField     string `yaml:"y_field,omitempty"`

	// Options carries free-form adapter-specific settings.
	Options map[string]string `yaml:"options,omitempty"`
}

// ResourceDefinition describes one named resource of the API.
type ResourceDefinition struct {
	// ID is the unique, stable resource identifier (the catalog map key).
	ID          string `yaml:"-"`
	Kind        Kind   `yaml:"type"`
	Title       Text   `yaml:"title"`
	Description Text   `yaml:"description,omitempty"`
	Keywords    []string `yaml:"keywords,omitempty"`
	Links       []Link   `yaml:"links,omitempty"`
	Extents     Extents  `yaml:"extents"`
	Providers   []ProviderBinding `yaml:"providers,omitempty"`
}

// ProcessDefinition maps a process identifier to an executable handler
// reference, resolved against the handler registration table at startup.
type ProcessDefinition struct {
	ID          string `yaml:"-"`
	Handler     string `yaml:"handler"`
	Title       Text   `yaml:"title,omitempty"`
	Description Text   `yaml:"description,omitempty"`
	Keywords    []string `yaml:"keywords,omitempty"`
	Version     string   `yaml:"version,omitempty"`
}

// ManagerSettings configures the job manager: which store backs it, how
// to reach it, and where artifact-based results are written.
type ManagerSettings struct {
	// Store names the job store backend: memory, postgres, bun, redis.
	Store string `yaml:"store"`
	// Connection is the backend-specific connection locator.
	Connection string `yaml:"connection,omitempty"`
	// OutputDir is the directory for artifact-based results. Empty means
	// results are stored inline.
	OutputDir string `yaml:"output_dir,omitempty"`

	Concurrency int      `yaml:"concurrency,omitempty"`
	QueueDepth  int      `yaml:"queue_depth,omitempty"`
	SyncTimeout Duration `yaml:"sync_timeout,omitempty"`
	// ExecutionTimeout cancels handlers running longer than this. Zero
	// lets them run unbounded.
	ExecutionTimeout Duration `yaml:"execution_timeout,omitempty"`
	// RetentionTTL deletes terminal jobs older than this. Zero disables
	// the sweeper.
	RetentionTTL Duration `yaml:"retention_ttl,omitempty"`
}

// Duration is a time.Duration that unmarshals from Go duration strings
// ("30s", "5m") in YAML documents.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("catalog: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (k Kind) valid() bool {
	switch k {
	case KindCollection, KindProcess, KindStacCollection:
		return true
	}
	return false
}

func (p ProviderType) valid() bool {
	switch p {
	case TypeFeature, TypeCoverage, TypeRecord, TypeStac:
		return true
	}
	return false
}

// Validate checks a single resource definition. The catalog refuses to
// load if any definition is invalid.
func (r *ResourceDefinition) Validate() error {
	if !r.Kind.valid() {
		return fmt.Errorf("catalog: resource %q: unknown kind %q", r.ID, r.Kind)
	}
	if len(r.Title) == 0 {
		return fmt.Errorf("catalog: resource %q: title is required", r.ID)
	}

	switch r.Kind {
	case KindProcess:
		if len(r.Providers) > 0 {
			return fmt.Errorf("catalog: resource %q: kind process must not declare providers", r.ID)
		}
	case KindCollection, KindStacCollection:
		if len(r.Providers) == 0 {
			return fmt.Errorf("catalog: resource %q: at least one provider is required", r.ID)
		}
	}

	if bb := r.Extents.Spatial.BBox; len(bb) != 0 && len(bb) != 4 && len(bb) != 6 {
		return fmt.Errorf("catalog: resource %q: bbox must have 4 or 6 values, got %d", r.ID, len(bb))
	}
	if te := r.Extents.Temporal; te != nil && te.Begin != nil && te.End != nil && te.End.Before(*te.Begin) {
		return fmt.Errorf("catalog: resource %q: temporal extent ends before it begins", r.ID)
	}

	for i := range r.Providers {
		b := &r.Providers[i]
		if !b.Type.valid() {
			return fmt.Errorf("catalog: resource %q: provider %d: unknown type tag %q", r.ID, i, b.Type)
		}
		if b.Name == "" {
			return fmt.Errorf("catalog: resource %q: provider %d: adapter name is required", r.ID, i)
		}
		if b.Data == "" {
			return fmt.Errorf("catalog: resource %q: provider %d: data locator is required", r.ID, i)
		}
	}

	return nil
}

// Validate checks a single process definition.
func (p *ProcessDefinition) Validate() error {
	if p.Handler == "" {
		return fmt.Errorf("catalog: process %q: handler reference is required", p.ID)
	}
	return nil
}
