// Package dispatcher routes resource requests to the configured provider
// adapter. All adapters are constructed and validated once at startup —
// unknown type tags or adapter names refuse to start — so Resolve is a
// pure lookup with no I/O.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vforwater/geoapi"
	"github.com/vforwater/geoapi/catalog"
	"github.com/vforwater/geoapi/provider"
	"github.com/vforwater/geoapi/provider/coverage"
	"github.com/vforwater/geoapi/provider/csvfile"
	"github.com/vforwater/geoapi/provider/geojson"
	"github.com/vforwater/geoapi/provider/mongo"
	"github.com/vforwater/geoapi/provider/stac"
)

// bound pairs one provider binding with its constructed adapter.
type bound struct {
	binding catalog.ProviderBinding
	adapter provider.Adapter
}

// Dispatcher resolves a resource/operation pair to a concrete adapter.
// It is immutable after construction and safe for concurrent use.
type Dispatcher struct {
	resources map[string]*catalog.ResourceDefinition
	adapters  map[string][]bound
	logger    *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// New builds every adapter declared by the given resources. Any
// malformed binding — unknown adapter name, unreachable data source,
// invalid adapter options — fails construction so a partially-valid
// catalog never serves.
func New(resources []*catalog.ResourceDefinition, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		resources: make(map[string]*catalog.ResourceDefinition, len(resources)),
		adapters:  make(map[string][]bound),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	for _, def := range resources {
		d.resources[def.ID] = def

		for _, b := range def.Providers {
			adapter, err := buildAdapter(b)
			if err != nil {
				return nil, fmt.Errorf("dispatcher: resource %q: %w", def.ID, err)
			}
			d.adapters[def.ID] = append(d.adapters[def.ID], bound{binding: b, adapter: adapter})

			d.logger.Debug("provider adapter bound",
				slog.String("resource", def.ID),
				slog.String("type", string(b.Type)),
				slog.String("adapter", b.Name),
			)
		}
	}

	return d, nil
}

// buildAdapter selects among the closed set of adapter variants.
func buildAdapter(b catalog.ProviderBinding) (provider.Adapter, error) {
	switch b.Type {
	case catalog.TypeFeature:
		switch b.Name {
		case "geojson":
			return geojson.New(b)
		case "csv":
			return csvfile.New(b)
		}
	case catalog.TypeCoverage:
		if b.Name == "asciigrid" {
			return coverage.New(b)
		}
	case catalog.TypeRecord:
		if b.Name == "mongodb" {
			return mongo.New(b)
		}
	case catalog.TypeStac:
		if b.Name == "filesystem" {
			return stac.New(b)
		}
	default:
		return nil, fmt.Errorf("unknown provider type tag %q", b.Type)
	}
	return nil, fmt.Errorf("no %s adapter named %q", b.Type, b.Name)
}

// Resolve returns the adapter and binding serving the given operation on
// the given resource. It performs no I/O.
func (d *Dispatcher) Resolve(resourceID string, op provider.Operation) (provider.Adapter, *catalog.ProviderBinding, error) {
	def, ok := d.resources[resourceID]
	if !ok {
		return nil, nil, fmt.Errorf("dispatcher: resource %q: %w", resourceID, geoapi.ErrUnknownResource)
	}

	required, ok := op.ProviderType()
	if !ok || def.Kind == catalog.KindProcess {
		return nil, nil, fmt.Errorf("dispatcher: resource %q operation %q: %w", resourceID, op, geoapi.ErrUnsupportedOperation)
	}

	for i := range d.adapters[resourceID] {
		ba := &d.adapters[resourceID][i]
		if ba.binding.Type == required {
			return ba.adapter, &ba.binding, nil
		}
	}

	return nil, nil, fmt.Errorf("dispatcher: resource %q has no %s provider: %w", resourceID, required, geoapi.ErrNoCompatibleProvider)
}

// Query resolves and runs a query operation.
func (d *Dispatcher) Query(ctx context.Context, resourceID string, op provider.Operation, q provider.Query) (provider.Iterator, error) {
	adapter, _, err := d.Resolve(resourceID, op)
	if err != nil {
		return nil, err
	}
	return adapter.Query(ctx, q)
}

// Get resolves and runs a point lookup.
func (d *Dispatcher) Get(ctx context.Context, resourceID string, op provider.Operation, itemID string) (*provider.Feature, error) {
	adapter, _, err := d.Resolve(resourceID, op)
	if err != nil {
		return nil, err
	}
	return adapter.Get(ctx, itemID)
}

// Describe resolves and returns the adapter's schema.
func (d *Dispatcher) Describe(ctx context.Context, resourceID string, op provider.Operation) (*provider.Schema, error) {
	adapter, _, err := d.Resolve(resourceID, op)
	if err != nil {
		return nil, err
	}
	return adapter.Describe(ctx)
}
