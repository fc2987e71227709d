// Package mongo implements the record provider over a MongoDB collection.
// Records are documents with declared id/time/title fields; spatial
// filtering applies only when a geometry field is declared.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/vforwater/geoapi"
	"github.com/vforwater/geoapi/catalog"
	"github.com/vforwater/geoapi/provider"
)

// Adapter serves records from one MongoDB collection. The driver client
// is safe for concurrent use and connects lazily, so construction does no
// network I/O.
type Adapter struct {
	binding    catalog.ProviderBinding
	client     *mongod.Client
	collection *mongod.Collection
	idField    string
}

var _ provider.Adapter = (*Adapter)(nil)

// New creates the adapter. The binding's data locator is the connection
// URI; the database and collection come from the options map.
func New(b catalog.ProviderBinding) (*Adapter, error) {
	dbName := b.Options["database"]
	colName := b.Options["collection"]
	if dbName == "" || colName == "" {
		return nil, fmt.Errorf("mongo: binding for %s: database and collection options are required", b.Data)
	}

	client, err := mongod.Connect(options.Client().ApplyURI(b.Data))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect %s: %w", b.Data, err)
	}

	idField := b.IDField
	if idField == "" {
		idField = "_id"
	}

	return &Adapter{
		binding:    b,
		client:     client,
		collection: client.Database(dbName).Collection(colName),
		idField:    idField,
	}, nil
}

// Close disconnects the underlying client.
func (a *Adapter) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}

// filter translates the adapter-interpreted query into a Mongo filter
// document.
func (a *Adapter) filter(q provider.Query) bson.M {
	f := bson.M{}

	for k, v := range q.Properties {
		// Numeric filter values must match numeric document fields.
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			f[k] = bson.M{"$in": bson.A{v, n}}
			continue
		}
		f[k] = v
	}

	if q.Datetime != nil && a.binding.TimeField != "" {
		rangeDoc := bson.M{}
		if q.Datetime.Begin != nil {
			rangeDoc["$gte"] = *q.Datetime.Begin
		}
		if q.Datetime.End != nil {
			rangeDoc["$lte"] = *q.Datetime.End
		}
		if len(rangeDoc) > 0 {
			f[a.binding.TimeField] = rangeDoc
		}
	}

	if gf := a.binding.Options["geometry_field"]; gf != "" {
		if bound, ok := q.Bound(); ok {
			f[gf] = bson.M{"$geoIntersects": bson.M{"$geometry": bson.M{
				"type": "Polygon",
				"coordinates": bson.A{bson.A{
					bson.A{bound.Min[0], bound.Min[1]},
					bson.A{bound.Max[0], bound.Min[1]},
					bson.A{bound.Max[0], bound.Max[1]},
					bson.A{bound.Min[0], bound.Max[1]},
					bson.A{bound.Min[0], bound.Min[1]},
				}},
			}}}
		}
	}

	return f
}

// Query returns the records matching the property, time, and (when a
// geometry field is declared) spatial filters.
func (a *Adapter) Query(ctx context.Context, q provider.Query) (provider.Iterator, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: a.idField, Value: 1}}).
		SetSkip(int64(q.Offset))
	if q.Limit > 0 {
		opts = opts.SetLimit(int64(q.Limit))
	}

	cur, err := a.collection.Find(ctx, a.filter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: query: %w", err)
	}
	defer cur.Close(ctx) //nolint:errcheck // cursor fully drained below

	var matched []*provider.Feature
	for cur.Next(ctx) {
		var doc bson.M
		if derr := cur.Decode(&doc); derr != nil {
			return nil, fmt.Errorf("mongo: decode record: %w", derr)
		}
		matched = append(matched, a.toFeature(doc))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo: iterate: %w", err)
	}

	return provider.NewSliceIterator(matched), nil
}

// Get returns the record whose declared id field equals id.
func (a *Adapter) Get(ctx context.Context, id string) (*provider.Feature, error) {
	var doc bson.M
	err := a.collection.FindOne(ctx, bson.M{a.idField: id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongod.ErrNoDocuments) {
			return nil, fmt.Errorf("mongo: record %q: %w", id, geoapi.ErrNotFound)
		}
		return nil, fmt.Errorf("mongo: get %q: %w", id, err)
	}
	return a.toFeature(doc), nil
}

// Describe samples one document to report field metadata.
func (a *Adapter) Describe(ctx context.Context) (*provider.Schema, error) {
	s := &provider.Schema{
		IDField:    a.idField,
		TitleField: a.binding.TitleField,
		TimeField:  a.binding.TimeField,
	}

	var doc bson.M
	err := a.collection.FindOne(ctx, bson.M{}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongod.ErrNoDocuments) {
			return s, nil
		}
		return nil, fmt.Errorf("mongo: describe: %w", err)
	}

	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.Fields = append(s.Fields, provider.FieldDef{Name: name, Type: provider.FieldType(doc[name])})
	}
	return s, nil
}

// toFeature maps a document onto the shared item model.
func (a *Adapter) toFeature(doc bson.M) *provider.Feature {
	f := &provider.Feature{Properties: map[string]any(doc)}

	if v, ok := doc[a.idField]; ok {
		f.ID = stringify(v)
	}
	f.Title = f.ID
	if tf := a.binding.TitleField; tf != "" {
		if title, ok := doc[tf].(string); ok && title != "" {
			f.Title = title
		}
	}
	if tf := a.binding.TimeField; tf != "" {
		switch v := doc[tf].(type) {
		case time.Time:
			f.Time = &v
		case bson.DateTime:
			t := v.Time()
			f.Time = &t
		case string:
			if t, perr := provider.ParseTime(v); perr == nil {
				f.Time = &t
			}
		}
	}
	return f
}

func stringify(v any) string {
	if oid, ok := v.(bson.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprint(v)
}
