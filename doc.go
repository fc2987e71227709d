// Package geoapi is the runtime core of a declarative geospatial data API:
// a catalog of resources (feature collections, coverages, records, STAC
// catalogs) bound to provider backends, and a catalog of processes whose
// executions are tracked as jobs.
//
// geoapi is designed as a library, not a service. Load a catalog, build a
// provider dispatcher for resource queries, and a job manager for process
// execution:
//
//	cat, err := catalog.LoadFile("catalog.yml")
//	disp, err := dispatcher.New(cat.Resources())
//	mgr, err := manager.New(cat.Processes(), handlers, st)
//
// # Architecture
//
// Resource requests flow from the catalog through the dispatcher to a
// provider adapter. Process executions flow through the manager into the
// worker pool and job store, and status or result polling reads back
// through the store. Each provider type (feature, coverage, record, stac)
// is a closed adapter variant validated at startup; the job store is a
// pluggable backend (memory, Postgres, Bun, Redis) implementing atomic
// state transitions.
//
// All job IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package geoapi
