// Package bunstore implements store.Store using the Bun ORM. It works
// with both the PostgreSQL and SQLite dialects, which makes it the
// backend of choice for single-node deployments that want durable jobs
// without running a database server.
//
// The caller owns the *bun.DB lifecycle — bunstore never closes it. Pass
// the db handle through the constructor:
//
//	import (
//	    "github.com/uptrace/bun"
//	    "github.com/uptrace/bun/dialect/sqlitedialect"
//	    "github.com/uptrace/bun/driver/sqliteshim"
//	)
//
//	sqldb, _ := sql.Open(sqliteshim.ShimName, "file:geoapi.db")
//	db := bun.NewDB(sqldb, sqlitedialect.New())
//	store := bunstore.New(db)
//	store.Migrate(ctx)
package bunstore
