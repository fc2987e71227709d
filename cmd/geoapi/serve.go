package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"
	goredis "github.com/redis/go-redis/v9"

	"github.com/vforwater/geoapi"
	"github.com/vforwater/geoapi/artifact"
	"github.com/vforwater/geoapi/catalog"
	"github.com/vforwater/geoapi/dispatcher"
	"github.com/vforwater/geoapi/manager"
	"github.com/vforwater/geoapi/process"
	"github.com/vforwater/geoapi/store"
	bunstore "github.com/vforwater/geoapi/store/bun"
	"github.com/vforwater/geoapi/store/memory"
	"github.com/vforwater/geoapi/store/postgres"
	redisstore "github.com/vforwater/geoapi/store/redis"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load the catalog and run the job manager",
	Long: `Serve loads the catalog, constructs all provider adapters, starts
the job manager's worker pool, and runs until SIGINT or SIGTERM, then
shuts down gracefully.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	ctx := cmd.Context()

	cat, err := catalog.LoadFile(catalogPath)
	if err != nil {
		return err
	}

	// Constructing the dispatcher validates every provider binding, so
	// a bad catalog fails here instead of on the first query.
	if _, err := dispatcher.New(cat.Resources(), dispatcher.WithLogger(logger)); err != nil {
		return err
	}

	settings := cat.Manager()

	st, err := openStore(ctx, settings, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}

	artifacts, err := openArtifacts(ctx, settings.OutputDir)
	if err != nil {
		return err
	}

	handlers := process.NewRegistry()
	process.Register(handlers, process.NewGreeter())
	if artifacts != nil {
		process.Register(handlers, process.NewResultRemover(artifacts))
	}

	cfg := geoapi.DefaultConfig()
	if settings.Concurrency > 0 {
		cfg.Concurrency = settings.Concurrency
	}
	cfg.QueueDepth = settings.QueueDepth
	cfg.SyncTimeout = settings.SyncTimeout.Std()
	cfg.ExecutionTimeout = settings.ExecutionTimeout.Std()

	opts := []manager.Option{
		manager.WithLogger(logger),
		manager.WithConfig(cfg),
	}
	if artifacts != nil {
		opts = append(opts, manager.WithArtifacts(artifacts))
	}
	if ttl := settings.RetentionTTL.Std(); ttl > 0 {
		opts = append(opts, manager.WithRetention(ttl))
	}

	mgr, err := manager.New(cat.Processes(), handlers, st, opts...)
	if err != nil {
		return err
	}

	if err := mgr.Start(ctx); err != nil {
		return err
	}

	logger.Info("geoapi serving",
		slog.String("catalog", catalogPath),
		slog.Int("resources", len(cat.Resources())),
		slog.Int("processes", len(cat.Processes())),
		slog.String("store", settings.Store),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", slog.String("signal", sig.String()))

	return mgr.Stop(context.Background())
}

// openArtifacts constructs the artifact store for the output locator.
// An empty locator disables result artifacts, "s3://endpoint/bucket"
// selects the object store (credentials come from GEOAPI_S3_ACCESS_KEY
// and GEOAPI_S3_SECRET_KEY), anything else is a local directory.
func openArtifacts(ctx context.Context, locator string) (artifact.Store, error) {
	switch {
	case locator == "":
		return nil, nil

	case strings.HasPrefix(locator, "s3://"):
		u, err := url.Parse(locator)
		if err != nil {
			return nil, fmt.Errorf("parse output locator %q: %w", locator, err)
		}
		bucket := strings.Trim(u.Path, "/")
		if u.Host == "" || bucket == "" {
			return nil, fmt.Errorf("output locator %q: want s3://endpoint/bucket", locator)
		}
		return artifact.NewS3(ctx, artifact.S3Config{
			Endpoint:  u.Host,
			Bucket:    bucket,
			AccessKey: os.Getenv("GEOAPI_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("GEOAPI_S3_SECRET_KEY"),
			UseSSL:    u.Query().Get("insecure") != "true",
		})

	default:
		return artifact.NewDir(locator)
	}
}

// openStore constructs the job store named by the manager settings.
func openStore(ctx context.Context, settings catalog.ManagerSettings, logger *slog.Logger) (store.Store, error) {
	switch settings.Store {
	case "", "memory":
		return memory.New(), nil

	case "postgres":
		return postgres.New(ctx, settings.Connection, postgres.WithLogger(logger))

	case "bun", "sqlite":
		// The bun backend serves two deployments: embedded SQLite for
		// single-node installs and Postgres through pgdriver when the
		// connection string says so.
		if strings.HasPrefix(settings.Connection, "postgres://") || strings.HasPrefix(settings.Connection, "postgresql://") {
			sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(settings.Connection)))
			db := bun.NewDB(sqldb, pgdialect.New())
			return bunstore.New(db, bunstore.WithLogger(logger)), nil
		}
		sqldb, err := sql.Open(sqliteshim.ShimName, settings.Connection)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %q: %w", settings.Connection, err)
		}
		db := bun.NewDB(sqldb, sqlitedialect.New())
		return bunstore.New(db, bunstore.WithLogger(logger)), nil

	case "redis":
		redisOpts, err := goredis.ParseURL(settings.Connection)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redisstore.New(goredis.NewClient(redisOpts), redisstore.WithLogger(logger)), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", settings.Store)
	}
}
