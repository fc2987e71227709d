package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

var (
	catalogPath string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "geoapi",
	Short: "Declarative geospatial data API runtime",
	Long: `geoapi serves a declarative catalog of geospatial resources and
processes: feature collections, coverages, records, and STAC catalogs
bound to provider backends, plus a job manager that executes registered
processes and tracks them as jobs.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&catalogPath, "config", "f", "catalog.yml", "path to the catalog file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(serveCmd)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
