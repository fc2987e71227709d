package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vforwater/geoapi/catalog"
	"github.com/vforwater/geoapi/dispatcher"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a catalog file",
	Long: `Validate parses the catalog strictly and constructs every provider
adapter, so a catalog that passes here is one the serve command will
accept. Malformed entries, unknown keys, unknown provider type tags,
and unresolvable configurations all fail with a non-zero exit.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cat, err := catalog.LoadFile(catalogPath)
	if err != nil {
		return err
	}

	if _, err := dispatcher.New(cat.Resources()); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d resources, %d processes, OK\n",
		catalogPath, len(cat.Resources()), len(cat.Processes()))
	return nil
}
