// Command geoapi loads a resource and process catalog and serves it:
// a provider dispatcher for resource queries and a job manager for
// process execution.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
