package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "autoforge",
	Short: "Autonomous project generation engine",
	Long: `Autoforge decomposes a project description into a dependency graph of
planning, development, and testing tasks and executes them concurrently
against an edge inference service.

Core capabilities:
- Plans a project and derives component tasks with dependencies
- Schedules tasks topologically with bounded concurrency
- Retrieves token-budgeted code context for every generation request
- Retries transient failures with backoff, parks work during outages
- Persists all project and task state for inspection`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
