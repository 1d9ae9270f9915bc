package main

import (
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Every call returns fresh commands so
// flags and contexts never leak between executions.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rewind",
		Short: "ChainRewind - versioned persistence for blockchain indexers",
		Long: `ChainRewind keeps an undo log of every entity mutation made while indexing,
so the materialized state can be rolled back to any earlier level after a
chain reorganization.

Use it to migrate the database, inspect index state, roll indexes back,
prune the undo log and run background maintenance.`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")

	rootCmd.AddCommand(
		newMigrateCmd(),
		newStatusCmd(),
		newRollbackCmd(),
		newPruneCmd(),
		newSchemaCmd(),
		newServeCmd(),
		newReindexCmd(),
	)

	return rootCmd
}
