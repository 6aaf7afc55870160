package main

import (
	"github.com/spf13/cobra"

	"github.com/schemadoc/schemadoc/internal/api"
	"github.com/schemadoc/schemadoc/version"
)

var (
	cfgFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "schemadoc",
	Short: "LLM-powered technical documentation for database objects",
	Long: `Schemadoc generates technical documentation for SQL Server objects
(stored procedures, views, functions) using an LLM backend.

Each object is classified into a complexity tier that controls the
generation budget, results are cached by content hash, low-confidence
output is routed to a human review queue, and completed documents get a
unique per-category document number.`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.schemadoc/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(batchesCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(sequenceCmd)
}
