package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/synapsedb/synapsedb/internal/obs"
)

var rootCmd = &cobra.Command{
	Use:   "synapsedb",
	Short: "Maintenance and inspection tool for a synapsedb database",
	Long: `synapsedb operates on an embedded triple-store database directly from
the command line: integrity checks and repair, page compaction, orphan and
stale-reader garbage collection, and low-level page/manifest inspection.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(autoCompactCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(txidsCmd)
}

func initLogging() {
	levelStr, _ := rootCmd.PersistentFlags().GetString("log-level")
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}
	obs.Init(level)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
