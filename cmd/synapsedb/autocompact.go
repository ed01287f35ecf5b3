package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/synapsedb/synapsedb/internal/maint"
)

var autoCompactCmd = &cobra.Command{
	Use:   "auto-compact <path>",
	Short: "Run one compaction pass (rewrite or incremental)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modeStr, err := cmd.Flags().GetString("mode")
		if err != nil {
			return err
		}
		minMergePages, err := cmd.Flags().GetInt("min-merge-pages")
		if err != nil {
			return err
		}
		hotThreshold, err := cmd.Flags().GetFloat64("hot-threshold")
		if err != nil {
			return err
		}
		maxPrimaryPerRun, err := cmd.Flags().GetInt("max-primary-per-run")
		if err != nil {
			return err
		}

		opts := maint.DefaultCompactionOptions()
		switch modeStr {
		case "rewrite":
			opts.Mode = maint.ModeRewrite
		case "incremental":
			opts.Mode = maint.ModeIncremental
		default:
			return fmt.Errorf("unknown --mode %q (want rewrite or incremental)", modeStr)
		}
		opts.MinMergePages = minMergePages
		opts.HotThreshold = hotThreshold
		opts.MaxPrimaryPerRun = maxPrimaryPerRun

		s, err := openStore(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		report, err := maint.Compact(s, opts)
		if err != nil {
			return fmt.Errorf("compact: %w", err)
		}

		fmt.Printf("mode: %s\n", report.Mode)
		fmt.Printf("pages: %d -> %d (%d bytes reclaimed)\n", report.PagesBefore, report.PagesAfter, report.BytesReclaimed)
		fmt.Printf("tombstones dropped: %d\n", report.TombstonesDropped)
		fmt.Printf("active readers: %d\n", report.ActiveReaders)
		for order, n := range report.PrimariesRewritten {
			fmt.Printf("  %s: %d primaries rewritten\n", order, n)
		}
		fmt.Printf("orphaned files: %d\n", len(report.OrphanedFiles))
		return nil
	},
}

func init() {
	autoCompactCmd.Flags().String("mode", "incremental", "Compaction mode: rewrite or incremental")
	autoCompactCmd.Flags().Int("min-merge-pages", maint.DefaultCompactionOptions().MinMergePages, "Incremental mode: minimum page count to select a primary")
	autoCompactCmd.Flags().Float64("hot-threshold", maint.DefaultCompactionOptions().HotThreshold, "Incremental mode: minimum decayed hotness score to select a primary")
	autoCompactCmd.Flags().Int("max-primary-per-run", maint.DefaultCompactionOptions().MaxPrimaryPerRun, "Incremental mode: maximum primaries examined per order")
}
