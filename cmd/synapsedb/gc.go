package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/synapsedb/synapsedb/internal/maint"
)

var gcCmd = &cobra.Command{
	Use:   "gc <path>",
	Short: "Remove orphaned page files and reap stale reader registrations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		respectReaders, err := cmd.Flags().GetBool("respect-readers")
		if err != nil {
			return err
		}

		s, err := openStore(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		opts := maint.DefaultGCOptions()
		opts.RespectReaders = respectReaders

		report, err := maint.GC(s, opts)
		if err != nil {
			return fmt.Errorf("gc: %w", err)
		}

		fmt.Printf("orphans removed: %d (%d bytes reclaimed)\n", len(report.OrphansRemoved), report.BytesReclaimed)
		fmt.Printf("orphans skipped: %d\n", len(report.OrphansSkipped))
		fmt.Printf("stale readers reaped: %d\n", report.StaleReadersReaped)
		fmt.Printf("live orphan slots: %d\n", report.LiveOrphanSlots)
		return nil
	},
}

func init() {
	gcCmd.Flags().Bool("respect-readers", true, "Skip orphan files a live reader might still need")
}
