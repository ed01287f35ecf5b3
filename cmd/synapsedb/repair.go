package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/synapsedb/synapsedb/internal/maint"
)

var repairCmd = &cobra.Command{
	Use:   "repair <path>",
	Short: "Rebuild page files from the live triple set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fast, err := cmd.Flags().GetBool("fast")
		if err != nil {
			return err
		}
		rebuildIndexes, err := cmd.Flags().GetBool("rebuild-indexes")
		if err != nil {
			return err
		}

		s, err := openStore(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		prior, err := maint.Check(s, false)
		if err != nil {
			return fmt.Errorf("pre-repair check: %w", err)
		}

		mode := maint.RepairFull
		if fast {
			mode = maint.RepairFast
		}

		report, err := maint.Repair(s, maint.RepairOptions{Mode: mode, RebuildIndexes: rebuildIndexes}, prior)
		if err != nil {
			return fmt.Errorf("repair: %w", err)
		}

		fmt.Printf("mode: %s\n", report.Mode)
		fmt.Printf("orders repaired: %v\n", report.OrdersRepaired)
		fmt.Printf("indexes rebuilt: %v\n", report.IndexesRebuilt)
		return nil
	},
}

func init() {
	repairCmd.Flags().Bool("fast", false, "Repair only the orders a prior check flagged as corrupt")
	repairCmd.Flags().Bool("rebuild-indexes", false, "Also rebuild the in-memory six-order and inverted property indexes")
}
