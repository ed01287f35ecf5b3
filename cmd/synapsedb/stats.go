package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/synapsedb/synapsedb/internal/sixindex"
)

var statsCmd = &cobra.Command{
	Use:   "stats <path>",
	Short: "Print page, reader, and staging counts for a database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		manifest := s.Manifest()
		fmt.Printf("epoch: %d\n", manifest.Epoch)
		fmt.Printf("page size: %d, compression: %s\n", manifest.PageSize, manifest.Compression.Codec)
		for o := sixindex.SPO; o <= sixindex.OPS; o++ {
			fmt.Printf("  %-4s pages: %d\n", o, len(manifest.Lookup(o)))
		}
		fmt.Printf("orphans: %d\n", len(manifest.Orphans))
		fmt.Printf("tombstones (live set): %d\n", s.Tombstones().Len())
		fmt.Printf("dictionary size: %d\n", s.Dictionary().Size())

		readers, err := s.ReaderRegistry().Live(time.Hour, time.Now())
		if err == nil {
			fmt.Printf("live readers: %d\n", len(readers))
		}

		metrics, err := s.GetStagingMetrics()
		if err == nil {
			fmt.Printf("staging: %d triples buffered, %d segments\n", metrics.MemtableSize, metrics.SegmentCount)
		}

		return nil
	},
}
