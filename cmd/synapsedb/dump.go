package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/synapsedb/synapsedb/internal/pagestore"
	"github.com/synapsedb/synapsedb/internal/sixindex"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <path> <order> <primary>",
	Short: "Print every triple stored under one order/primary",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		order, err := parseOrder(args[1])
		if err != nil {
			return err
		}
		primary, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			return fmt.Errorf("parsing primary %q: %w", args[2], err)
		}

		s, err := openStore(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		manifest := s.Manifest()
		descs := manifest.DescriptorsForPrimary(order, uint32(primary))
		if len(descs) == 0 {
			fmt.Println("no pages for this primary")
			return nil
		}

		reader, err := pagestore.OpenReader(pagestore.OrderFilePath(s.PagesDir(), order), order)
		if err != nil {
			return fmt.Errorf("opening %s page file: %w", order, err)
		}
		defer reader.Close()

		triples, err := reader.ReadPrimary(descs, manifest.Compression.Codec)
		if err != nil {
			return fmt.Errorf("reading primary %d: %w", primary, err)
		}

		dict := s.Dictionary()
		for _, t := range triples {
			sv, _ := dict.GetValue(t.S)
			pv, _ := dict.GetValue(t.P)
			ov, _ := dict.GetValue(t.O)
			fmt.Printf("%s %s %s\n", sv, pv, ov)
		}
		return nil
	},
}

func parseOrder(s string) (sixindex.Order, error) {
	switch s {
	case "SPO":
		return sixindex.SPO, nil
	case "SOP":
		return sixindex.SOP, nil
	case "PSO":
		return sixindex.PSO, nil
	case "POS":
		return sixindex.POS, nil
	case "OSP":
		return sixindex.OSP, nil
	case "OPS":
		return sixindex.OPS, nil
	default:
		return 0, fmt.Errorf("unknown order %q (want one of SPO, SOP, PSO, POS, OSP, OPS)", s)
	}
}
