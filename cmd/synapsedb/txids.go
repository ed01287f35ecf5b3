package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var txidsCmd = &cobra.Command{
	Use:   "txids <path>",
	Short: "List remembered committed transaction ids",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		reg := s.TxRegistry()
		entries := reg.Entries()
		fmt.Printf("%d remembered transactions\n", len(entries))
		for _, e := range entries {
			ts := time.Unix(e.Timestamp, 0).UTC().Format(time.RFC3339)
			if e.SessionID != "" {
				fmt.Printf("  %s  session=%s  %s\n", ts, e.SessionID, e.TxID)
			} else {
				fmt.Printf("  %s  %s\n", ts, e.TxID)
			}
		}
		return nil
	},
}
