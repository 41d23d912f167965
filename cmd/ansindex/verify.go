package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ndlib/ansindex/indexer"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <txid>",
	Short: "Check stored payloads against their recorded checksums",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStack(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		report, err := indexer.Verify(context.Background(), s.db, s.payloads, args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "bundle %s: checked %d items, %s\n",
			report.BundleID, report.Checked, humanize.IBytes(uint64(report.Bytes)))
		for _, p := range report.Problems {
			fmt.Fprintf(w, "  ! %s\n", p)
		}
		if len(report.Problems) > 0 {
			return fmt.Errorf("%d of %d payloads failed verification", len(report.Problems), report.Checked)
		}
		return nil
	},
}
