package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ndlib/ansindex/indexer"
)

var (
	txid  string
	force bool
)

var indexCmd = &cobra.Command{
	Use:   "index -t <txid>",
	Short: "Fetch a bundle and index its items",
	Long: `Fetch the bundle in an Arweave transaction, validate each data item, and
store the payloads and index entries. Nested bundles are indexed too.

The exit code is 0 when the bundle was indexed, even if some items were
malformed or could not be stored. It is 1 when the bundle could not be
fetched or read, and 2 when --fail-fast stopped on a storage failure.`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	addIndexFlags(indexCmd)
	indexCmd.MarkFlagRequired("transaction-id")
}

func addIndexFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&txid, "transaction-id", "t", "", "bundle transaction id")
	f.Int("max-depth", indexer.DefaultMaxDepth, "how deep to open nested bundles")
	f.Int("concurrency", indexer.DefaultConcurrency, "number of writes in progress at once")
	f.Bool("fail-fast", false, "stop at the first storage failure")
	f.Duration("fresh", 0, "reuse a run finished within this time")
	f.BoolVar(&force, "force", false, "index even if a fresh run exists")
}

func runIndex(cmd *cobra.Command, args []string) error {
	s, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)
	go func() {
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
	}()

	summary, err := s.runner(cfg).Run(ctx, txid, force)
	if summary != nil {
		printSummary(cmd.OutOrStdout(), summary)
	}
	return err
}

func printSummary(w io.Writer, s *indexer.Summary) {
	fmt.Fprintf(w, "bundle %s run %s\n", s.BundleID, s.RunID)
	if s.Reused {
		fmt.Fprintf(w, "  reused run finished %s\n", humanize.Time(s.Finished))
	}
	fmt.Fprintf(w, "  valid     %d\n", s.Valid)
	fmt.Fprintf(w, "  malformed %d\n", s.Malformed)
	fmt.Fprintf(w, "  failed    %d\n", s.Failed)
	fmt.Fprintf(w, "  stored    %s\n", humanize.IBytes(uint64(s.Bytes)))
	if !s.Reused {
		fmt.Fprintf(w, "  took      %s\n", s.Finished.Sub(s.Started))
	}
	if s.FromCache {
		fmt.Fprintln(w, "  bundle read from cache")
	}
	for _, f := range s.Failures {
		fmt.Fprintf(w, "  ! %s\n", f)
	}
}
