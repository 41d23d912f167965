// Command ansindex indexes ANS-104 bundles stored on Arweave and serves
// lookups from the index.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ndlib/ansindex/indexer"
)

var (
	configFile string
	cfg        Config
)

var rootCmd = &cobra.Command{
	Use:   "ansindex",
	Short: "Index ANS-104 bundles from Arweave",
	Long: `ansindex fetches an ANS-104 bundle from an Arweave gateway, validates
every data item in it, and stores each item's payload and metadata so the
items can be looked up without parsing the bundle again.

Examples:
  ansindex -t <txid>
  ansindex index -t <txid> -s ./storage -g https://arweave.net
  ansindex serve --config ansindex.toml`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(configFile)
		if err != nil {
			return err
		}
		cfg.override(cmd.Flags())
		setupLogging(cfg)
		return nil
	},
	// with -t the root command does the same as "index"
	RunE: func(cmd *cobra.Command, args []string) error {
		if txid == "" {
			return cmd.Help()
		}
		return runIndex(cmd, args)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "TOML config file")
	pf.StringP("storage", "s", "./storage", "storage folder, or \"\" to keep everything in memory")
	pf.StringP("gateway", "g", "https://arweave.net", "Arweave gateway URL")
	pf.BoolP("verbose", "v", false, "log debugging detail")
	addIndexFlags(rootCmd)

	rootCmd.AddCommand(indexCmd, serveCmd, itemCmd, verifyCmd)
}

// exitCode is 2 when indexing stopped on a storage failure and 1 for any
// other error.
func exitCode(err error) int {
	var serr *indexer.StorageError
	if errors.As(err, &serr) {
		return 2
	}
	return 1
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}
