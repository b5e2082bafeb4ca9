package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Harshitk-cp/veracity/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	_ = config.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "veracity",
		Short: "Signal validation and epoch settlement admin tool",
		Long: `veracity inspects epochs, previews composite adjustments, validates
ranking weight profiles and runs settlements against the configured store.

Store selection follows the server: STORE_BACKEND, DATABASE_URL, SQLITE_PATH.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newEpochCmd(),
		newAdjustCmd(),
		newWeightsCmd(),
		newSettleCmd(),
	)
	return rootCmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
