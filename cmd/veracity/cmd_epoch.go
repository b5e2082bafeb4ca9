package main

import (
	"fmt"
	"time"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/spf13/cobra"
)

type epochInfo struct {
	domain.EpochBounds
	At               time.Time `json:"at"`
	Remaining        string    `json:"remaining"`
	RemainingSeconds float64   `json:"remaining_seconds"`
}

func newEpochCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "epoch",
		Short: "Show the epoch containing a point in time",
		Long: `Show the epoch containing a point in time and how long until it closes.

Epochs are fixed 4-hour UTC windows starting at 00:00, 04:00, ... 20:00.

Examples:
  veracity epoch
  veracity epoch --at 2025-03-01T03:59:59Z
  veracity epoch --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			atStr, _ := cmd.Flags().GetString("at")

			at := time.Now().UTC()
			if atStr != "" {
				parsed, err := time.Parse(time.RFC3339, atStr)
				if err != nil {
					return fmt.Errorf("invalid --at value %q: %w", atStr, err)
				}
				at = parsed.UTC()
			}

			bounds := domain.CurrentEpoch(at)
			remaining := bounds.Remaining(at)
			info := epochInfo{
				EpochBounds:      bounds,
				At:               at,
				Remaining:        remaining.String(),
				RemainingSeconds: remaining.Seconds(),
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "epoch:     %d\n", bounds.Number)
			fmt.Fprintf(out, "start:     %s\n", bounds.Start.Format(time.RFC3339))
			fmt.Fprintf(out, "end:       %s\n", bounds.End.Format(time.RFC3339))
			fmt.Fprintf(out, "remaining: %s\n", remaining)
			return nil
		},
	}

	cmd.Flags().String("at", "", "RFC3339 timestamp (default now)")

	return cmd
}
