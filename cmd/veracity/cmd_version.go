package main

import (
	"fmt"

	"github.com/Harshitk-cp/veracity/internal/buildconfig"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), buildconfig.Get())
			}
			fmt.Fprintln(cmd.OutOrStdout(), buildconfig.Get().String())
			return nil
		},
	}
}
