package main

import (
	"fmt"

	"github.com/Harshitk-cp/veracity/internal/service"
	"github.com/spf13/cobra"
)

func newWeightsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Work with ranking weight profiles",
	}
	cmd.AddCommand(newWeightsValidateCmd())
	return cmd
}

func newWeightsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a weights profile file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			profiles, err := service.LoadWeightsFile(args[0])
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"valid": true, "profiles": profiles})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d profile(s) OK\n", args[0], len(profiles))
			for _, p := range profiles {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s (%d weights)\n", p.Name, len(p.Weights))
			}
			return nil
		},
	}
}
