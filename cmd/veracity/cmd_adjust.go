package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/Harshitk-cp/veracity/internal/service"
	"github.com/spf13/cobra"
)

type adjustResult struct {
	Composite int            `json:"composite"`
	Values    map[string]int `json:"values"`
}

func newAdjustCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adjust",
		Short: "Preview a composite adjustment",
		Long: `Preview moving the composite control over a set of signal values.

Every eligible signal moves by the same delta and is clamped to [0,100].
With a weights profile only signals weighted above zero are eligible.

Examples:
  veracity adjust --values truth=50,relevance=50 --delta 20
  veracity adjust --values truth=80,relevance=40 --target 100
  veracity adjust --values truth=50,relevance=50 --delta 20 --weights weights.yaml --profile feed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			valuesStr, _ := cmd.Flags().GetString("values")
			delta, _ := cmd.Flags().GetInt("delta")
			weightsPath, _ := cmd.Flags().GetString("weights")
			profileName, _ := cmd.Flags().GetString("profile")

			values, err := parseValues(valuesStr)
			if err != nil {
				return err
			}

			var profile *domain.AlgorithmWeights
			if profileName != "" {
				if weightsPath == "" {
					return fmt.Errorf("--profile requires --weights")
				}
				profiles, err := service.LoadWeightsFile(weightsPath)
				if err != nil {
					return err
				}
				profile, err = service.NewWeightsRegistry(profiles).Get(profileName)
				if err != nil {
					return fmt.Errorf("%w: %s", err, profileName)
				}
			}

			adj := service.NewProportionalAdjuster()
			eligible := service.Eligibility(profile)
			var res adjustResult
			if cmd.Flags().Changed("target") {
				target, _ := cmd.Flags().GetInt("target")
				res.Composite, res.Values = adj.MoveComposite(adj.Composite(values, eligible), target, values, eligible)
			} else {
				res.Values = adj.Adjust(values, delta, eligible)
				res.Composite = adj.Composite(res.Values, eligible)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			keys := make([]string, 0, len(res.Values))
			for k := range res.Values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "%-16s %3d -> %3d\n", k, values[k], res.Values[k])
			}
			fmt.Fprintf(out, "%-16s %3d\n", "composite", res.Composite)
			return nil
		},
	}

	cmd.Flags().String("values", "", "Current values as key=value pairs, comma separated (required)")
	cmd.Flags().Int("delta", 0, "Amount to move every eligible signal")
	cmd.Flags().Int("target", 0, "Move the composite to this value instead of applying --delta")
	cmd.Flags().String("weights", "", "YAML file with weights profiles")
	cmd.Flags().String("profile", "", "Weights profile limiting which signals move")
	_ = cmd.MarkFlagRequired("values")

	return cmd
}

func parseValues(s string) (map[string]int, error) {
	out := make(map[string]int)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid value %q, want key=value", pair)
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		if !domain.ValidSignalValue(v) {
			return nil, fmt.Errorf("value for %s must be within [0,100], got %d", key, v)
		}
		out[key] = v
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("--values is empty")
	}
	return out, nil
}
