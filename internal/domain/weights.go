package domain

import (
	"fmt"
	"sort"
)

// AlgorithmWeights is a named ranking profile mapping signal key to a weight
// in [0,1]. Keys missing from the profile have weight 0.
type AlgorithmWeights struct {
	Name    string             `json:"name" yaml:"name"`
	Weights map[string]float64 `json:"weights" yaml:"weights"`
}

func (w *AlgorithmWeights) Weight(key string) float64 {
	if w == nil {
		return 0
	}
	return w.Weights[key]
}

// Validate rejects unnamed profiles and weights outside [0,1].
func (w *AlgorithmWeights) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("%w: weights profile name is required", ErrValidation)
	}
	keys := make([]string, 0, len(w.Weights))
	for k := range w.Weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := w.Weights[k]
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: profile %s weight %s=%g outside [0,1]", ErrValidation, w.Name, k, v)
		}
	}
	return nil
}
