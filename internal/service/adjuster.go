package service

import (
	"math"

	"github.com/Harshitk-cp/veracity/internal/domain"
)

// ProportionalAdjuster turns one movement of a composite "Total X" control
// into per-signal values. It holds no state; callers own the in-flight values.
type ProportionalAdjuster struct{}

func NewProportionalAdjuster() *ProportionalAdjuster {
	return &ProportionalAdjuster{}
}

// Eligibility returns the predicate deciding which keys a composite drives.
// Without a profile every key is eligible, otherwise only keys weighted above 0.
func Eligibility(weights *domain.AlgorithmWeights) func(key string) bool {
	if weights == nil {
		return func(string) bool { return true }
	}
	return func(key string) bool { return weights.Weight(key) > 0 }
}

// Adjust applies the same delta to every eligible key and clamps each result
// to [0,100] independently. Ineligible keys are copied through unchanged and
// the input map is never mutated.
func (a *ProportionalAdjuster) Adjust(current map[string]int, delta int, eligible func(key string) bool) map[string]int {
	if eligible == nil {
		eligible = Eligibility(nil)
	}
	out := make(map[string]int, len(current))
	for key, v := range current {
		if eligible(key) {
			out[key] = domain.ClampSignalValue(v + delta)
		} else {
			out[key] = v
		}
	}
	return out
}

// MoveComposite moves the composite control from composite to requested.
// Both ends are clamped first and the effective delta is taken between the
// clamped values, so a drag past the range never leaves the composite out of
// step with its constituents.
func (a *ProportionalAdjuster) MoveComposite(composite, requested int, current map[string]int, eligible func(key string) bool) (int, map[string]int) {
	from := domain.ClampSignalValue(composite)
	to := domain.ClampSignalValue(requested)
	return to, a.Adjust(current, to-from, eligible)
}

// Composite is the display value of the composite control: the rounded mean
// of the eligible values, or 0 when nothing is eligible.
func (a *ProportionalAdjuster) Composite(current map[string]int, eligible func(key string) bool) int {
	if eligible == nil {
		eligible = Eligibility(nil)
	}
	sum, n := 0, 0
	for key, v := range current {
		if eligible(key) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return domain.ClampSignalValue(int(math.Round(float64(sum) / float64(n))))
}
