package service

import (
	"math"

	"github.com/Harshitk-cp/veracity/internal/domain"
)

// DefaultBTSTemperature is the softmax temperature in belief points. At 10,
// a surprise lead of 10 points is worth a factor of e in weight.
const DefaultBTSTemperature = 10.0

// BTSResult is the outcome of scoring one signal's beliefs for an epoch.
type BTSResult struct {
	Value     int
	Surprises []float64
	Weights   []float64
}

// SurpriseScores computes s_i = (my_i - O) - (others_i - M) where M and O are
// the population means of my and others beliefs.
func SurpriseScores(beliefs []domain.Belief) []float64 {
	if len(beliefs) == 0 {
		return nil
	}
	var sumMy, sumOthers float64
	for _, b := range beliefs {
		sumMy += float64(b.MyBelief)
		sumOthers += float64(b.OthersBelief)
	}
	n := float64(len(beliefs))
	m, o := sumMy/n, sumOthers/n

	scores := make([]float64, len(beliefs))
	for i, b := range beliefs {
		scores[i] = (float64(b.MyBelief) - o) - (float64(b.OthersBelief) - m)
	}
	return scores
}

// SoftmaxWeights maps scores to non-negative weights summing to 1. The max is
// subtracted before exponentiation so large scores cannot overflow. A
// non-positive temperature falls back to DefaultBTSTemperature.
func SoftmaxWeights(scores []float64, temperature float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	if temperature <= 0 {
		temperature = DefaultBTSTemperature
	}
	maxScore := scores[0]
	for _, s := range scores[1:] {
		maxScore = math.Max(maxScore, s)
	}

	weights := make([]float64, len(scores))
	var total float64
	for i, s := range scores {
		weights[i] = math.Exp((s - maxScore) / temperature)
		total += weights[i]
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights
}

// ScoreBeliefs runs BTS over one signal's beliefs. With a single belief the
// weight is 1 and the value is that belief; identical beliefs score 0 each and
// fall back to the plain mean.
func ScoreBeliefs(beliefs []domain.Belief, temperature float64) BTSResult {
	if len(beliefs) == 0 {
		return BTSResult{}
	}
	surprises := SurpriseScores(beliefs)
	weights := SoftmaxWeights(surprises, temperature)

	var value float64
	for i, b := range beliefs {
		value += weights[i] * float64(b.MyBelief)
	}
	return BTSResult{
		Value:     domain.ClampSignalValue(int(math.Round(value))),
		Surprises: surprises,
		Weights:   weights,
	}
}
