package domain

import (
	"fmt"
	"time"
)

// EpochLength is the fixed settlement window. 24h is a multiple of it, so
// boundaries fall on 00:00, 04:00, ... 20:00 UTC every day.
const EpochLength = 4 * time.Hour

const epochSeconds = int64(EpochLength / time.Second)

type EpochPhase string

const (
	EpochOpen    EpochPhase = "open"
	EpochClosing EpochPhase = "closing"
	EpochSettled EpochPhase = "settled"
)

// EpochBounds is the half-open interval [Start, End) of one epoch.
type EpochBounds struct {
	Number uint64    `json:"epoch_number"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// Contains reports whether t falls inside [Start, End).
func (b EpochBounds) Contains(t time.Time) bool {
	return !t.Before(b.Start) && t.Before(b.End)
}

// Remaining is the time left until End, never negative.
func (b EpochBounds) Remaining(now time.Time) time.Duration {
	d := b.End.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// EpochOf maps a timestamp to its epoch number, counted from the Unix origin.
// Timestamps before 1970 map to epoch 0.
func EpochOf(t time.Time) uint64 {
	sec := t.Unix()
	if sec < 0 {
		return 0
	}
	return uint64(sec / epochSeconds)
}

// BoundsOf returns the UTC bounds of epoch n.
func BoundsOf(n uint64) EpochBounds {
	start := time.Unix(int64(n)*epochSeconds, 0).UTC()
	return EpochBounds{Number: n, Start: start, End: start.Add(EpochLength)}
}

// CurrentEpoch is a convenience for BoundsOf(EpochOf(now)).
func CurrentEpoch(now time.Time) EpochBounds {
	return BoundsOf(EpochOf(now))
}

// EpochState is a point-in-time view of the scheduler's state machine.
type EpochState struct {
	Phase     EpochPhase    `json:"phase"`
	Epoch     EpochBounds   `json:"epoch"`
	Remaining time.Duration `json:"remaining_ns"`
}

func (s EpochState) String() string {
	return fmt.Sprintf("%s(%d)", s.Phase, s.Epoch.Number)
}
