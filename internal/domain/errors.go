package domain

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrEpochClosed            = errors.New("epoch closed")
	ErrEpochNotOpen           = errors.New("epoch not open")
	ErrValidation             = errors.New("validation error")
	ErrSettlementFailure      = errors.New("settlement failure")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// Retryable reports whether a settlement error is worth another attempt.
// Validation, missing content and stale epochs will not heal on retry.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConcurrentModification):
		return false
	}
	return true
}
