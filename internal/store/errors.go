package store

import (
	"errors"

	"github.com/Harshitk-cp/veracity/internal/domain"
)

var (
	// ErrNotFound aliases the domain kind so callers can match either.
	ErrNotFound = domain.ErrNotFound
	ErrConflict = errors.New("conflict")
)
