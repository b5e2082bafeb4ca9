package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// submissionNamespace seeds deterministic submission IDs so that a retried
// submit for the same triple always yields the same ID.
var submissionNamespace = uuid.MustParse("6f1d3c1e-8a52-4c7b-9d0e-5b2f7a9c4e11")

// Belief is a participant's own belief and their prediction of the crowd's
// self-reported belief for one signal.
type Belief struct {
	MyBelief     int `json:"my_belief"`
	OthersBelief int `json:"others_belief"`
}

// SubmissionKey identifies the single pending submission a participant may
// hold for a content item in an epoch.
type SubmissionKey struct {
	ParticipantID string `json:"participant_id"`
	ContentID     string `json:"content_id"`
	EpochNumber   uint64 `json:"epoch_number"`
}

func (k SubmissionKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.ParticipantID, k.ContentID, k.EpochNumber)
}

// ID derives the deterministic submission ID for this key.
func (k SubmissionKey) ID() uuid.UUID {
	return uuid.NewSHA1(submissionNamespace, []byte(k.String()))
}

type Submission struct {
	ID            uuid.UUID         `json:"id"`
	ParticipantID string            `json:"participant_id"`
	ContentID     string            `json:"content_id"`
	EpochNumber   uint64            `json:"epoch_number"`
	Beliefs       map[string]Belief `json:"beliefs"`
	Stake         decimal.Decimal   `json:"stake"`
	SubmittedAt   time.Time         `json:"submitted_at"`
	SettledAt     *time.Time        `json:"settled_at,omitempty"`
}

func (s *Submission) Key() SubmissionKey {
	return SubmissionKey{ParticipantID: s.ParticipantID, ContentID: s.ContentID, EpochNumber: s.EpochNumber}
}

// Validate checks the shape of a submission. It does not know about epochs
// or which signal keys the content carries.
func (s *Submission) Validate() error {
	if s.ParticipantID == "" {
		return fmt.Errorf("%w: participant_id is required", ErrValidation)
	}
	if s.ContentID == "" {
		return fmt.Errorf("%w: content_id is required", ErrValidation)
	}
	if len(s.Beliefs) == 0 {
		return fmt.Errorf("%w: at least one signal belief is required", ErrValidation)
	}
	for key, b := range s.Beliefs {
		if key == "" {
			return fmt.Errorf("%w: empty signal key", ErrValidation)
		}
		if !ValidSignalValue(b.MyBelief) {
			return fmt.Errorf("%w: %s my_belief %d outside [0,100]", ErrValidation, key, b.MyBelief)
		}
		if !ValidSignalValue(b.OthersBelief) {
			return fmt.Errorf("%w: %s others_belief %d outside [0,100]", ErrValidation, key, b.OthersBelief)
		}
	}
	if s.Stake.IsNegative() {
		return fmt.Errorf("%w: stake must not be negative", ErrValidation)
	}
	return nil
}
