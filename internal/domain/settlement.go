package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SettlementStatus string

const (
	SettlementPending SettlementStatus = "pending"
	SettlementSettled SettlementStatus = "settled"
	SettlementEmpty   SettlementStatus = "empty"
	SettlementFailed  SettlementStatus = "failed"
)

func ValidSettlementStatus(s string) bool {
	switch SettlementStatus(s) {
	case SettlementPending, SettlementSettled, SettlementEmpty, SettlementFailed:
		return true
	}
	return false
}

// Done reports whether the (content, epoch) pair must not be settled again.
func (s SettlementStatus) Done() bool {
	return s == SettlementSettled || s == SettlementEmpty
}

// ParticipantWeight is one participant's BTS outcome for one signal.
type ParticipantWeight struct {
	ParticipantID string          `json:"participant_id"`
	Key           string          `json:"key"`
	Surprise      float64         `json:"surprise"`
	Weight        float64         `json:"weight"`
	StakeShare    decimal.Decimal `json:"stake_share"`
}

// SettlementRecord is the audit trail of one (content, epoch) settlement.
type SettlementRecord struct {
	ContentID    string              `json:"content_id"`
	EpochNumber  uint64              `json:"epoch_number"`
	Status       SettlementStatus    `json:"status"`
	Attempts     int                 `json:"attempts"`
	LastError    string              `json:"last_error,omitempty"`
	Contributors int                 `json:"contributors"`
	Values       map[string]int      `json:"values,omitempty"`
	Weights      []ParticipantWeight `json:"weights,omitempty"`
	SettledAt    *time.Time          `json:"settled_at,omitempty"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// PendingSettlement names a (content, epoch) pair that holds unsettled submissions.
type PendingSettlement struct {
	ContentID   string `json:"content_id"`
	EpochNumber uint64 `json:"epoch_number"`
}

// SettlementEvent is published to downstream consumers after a settlement
// changed aggregate values.
type SettlementEvent struct {
	ContentID    string         `json:"content_id"`
	EpochNumber  uint64         `json:"epoch_number"`
	Values       map[string]int `json:"values"`
	Contributors int            `json:"contributors"`
	SettledAt    time.Time      `json:"settled_at"`
}
