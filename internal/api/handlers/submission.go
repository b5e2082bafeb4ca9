package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/Harshitk-cp/veracity/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// SubmissionObserver counts submit outcomes.
type SubmissionObserver interface {
	Submission(outcome string)
}

type nopObserver struct{}

func (nopObserver) Submission(string) {}

type SubmissionHandler struct {
	collector *service.SubmissionCollector
	observer  SubmissionObserver
}

func NewSubmissionHandler(collector *service.SubmissionCollector, observer SubmissionObserver) *SubmissionHandler {
	if observer == nil {
		observer = nopObserver{}
	}
	return &SubmissionHandler{collector: collector, observer: observer}
}

type createSubmissionRequest struct {
	ParticipantID string                   `json:"participant_id"`
	EpochNumber   *uint64                  `json:"epoch_number,omitempty"`
	Beliefs       map[string]domain.Belief `json:"beliefs"`
	Stake         decimal.Decimal          `json:"stake"`
}

type createSubmissionResponse struct {
	*domain.Submission
	Replaced bool `json:"replaced"`
}

// Create buffers a submission. Omitting epoch_number targets the open epoch.
// A new submission is 201, a replacement of the same triple 200.
func (h *SubmissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.observer.Submission("invalid")
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub := &domain.Submission{
		ParticipantID: req.ParticipantID,
		ContentID:     chi.URLParam(r, "id"),
		Beliefs:       req.Beliefs,
		Stake:         req.Stake,
	}
	if req.EpochNumber != nil {
		sub.EpochNumber = *req.EpochNumber
	} else {
		sub.EpochNumber = h.collector.CurrentEpoch().Number
	}

	result, err := h.collector.Submit(r.Context(), sub)
	if err != nil {
		h.observer.Submission(submitOutcome(err))
		writeServiceError(w, err, "failed to store submission")
		return
	}

	status := http.StatusCreated
	outcome := "created"
	if result.Replaced {
		status = http.StatusOK
		outcome = "replaced"
	}
	h.observer.Submission(outcome)
	WriteJSON(w, status, createSubmissionResponse{Submission: result.Submission, Replaced: result.Replaced})
}

func submitOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrEpochClosed):
		return "epoch_closed"
	case errors.Is(err, domain.ErrEpochNotOpen):
		return "epoch_not_open"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func (h *SubmissionHandler) Pending(w http.ResponseWriter, r *http.Request) {
	epoch, ok := epochParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid epoch number")
		return
	}

	subs, err := h.collector.Pending(r.Context(), chi.URLParam(r, "id"), epoch)
	if err != nil {
		writeServiceError(w, err, "failed to list submissions")
		return
	}
	if subs == nil {
		subs = []domain.Submission{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"submissions": subs})
}
