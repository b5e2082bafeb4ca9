package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/Harshitk-cp/veracity/internal/service"
	"github.com/go-chi/chi/v5"
)

type ContentHandler struct {
	signals  *service.SignalService
	adjuster *service.ProportionalAdjuster
	weights  *service.WeightsRegistry
}

func NewContentHandler(signals *service.SignalService, adjuster *service.ProportionalAdjuster, weights *service.WeightsRegistry) *ContentHandler {
	return &ContentHandler{signals: signals, adjuster: adjuster, weights: weights}
}

type registerContentRequest struct {
	ContentID string              `json:"content_id"`
	Signals   []domain.SignalSpec `json:"signals,omitempty"`
}

type signalsResponse struct {
	ContentID string           `json:"content_id"`
	Signals   []*domain.Signal `json:"signals"`
}

func (h *ContentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := h.signals.Register(r.Context(), req.ContentID, req.Signals); err != nil {
		writeServiceError(w, err, "failed to register content")
		return
	}

	ordered, err := h.signals.Ordered(r.Context(), req.ContentID)
	if err != nil {
		writeServiceError(w, err, "failed to load signals")
		return
	}
	WriteJSON(w, http.StatusCreated, signalsResponse{ContentID: req.ContentID, Signals: ordered})
}

func (h *ContentHandler) List(w http.ResponseWriter, r *http.Request) {
	ids, err := h.signals.List(r.Context())
	if err != nil {
		writeServiceError(w, err, "failed to list content")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"content_ids": ids})
}

func (h *ContentHandler) Signals(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ordered, err := h.signals.Ordered(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "failed to load signals")
		return
	}
	WriteJSON(w, http.StatusOK, signalsResponse{ContentID: id, Signals: ordered})
}

// adjustRequest moves either the composite control (Composite set) or every
// eligible signal by Delta. Values overrides the stored values, letting a
// client chain previews without persisting anything.
type adjustRequest struct {
	Delta          int            `json:"delta"`
	Composite      *int           `json:"composite,omitempty"`
	Target         *int           `json:"target,omitempty"`
	WeightsProfile string         `json:"weights_profile,omitempty"`
	Values         map[string]int `json:"values,omitempty"`
}

type adjustResponse struct {
	ContentID string         `json:"content_id"`
	Composite int            `json:"composite"`
	Values    map[string]int `json:"values"`
}

// Adjust previews a composite move. Nothing is persisted: settled values
// only change through epoch settlement.
func (h *ContentHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile, err := h.weights.Get(req.WeightsProfile)
	if err != nil {
		writeServiceError(w, err, "failed to load weights profile")
		return
	}

	current := req.Values
	if current == nil {
		collection, err := h.signals.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, err, "failed to load signals")
			return
		}
		current = collection.Values()
	}

	eligible := service.Eligibility(profile)
	var composite int
	var values map[string]int
	switch {
	case req.Target != nil:
		from := h.adjuster.Composite(current, eligible)
		if req.Composite != nil {
			from = *req.Composite
		}
		composite, values = h.adjuster.MoveComposite(from, *req.Target, current, eligible)
	case req.Composite != nil:
		composite, values = h.adjuster.MoveComposite(*req.Composite, *req.Composite+req.Delta, current, eligible)
	default:
		values = h.adjuster.Adjust(current, req.Delta, eligible)
		composite = h.adjuster.Composite(values, eligible)
	}

	WriteJSON(w, http.StatusOK, adjustResponse{ContentID: id, Composite: composite, Values: values})
}
