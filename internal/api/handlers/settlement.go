package handlers

import (
	"net/http"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/Harshitk-cp/veracity/internal/service"
	"github.com/go-chi/chi/v5"
)

type SettlementHandler struct {
	scheduler *service.EpochScheduler
}

func NewSettlementHandler(scheduler *service.EpochScheduler) *SettlementHandler {
	return &SettlementHandler{scheduler: scheduler}
}

func (h *SettlementHandler) Get(w http.ResponseWriter, r *http.Request) {
	epoch, ok := epochParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid epoch number")
		return
	}

	rec, err := h.scheduler.Record(r.Context(), chi.URLParam(r, "id"), epoch)
	if err != nil {
		writeServiceError(w, err, "failed to get settlement")
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// Settle runs a settlement for a closed epoch now. Already settled pairs
// return their existing record.
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	epoch, ok := epochParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid epoch number")
		return
	}

	rec, err := h.scheduler.Settle(r.Context(), chi.URLParam(r, "id"), epoch)
	if err != nil {
		writeServiceError(w, err, "failed to settle")
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

func (h *SettlementHandler) Failed(w http.ResponseWriter, r *http.Request) {
	recs, err := h.scheduler.Failed(r.Context())
	if err != nil {
		writeServiceError(w, err, "failed to list settlements")
		return
	}
	if recs == nil {
		recs = []domain.SettlementRecord{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"settlements": recs})
}
