package handlers

import (
	"net/http"

	"github.com/Harshitk-cp/veracity/internal/service"
	"github.com/go-chi/chi/v5"
)

type WeightsHandler struct {
	registry *service.WeightsRegistry
}

func NewWeightsHandler(registry *service.WeightsRegistry) *WeightsHandler {
	return &WeightsHandler{registry: registry}
}

func (h *WeightsHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"profiles": h.registry.List()})
}

func (h *WeightsHandler) Get(w http.ResponseWriter, r *http.Request) {
	profile, err := h.registry.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeServiceError(w, err, "failed to get weights profile")
		return
	}
	WriteJSON(w, http.StatusOK, profile)
}
