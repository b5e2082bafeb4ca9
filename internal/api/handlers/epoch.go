package handlers

import (
	"net/http"
	"time"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/Harshitk-cp/veracity/internal/service"
)

type EpochHandler struct {
	scheduler *service.EpochScheduler
	collector *service.SubmissionCollector
}

func NewEpochHandler(scheduler *service.EpochScheduler, collector *service.SubmissionCollector) *EpochHandler {
	return &EpochHandler{scheduler: scheduler, collector: collector}
}

type epochResponse struct {
	domain.EpochBounds
	Phase            string  `json:"phase"`
	Remaining        string  `json:"remaining"`
	RemainingSeconds float64 `json:"remaining_seconds"`
}

func (h *EpochHandler) Current(w http.ResponseWriter, r *http.Request) {
	st := h.scheduler.State()
	WriteJSON(w, http.StatusOK, epochResponse{
		EpochBounds:      st.Epoch,
		Phase:            string(st.Phase),
		Remaining:        st.Remaining.Round(time.Second).String(),
		RemainingSeconds: st.Remaining.Seconds(),
	})
}

// Get describes epoch n relative to the open one: "closed" before it,
// "upcoming" after it.
func (h *EpochHandler) Get(w http.ResponseWriter, r *http.Request) {
	n, ok := epochParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid epoch number")
		return
	}

	current := h.collector.CurrentEpoch()
	bounds := domain.BoundsOf(n)
	resp := epochResponse{EpochBounds: bounds}
	switch {
	case n < current.Number:
		resp.Phase = "closed"
	case n > current.Number:
		resp.Phase = "upcoming"
	default:
		st := h.scheduler.State()
		resp.Phase = string(st.Phase)
		resp.Remaining = st.Remaining.Round(time.Second).String()
		resp.RemainingSeconds = st.Remaining.Seconds()
	}
	WriteJSON(w, http.StatusOK, resp)
}
