package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marketscanner/internal/domain"
)

// EventHandler serves event statistics and the recent event list.
type EventHandler struct {
	store  Store
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(store Store, logger *slog.Logger) *EventHandler {
	return &EventHandler{store: store, logger: logger}
}

type statsResponse struct {
	Markets    int64            `json:"markets"`
	Events     int64            `json:"events"`
	EventStats map[string]int64 `json:"event_stats"`
}

// Stats returns the market count, the event count and per-kind totals.
// GET /api/stats
func (h *EventHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var resp statsResponse
	var err error

	if resp.Markets, err = h.store.GetMarketCount(ctx); err != nil {
		internalError(w, r, h.logger, "failed to count markets", err)
		return
	}
	if resp.Events, err = h.store.GetEventCount(ctx); err != nil {
		internalError(w, r, h.logger, "failed to count events", err)
		return
	}
	if resp.EventStats, err = h.store.GetEventStats(ctx); err != nil {
		internalError(w, r, h.logger, "failed to get event stats", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Recent returns the newest events first.
// GET /api/events/recent?limit=50
func (h *EventHandler) Recent(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.GetRecentEvents(r.Context(), parseLimit(r))
	if err != nil {
		internalError(w, r, h.logger, "failed to get recent events", err)
		return
	}
	if events == nil {
		events = []domain.EventRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
