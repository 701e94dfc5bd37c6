package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// TrackedCounter reports how many markets the live loop is tracking.
type TrackedCounter interface {
	TrackedCount() int
}

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	scanner   TrackedCounter
	storage   string
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. scanner may be nil when the
// process only serves the API.
func NewHealthHandler(scanner TrackedCounter, storage string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		scanner:   scanner,
		storage:   storage,
		startedAt: time.Now(),
		logger:    logger,
	}
}

// HealthCheck reports liveness, the storage backend and, when scanning, the
// tracked market count.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"storage":        h.storage,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if h.scanner != nil {
		body["tracked_markets"] = h.scanner.TrackedCount()
	}
	writeJSON(w, http.StatusOK, body)
}
