// Package handler implements the read-only JSON endpoints over a market
// store.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/marketscanner/internal/domain"
)

// Store is the read side of domain.Store used by the handlers.
type Store interface {
	GetMarket(ctx context.Context, conditionID string) (*domain.StoredMarket, error)
	GetAllMarketIDs(ctx context.Context) ([]string, error)
	GetMarketCount(ctx context.Context) (int64, error)
	GetEventCount(ctx context.Context) (int64, error)
	GetPriceHistory(ctx context.Context, conditionID string, limit int) ([]domain.PricePoint, error)
	GetRecentEvents(ctx context.Context, limit int) ([]domain.EventRecord, error)
	GetEventStats(ctx context.Context) (map[string]int64, error)
}

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// writeJSON marshals v and writes it with the given status. A marshal
// failure becomes a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseLimit reads ?limit=, falling back to defaultLimit for a missing or
// non-positive value and clamping to maxLimit.
func parseLimit(r *http.Request) int {
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return min(limit, maxLimit)
}

// internalError logs err and answers 500 with msg.
func internalError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msg string, err error) {
	logger.ErrorContext(r.Context(), "handler: "+msg,
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, msg)
}
