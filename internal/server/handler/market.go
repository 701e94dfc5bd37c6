package handler

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/alanyoungcy/marketscanner/internal/domain"
)

// MarketHandler serves the market endpoints.
type MarketHandler struct {
	store  Store
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(store Store, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{store: store, logger: logger}
}

type listMarketsResponse struct {
	IDs   []string `json:"ids"`
	Total int      `json:"total"`
}

// ListMarkets returns every stored condition id, sorted.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	ids, err := h.store.GetAllMarketIDs(r.Context())
	if err != nil {
		internalError(w, r, h.logger, "failed to list markets", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	sort.Strings(ids)
	writeJSON(w, http.StatusOK, listMarketsResponse{IDs: ids, Total: len(ids)})
}

// GetMarket returns one stored market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	m, err := h.store.GetMarket(r.Context(), id)
	if err != nil {
		internalError(w, r, h.logger, "failed to get market", err)
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type priceHistoryResponse struct {
	ConditionID string              `json:"condition_id"`
	Prices      []domain.PricePoint `json:"prices"`
}

// GetPriceHistory returns the newest price points of one market.
// GET /api/markets/{id}/prices?limit=50
func (h *MarketHandler) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	points, err := h.store.GetPriceHistory(r.Context(), id, parseLimit(r))
	if err != nil {
		internalError(w, r, h.logger, "failed to get price history", err)
		return
	}
	if points == nil {
		points = []domain.PricePoint{}
	}
	writeJSON(w, http.StatusOK, priceHistoryResponse{ConditionID: id, Prices: points})
}
