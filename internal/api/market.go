package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/agora-labs/internal/market"
)

// GetCoin handles GET /api/market/coins/{id}.
func (h *Handler) GetCoin(w http.ResponseWriter, r *http.Request) {
	coin, err := h.market.GetCoinByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeMarketError(w, err)
		return
	}
	JSON(w, http.StatusOK, coin)
}

// GetTopCoins handles GET /api/market/top?limit=N.
func (h *Handler) GetTopCoins(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r, market.DefaultTopLimit)
	if !ok {
		return
	}
	coins, err := h.market.GetTopCryptocurrencies(r.Context(), limit)
	if err != nil {
		writeMarketError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"coins": coins})
}

// GetCoinList handles GET /api/market/coins?limit=N.
func (h *Handler) GetCoinList(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r, market.DefaultListLimit)
	if !ok {
		return
	}
	coins, err := h.market.GetCoinList(r.Context(), limit)
	if err != nil {
		writeMarketError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"coins": coins})
}

func limitParam(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		Error(w, http.StatusBadRequest, "limit must be an integer")
		return 0, false
	}
	return n, true
}

func writeMarketError(w http.ResponseWriter, err error) {
	var se *market.StatusError
	switch {
	case errors.Is(err, market.ErrCoinIDRequired), errors.Is(err, market.ErrInvalidLimit):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, market.ErrCoinNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.As(err, &se):
		slog.Warn("Market upstream error", "status", se.StatusCode, "error", err)
		Error(w, http.StatusBadGateway, "market data provider returned an error")
	default:
		slog.Error("Market request failed", "error", err)
		Error(w, http.StatusBadGateway, "market data unavailable")
	}
}
