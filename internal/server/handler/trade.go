package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/quantara/perpbot/internal/domain"
)

// TradeHandler serves settled-trade history and per-trade journal events.
type TradeHandler struct {
	settled domain.SettledTradeStore
	events  domain.EventStore
	logger  *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(settled domain.SettledTradeStore, events domain.EventStore, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{settled: settled, events: events, logger: logger}
}

// ListTrades returns settled trades, most recent first.
// GET /api/trades?limit=&offset=&since=
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.settled.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.Error("list trades failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.SettledTrade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trades": trades,
		"count":  len(trades),
	})
}

// GetTrade returns a single settled trade by ID.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	trade, err := h.settled.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "trade not found")
		return
	}
	if err != nil {
		h.logger.Error("get trade failed",
			slog.String("trade_id", id),
			slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to load trade")
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// GetTradeEvents returns the full journal trail for a trade, oldest first.
// GET /api/trades/{id}/events
func (h *TradeHandler) GetTradeEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, err := h.events.ListByTrade(r.Context(), id)
	if err != nil {
		h.logger.Error("list trade events failed",
			slog.String("trade_id", id),
			slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trade_id": id,
		"events":   events,
		"count":    len(events),
	})
}
