package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/quantara/perpbot/internal/domain"
)

// EquityHandler serves the equity time series.
type EquityHandler struct {
	equities domain.EquityStore
	logger   *slog.Logger
}

// NewEquityHandler creates an EquityHandler.
func NewEquityHandler(equities domain.EquityStore, logger *slog.Logger) *EquityHandler {
	return &EquityHandler{equities: equities, logger: logger}
}

// ListEquity returns equity samples for the trailing window.
// GET /api/equity?hours=24&limit=
func (h *EquityHandler) ListEquity(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 24*30 {
			hours = n
		}
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	points, err := h.equities.ListSince(r.Context(), since, limit)
	if err != nil {
		h.logger.Error("list equity failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list equity")
		return
	}
	if points == nil {
		points = []domain.EquityPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since":  since.Format(time.RFC3339),
		"points": points,
		"count":  len(points),
	})
}
