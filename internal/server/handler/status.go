package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/quantara/perpbot/internal/domain"
)

// SnapshotSource produces the current engine state snapshot.
type SnapshotSource func() domain.StateSnapshot

// StatusHandler serves the engine state snapshot. It prefers the cached
// snapshot so status reads never contend with the engine; the live source is
// the fallback when the cache is cold or unreachable.
type StatusHandler struct {
	cache  domain.SnapshotCache
	source SnapshotSource
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler. cache may be nil.
func NewStatusHandler(cache domain.SnapshotCache, source SnapshotSource, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{cache: cache, source: source, logger: logger}
}

// GetStatus returns the latest state snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil {
		snap, err := h.cache.Get(r.Context())
		if err == nil {
			writeJSON(w, http.StatusOK, snap)
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.Warn("snapshot cache read failed", slog.Any("error", err))
		}
	}
	writeJSON(w, http.StatusOK, h.source())
}
