package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quantara/perpbot/internal/domain"
	"github.com/quantara/perpbot/internal/journal"
)

// Recover rehydrates the open set from the live-trade store. Records that no
// longer decode into a coherent trade are quarantined: a recovery-failure
// event is journaled and the record is skipped, never deleted, so the raw
// payload stays available for inspection. A record whose trade already has a
// settled entry is a leftover from an interrupted settlement; its pending
// live-store delete is completed instead of resurrecting the trade. Returns
// the number of trades restored.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	raw, err := m.live.LoadAllRaw(ctx)
	if err != nil {
		return 0, fmt.Errorf("lifecycle: recover: %w", err)
	}

	restored := 0
	for id, payload := range raw {
		var t domain.Trade
		if err := json.Unmarshal(payload, &t); err != nil {
			m.quarantine(ctx, id, "payload_undecodable", err)
			continue
		}
		if reason := validateRecovered(t); reason != "" {
			m.quarantine(ctx, id, reason, nil)
			continue
		}

		if _, err := m.settled.GetByID(ctx, t.ID); err == nil {
			// Settlement completed before the crash; only the live-store
			// delete is outstanding.
			if derr := m.live.Delete(ctx, t.ID); derr != nil {
				m.logger.Error("recover: settled trade delete failed",
					slog.String("trade_id", t.ID),
					slog.Any("error", derr))
			}
			m.logger.Warn("recover: skipped already-settled trade",
				slog.String("trade_id", t.ID),
				slog.String("asset", t.Asset))
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			m.quarantine(ctx, id, "settled_lookup_failed", err)
			continue
		}

		m.mu.Lock()
		m.open[t.ID] = t
		m.mu.Unlock()
		restored++

		m.logger.Info("trade recovered",
			slog.String("trade_id", t.ID),
			slog.String("asset", t.Asset),
			slog.Float64("remaining_size", t.RemainingSize),
			slog.Bool("expiry_due", t.Expired(m.now().UTC())))
	}

	m.logger.Info("recovery complete",
		slog.Int("restored", restored),
		slog.Int("skipped", len(raw)-restored))
	return restored, nil
}

func (m *Manager) quarantine(ctx context.Context, id, reason string, cause error) {
	payload := map[string]any{"reason": reason}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	if err := m.jnl.Record(ctx, journal.Event(domain.EventTradeRecoveryFailed, "", id, "", payload)); err != nil {
		m.logger.Error("quarantine: journal append failed",
			slog.String("trade_id", id),
			slog.Any("error", err))
	}
	m.logger.Error("trade quarantined",
		slog.String("trade_id", id),
		slog.String("reason", reason))
}

// validateRecovered checks the invariants a live-store record must satisfy
// to re-enter the open set.
func validateRecovered(t domain.Trade) string {
	switch {
	case t.ID == "":
		return "missing_trade_id"
	case t.Asset == "" || !domain.ValidAssetFormat(t.Asset):
		return "invalid_asset"
	case t.Side != domain.SideLong && t.Side != domain.SideShort:
		return "invalid_side"
	case t.EntryPrice <= 0:
		return "invalid_entry_price"
	case t.OriginalSize <= 0 || t.RemainingSize <= 0:
		return "invalid_size"
	case t.RemainingSize > t.OriginalSize+minRemainingSize:
		return "remaining_exceeds_original"
	case t.OpenedAt.IsZero():
		return "missing_opened_at"
	default:
		return ""
	}
}
