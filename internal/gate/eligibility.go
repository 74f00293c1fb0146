// Package gate implements the pre-trade eligibility checks that stand
// between a parsed proposal and the risk pipeline.
package gate

import (
	"log/slog"
	"slices"
	"time"

	"github.com/quantara/perpbot/internal/config"
	"github.com/quantara/perpbot/internal/domain"
)

// Reject reasons. Each rejected proposal carries exactly one; checks run in
// fixed order and the first failure wins.
const (
	ReasonNotEntry           = "not_an_entry"
	ReasonInvalidAsset       = "invalid_asset_format"
	ReasonShortNeedsPerp     = "short_requires_perp"
	ReasonHealthBlocked      = "health_not_healthy"
	ReasonDrawdownPaused     = "drawdown_paused"
	ReasonPumpExcludedSafe   = "pump_excluded_from_safe_sleeve"
	ReasonAssetNotSafeListed = "asset_not_in_safe_list"
	ReasonConfidenceTooLow   = "confidence_below_minimum"
	ReasonNotReady           = "readiness_window_not_elapsed"
)

// HealthView is the slice of the health monitor the gate needs.
type HealthView interface {
	BlocksEntries() bool
	Status() domain.HealthStatus
}

// DrawdownView is the slice of the drawdown guard the gate needs.
type DrawdownView interface {
	State() domain.DrawdownState
}

// Eligibility applies the sleeve rules, venue constraints, and guard
// verdicts to entry proposals.
type Eligibility struct {
	cfg       config.RiskConfig
	health    HealthView
	drawdown  DrawdownView
	startedAt time.Time
	logger    *slog.Logger
}

// NewEligibility builds the gate. startedAt anchors the readiness window.
func NewEligibility(cfg config.RiskConfig, health HealthView, drawdown DrawdownView, startedAt time.Time, logger *slog.Logger) *Eligibility {
	return &Eligibility{
		cfg:       cfg,
		health:    health,
		drawdown:  drawdown,
		startedAt: startedAt,
		logger:    logger.With(slog.String("component", "eligibility")),
	}
}

// Check returns an empty string when the proposal may proceed to sizing, or
// the reject reason otherwise. Only entry actions are gated here; hold and
// close flow through other paths.
func (e *Eligibility) Check(p domain.Proposal, now time.Time) string {
	if !p.Action.IsEntry() {
		return ReasonNotEntry
	}
	if reason := e.checkEntry(p, now); reason != "" {
		e.logger.Info("proposal rejected",
			slog.String("decision_id", p.DecisionID),
			slog.String("asset", p.Asset),
			slog.String("reason", reason))
		return reason
	}
	return ""
}

func (e *Eligibility) checkEntry(p domain.Proposal, now time.Time) string {
	if !domain.ValidAssetFormat(p.Asset) {
		return ReasonInvalidAsset
	}
	if p.Action == domain.ActionOpenShort && !domain.IsPerp(p.Asset) {
		return ReasonShortNeedsPerp
	}

	if e.health.BlocksEntries() {
		return ReasonHealthBlocked
	}
	if e.drawdown.State().Paused {
		return ReasonDrawdownPaused
	}

	// Every entry waits out the readiness window after process start,
	// regardless of sleeve.
	readiness := time.Duration(e.cfg.ReadinessHours * float64(time.Hour))
	if readiness > 0 && now.Sub(e.startedAt) < readiness {
		return ReasonNotReady
	}

	if p.Sleeve == domain.SleeveSafe {
		if p.PumpScore >= e.cfg.PumpScoreThreshold {
			return ReasonPumpExcludedSafe
		}
		if !slices.Contains(e.cfg.SafeAssets, p.Asset) {
			return ReasonAssetNotSafeListed
		}
		if p.Confidence < e.cfg.MinConfidenceSafe {
			return ReasonConfidenceTooLow
		}
		return ""
	}

	if p.Confidence < e.cfg.MinConfidenceAggr {
		return ReasonConfidenceTooLow
	}
	return ""
}
