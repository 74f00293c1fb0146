package guard

import (
	"log/slog"
	"sync"
	"time"

	"github.com/quantara/perpbot/internal/config"
	"github.com/quantara/perpbot/internal/domain"
)

// Pause reasons reported in DrawdownState and the event journal.
const (
	PauseDaily  = "daily_drawdown"
	PauseWeekly = "weekly_drawdown"
	PauseATH    = "ath_drawdown"
)

const weeklyWindow = 7 * 24 * time.Hour

// Verdict is the action the guard requests after observing an equity sample.
// Flatten and Throttle fire at most once per breach episode.
type Verdict struct {
	Flatten  bool
	Park     bool
	Throttle bool
	Reason   string
}

// DrawdownGuard tracks equity peaks over three horizons and pauses or
// throttles trading when configured drawdown limits are breached.
type DrawdownGuard struct {
	mu     sync.Mutex
	cfg    config.DrawdownConfig
	logger *slog.Logger

	state   domain.DrawdownState
	samples []domain.EquityPoint

	dayAnchor        time.Time
	dailyPausedUntil time.Time

	weeklyTrough    float64
	weeklyThrottled bool

	athPaused      bool
	athTriggerPeak float64
}

// NewDrawdownGuard builds a guard with no history. Call Seed before the
// first Observe so rolling peaks survive restarts.
func NewDrawdownGuard(cfg config.DrawdownConfig, logger *slog.Logger) *DrawdownGuard {
	return &DrawdownGuard{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "drawdown")),
		state:  domain.DrawdownState{RiskCapFactor: 1.0},
	}
}

// Seed replays persisted equity history to rebuild the rolling peaks. Points
// must be in chronological order.
func (g *DrawdownGuard) Seed(points []domain.EquityPoint) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, p := range points {
		g.ingestLocked(p.TS, p.Equity)
	}
}

// Observe records an equity sample, recomputes drawdowns against all three
// peaks, and returns the action the engine should take.
func (g *DrawdownGuard) Observe(now time.Time, equity float64) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	if equity <= 0 {
		return Verdict{}
	}

	g.ingestLocked(now, equity)

	st := &g.state
	st.DailyDDPct = drawdownPct(st.DailyPeak, equity)
	st.WeeklyDDPct = drawdownPct(st.WeeklyPeak, equity)
	st.ATHDDPct = drawdownPct(st.ATHPeak, equity)
	st.UpdatedAt = now

	verdict := Verdict{}

	// ATH breach dominates: it pauses until equity climbs back near the
	// peak that triggered it, regardless of day boundaries.
	if g.athPaused {
		if g.athTriggerPeak > 0 && drawdownPct(g.athTriggerPeak, equity) <= g.cfg.ATHRecoveryPct {
			g.athPaused = false
			g.logger.Info("ath drawdown pause released",
				slog.Float64("equity", equity),
				slog.Float64("trigger_peak", g.athTriggerPeak))
		}
	} else if st.ATHDDPct >= g.cfg.ATHLimitPct {
		g.athPaused = true
		g.athTriggerPeak = st.ATHPeak
		verdict = Verdict{Flatten: g.cfg.AutoFlatten, Park: g.cfg.AutoPark, Reason: PauseATH}
		g.logger.Error("ath drawdown limit breached",
			slog.Float64("dd_pct", st.ATHDDPct),
			slog.Float64("limit_pct", g.cfg.ATHLimitPct))
	}

	// Daily breach pauses for the rest of the UTC day.
	if !g.dailyPaused(now) && st.DailyDDPct >= g.cfg.DailyLimitPct {
		g.dailyPausedUntil = g.dayAnchor.Add(24 * time.Hour)
		if !verdict.Flatten {
			verdict.Flatten = g.cfg.AutoFlatten
			if verdict.Reason == "" {
				verdict.Reason = PauseDaily
			}
		}
		g.logger.Error("daily drawdown limit breached",
			slog.Float64("dd_pct", st.DailyDDPct),
			slog.Float64("limit_pct", g.cfg.DailyLimitPct))
	}

	// Weekly breach throttles risk rather than pausing; the throttle holds
	// until equity retraces half the drop from the rolling peak.
	if g.weeklyThrottled {
		if equity < g.weeklyTrough {
			g.weeklyTrough = equity
		}
		retraceTarget := g.weeklyTrough + (st.WeeklyPeak-g.weeklyTrough)*0.5
		if equity >= retraceTarget {
			g.weeklyThrottled = false
			g.logger.Info("weekly drawdown throttle released",
				slog.Float64("equity", equity))
		}
	} else if st.WeeklyDDPct >= g.cfg.WeeklyLimitPct {
		g.weeklyThrottled = true
		g.weeklyTrough = equity
		verdict.Throttle = true
		if verdict.Reason == "" {
			verdict.Reason = PauseWeekly
		}
		g.logger.Warn("weekly drawdown limit breached, throttling risk",
			slog.Float64("dd_pct", st.WeeklyDDPct),
			slog.Float64("risk_factor", g.cfg.WeeklyRiskFactor))
	}

	g.refreshStateLocked(now)
	return verdict
}

// State returns a snapshot of the guard as of the last observation. Pause
// expiry is evaluated on Observe, not here, so snapshots are deterministic.
func (g *DrawdownGuard) State() domain.DrawdownState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// RiskFactor returns the multiplier gates apply to per-trade risk.
func (g *DrawdownGuard) RiskFactor() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.weeklyThrottled {
		return g.cfg.WeeklyRiskFactor
	}
	return 1.0
}

func (g *DrawdownGuard) refreshStateLocked(now time.Time) {
	st := &g.state
	switch {
	case g.athPaused:
		st.Paused, st.PauseReason = true, PauseATH
	case g.dailyPaused(now):
		st.Paused, st.PauseReason = true, PauseDaily
	default:
		st.Paused, st.PauseReason = false, ""
	}
	if g.weeklyThrottled {
		st.RiskCapFactor = g.cfg.WeeklyRiskFactor
	} else {
		st.RiskCapFactor = 1.0
	}
}

func (g *DrawdownGuard) dailyPaused(now time.Time) bool {
	return !g.dailyPausedUntil.IsZero() && now.Before(g.dailyPausedUntil)
}

// ingestLocked folds one sample into the peak trackers and prunes the
// rolling window.
func (g *DrawdownGuard) ingestLocked(ts time.Time, equity float64) {
	day := ts.UTC().Truncate(24 * time.Hour)
	if !day.Equal(g.dayAnchor) {
		g.dayAnchor = day
		g.state.DailyPeak = equity
	} else if equity > g.state.DailyPeak {
		g.state.DailyPeak = equity
	}

	if equity > g.state.ATHPeak {
		g.state.ATHPeak = equity
	}

	g.samples = append(g.samples, domain.EquityPoint{TS: ts, Equity: equity})
	cutoff := ts.Add(-weeklyWindow)
	for len(g.samples) > 0 && g.samples[0].TS.Before(cutoff) {
		g.samples = g.samples[1:]
	}

	peak := 0.0
	for _, p := range g.samples {
		if p.Equity > peak {
			peak = p.Equity
		}
	}
	g.state.WeeklyPeak = peak
}

func drawdownPct(peak, equity float64) float64 {
	if peak <= 0 || equity >= peak {
		return 0
	}
	return (peak - equity) / peak * 100
}
