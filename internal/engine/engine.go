// Package engine orchestrates the decision cycle: quality gate, oracle
// consultation, eligibility, risk sizing, execution, and handoff to the
// lifecycle manager. It also runs the guard loop that feeds the drawdown
// and health monitors.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantara/perpbot/internal/config"
	"github.com/quantara/perpbot/internal/domain"
	"github.com/quantara/perpbot/internal/executor"
	"github.com/quantara/perpbot/internal/gate"
	"github.com/quantara/perpbot/internal/guard"
	"github.com/quantara/perpbot/internal/journal"
	"github.com/quantara/perpbot/internal/lifecycle"
	"github.com/quantara/perpbot/internal/observability"
	"github.com/quantara/perpbot/internal/quality"
	"github.com/quantara/perpbot/internal/risk"
)

// Engine wires the decision pipeline together. All cross-cycle state lives
// in the collaborators; the engine itself only tracks parked status and the
// last decision outcome.
type Engine struct {
	cfg *config.Config

	oracle  domain.DecisionOracle
	md      domain.MarketDataProvider
	equityP domain.EquityProvider

	quality  *quality.Gate
	health   *guard.HealthMonitor
	drawdown *guard.DrawdownGuard
	gate     *gate.Eligibility
	levels   *risk.Calculator
	sizer    *risk.Sizer
	router   *executor.Router
	manager  *lifecycle.Manager
	jnl      *journal.Journal
	equities domain.EquityStore
	logger   *slog.Logger

	mu     sync.Mutex
	parked bool
	last   domain.LastDecision
	equity float64
	alert  func(event, title, message string)

	now func() time.Time
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Oracle   domain.DecisionOracle
	Market   domain.MarketDataProvider
	Equity   domain.EquityProvider
	Quality  *quality.Gate
	Health   *guard.HealthMonitor
	Drawdown *guard.DrawdownGuard
	Gate     *gate.Eligibility
	Levels   *risk.Calculator
	Sizer    *risk.Sizer
	Router   *executor.Router
	Manager  *lifecycle.Manager
	Journal  *journal.Journal
	Equities domain.EquityStore
}

// New builds the engine.
func New(cfg *config.Config, d Deps, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		oracle:   d.Oracle,
		md:       d.Market,
		equityP:  d.Equity,
		quality:  d.Quality,
		health:   d.Health,
		drawdown: d.Drawdown,
		gate:     d.Gate,
		levels:   d.Levels,
		sizer:    d.Sizer,
		router:   d.Router,
		manager:  d.Manager,
		jnl:      d.Journal,
		equities: d.Equities,
		logger:   logger.With(slog.String("component", "engine")),
		parked:   cfg.Parked,
		now:      time.Now,
	}
}

// RunCycle executes one decision cycle end to end. Every early exit leaves a
// journal trace; a cycle never partially opens a trade.
func (e *Engine) RunCycle(ctx context.Context) {
	now := e.now().UTC()

	if e.Parked() {
		e.logger.Debug("cycle skipped: parked")
		return
	}

	qres, err := e.quality.Check(ctx, now)
	if err != nil {
		e.health.RecordFailure(now, "market_data_unavailable")
		e.logger.Error("quality check errored", slog.Any("error", err))
		return
	}
	if !qres.OK {
		_ = e.jnl.Record(ctx, journal.Event(domain.EventTradeOpenRejectedQuality, "", "", "", map[string]any{
			"reason":       qres.Reason,
			"basket_size":  qres.BasketSize,
			"fresh_ratio":  qres.FreshRatio,
			"atr_coverage": qres.ATRCoverage,
		}))
		observability.RecordRejection("quality", qres.Reason)
		e.setLast(domain.LastDecision{Action: domain.ActionHold, Reason: qres.Reason, TS: now})
		// Exposure rests flat while market data cannot be trusted.
		e.manager.FlattenAll(ctx, domain.CloseReasonDataQuality)
		return
	}

	raw, err := e.consult(ctx)
	if err != nil {
		e.health.RecordFailure(e.now().UTC(), "oracle_failure")
		e.logger.Error("oracle consultation failed", slog.Any("error", err))
		return
	}
	e.health.RecordSuccess(e.now().UTC())

	p, err := domain.ParseProposal(raw, now)
	if err != nil {
		e.logger.Warn("unparseable proposal held", slog.Any("error", err))
		e.setLast(domain.LastDecision{Action: domain.ActionHold, Reason: "invalid_proposal", TS: now})
		return
	}

	observability.RecordDecision(p.Action)
	_ = e.jnl.Record(ctx, journal.Event(domain.EventDecisionReceived, p.DecisionID, "", p.Asset, map[string]any{
		"action":     string(p.Action),
		"sleeve":     string(p.Sleeve),
		"pump_score": p.PumpScore,
		"conviction": p.Confidence,
	}))

	switch p.Action {
	case domain.ActionHold:
		e.setLast(domain.LastDecision{DecisionID: p.DecisionID, Action: p.Action, Reason: p.Reason, TS: now})
	case domain.ActionClose:
		if err := e.manager.CloseAsset(ctx, p.Asset, domain.CloseReasonManual); err != nil {
			e.logger.Error("close request failed",
				slog.String("asset", p.Asset),
				slog.Any("error", err))
		}
		e.setLast(domain.LastDecision{DecisionID: p.DecisionID, Action: p.Action, Asset: p.Asset, TS: now})
	default:
		e.openPosition(ctx, p, now)
	}
}

func (e *Engine) openPosition(ctx context.Context, p domain.Proposal, now time.Time) {
	_ = e.jnl.Record(ctx, journal.Event(domain.EventTradeOpenRequested, p.DecisionID, "", p.Asset, map[string]any{
		"action": string(p.Action),
		"sleeve": string(p.Sleeve),
	}))

	reject := func(reason string, eventType domain.EventType) {
		stage := "eligibility"
		if eventType == domain.EventTradeOpenRejectedExec {
			stage = "execution"
		}
		observability.RecordRejection(stage, reason)
		_ = e.jnl.Record(ctx, journal.Event(eventType, p.DecisionID, "", p.Asset, map[string]any{
			"reason": reason,
		}))
		e.setLast(domain.LastDecision{DecisionID: p.DecisionID, Action: p.Action, Asset: p.Asset, Reason: reason, TS: now})
	}

	if reason := e.gate.Check(p, now); reason != "" {
		reject(reason, domain.EventTradeOpenRejectedEligibility)
		return
	}

	snap, err := e.md.Snapshot(ctx, p.Asset)
	if err != nil {
		reject("market_data_unavailable", domain.EventTradeOpenRejectedEligibility)
		return
	}

	lv, reason := e.levels.Compute(p, snap)
	if reason != "" {
		reject(reason, domain.EventTradeOpenRejectedEligibility)
		return
	}

	equity, err := e.equityP.Equity(ctx)
	if err != nil {
		reject("equity_unavailable", domain.EventTradeOpenRejectedEligibility)
		return
	}

	sz, reason := e.sizer.Size(p, lv, equity, e.drawdown.RiskFactor())
	if reason != "" {
		reject(reason, domain.EventTradeOpenRejectedEligibility)
		return
	}

	side := domain.SideLong
	if p.Action == domain.ActionOpenShort {
		side = domain.SideShort
	}
	fill, err := e.router.ExecuteEntry(ctx, executor.Request{
		Asset:     p.Asset,
		Direction: executor.DirectionFor(side, false),
		Size:      sz.Contracts,
		Leverage:  sz.Leverage,
	}, snap)
	if err != nil {
		reject(err.Error(), domain.EventTradeOpenRejectedExec)
		return
	}

	if _, err := e.manager.Open(ctx, p, lv, sz, fill); err != nil {
		e.logger.Error("trade admission failed",
			slog.String("decision_id", p.DecisionID),
			slog.Any("error", err))
		return
	}
	e.setLast(domain.LastDecision{DecisionID: p.DecisionID, Action: p.Action, Asset: p.Asset, TS: now})
}

// consult calls the oracle under the configured timeout.
func (e *Engine) consult(ctx context.Context) ([]byte, error) {
	timeout := time.Duration(e.cfg.Oracle.TimeoutSec) * time.Second
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return e.oracle.Propose(ctx)
}

// GuardTick samples equity, feeds the drawdown guard, and enforces flatten
// verdicts from both guards. It runs on its own cadence, independent of the
// decision cycle.
func (e *Engine) GuardTick(ctx context.Context) {
	now := e.now().UTC()

	equity, err := e.equityP.Equity(ctx)
	if err != nil {
		e.logger.Warn("guard tick: equity unavailable", slog.Any("error", err))
	} else if equity > 0 {
		e.mu.Lock()
		e.equity = equity
		e.mu.Unlock()

		if e.equities != nil {
			if err := e.equities.Append(ctx, domain.EquityPoint{TS: now, Equity: equity}); err != nil {
				e.logger.Warn("guard tick: equity append failed", slog.Any("error", err))
			}
		}

		v := e.drawdown.Observe(now, equity)
		if v.Flatten {
			e.logger.Error("drawdown breach, flattening",
				slog.String("reason", v.Reason))
			e.manager.FlattenAll(ctx, domain.CloseReasonDrawdown)
		}
		if v.Park {
			e.SetParked(true, v.Reason)
		}
		if v.Reason != "" {
			action := "trading paused"
			switch {
			case v.Flatten:
				action = "flattening all positions"
			case v.Throttle && !v.Park:
				action = "risk throttled"
			}
			e.raiseAlert("drawdown_breach", "Drawdown limit breached",
				fmt.Sprintf("%s limit breached, %s.", v.Reason, action))
		}
	}

	if e.health.ShouldFlatten(now) {
		e.logger.Error("outage persisted, flattening")
		e.manager.FlattenAll(ctx, domain.CloseReasonOutageFlatten)
		// Entries stay suppressed after health recovers until an operator
		// unparks.
		e.SetParked(true, "outage_flatten")
		e.raiseAlert("outage_flatten", "Outage flatten",
			"Upstream outage persisted past the flatten deadline; all open positions are being closed and new entries are parked.")
	}
}

// OnAlert registers a callback for operator-facing guard events (drawdown
// breaches, outage flattens). Call before the loops start; the callback must
// not block.
func (e *Engine) OnAlert(fn func(event, title, message string)) {
	e.mu.Lock()
	e.alert = fn
	e.mu.Unlock()
}

func (e *Engine) raiseAlert(event, title, message string) {
	e.mu.Lock()
	fn := e.alert
	e.mu.Unlock()
	if fn != nil {
		fn(event, title, message)
	}
}

// Parked reports whether new decision cycles are suspended.
func (e *Engine) Parked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.parked
}

// SetParked toggles the parked state.
func (e *Engine) SetParked(parked bool, reason string) {
	e.mu.Lock()
	changed := e.parked != parked
	e.parked = parked
	e.mu.Unlock()
	if changed {
		e.logger.Warn("parked state changed",
			slog.Bool("parked", parked),
			slog.String("reason", reason))
	}
}

// Snapshot assembles the read-only state view for the presentation layer.
func (e *Engine) Snapshot() domain.StateSnapshot {
	e.mu.Lock()
	last := e.last
	parked := e.parked
	equity := e.equity
	e.mu.Unlock()

	return domain.StateSnapshot{
		TS:            e.now().UTC(),
		Mode:          e.cfg.Mode,
		Parked:        parked,
		Equity:        equity,
		Health:        e.health.State(),
		Drawdown:      e.drawdown.State(),
		OpenTrades:    e.manager.OpenTrades(),
		LastDecision:  last,
		LastExecution: e.router.LastStatus(),
	}
}

func (e *Engine) setLast(d domain.LastDecision) {
	e.mu.Lock()
	e.last = d
	e.mu.Unlock()
}
