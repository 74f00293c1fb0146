// Package risk computes protective levels and position sizes for approved
// proposals. Everything here is pure computation; persistence and execution
// live elsewhere.
package risk

import (
	"math"

	"github.com/quantara/perpbot/internal/config"
	"github.com/quantara/perpbot/internal/domain"
)

// Reject reasons returned by the calculator and sizer.
const (
	ReasonATRUnavailable = "atr_unavailable"
	ReasonInvalidEntry   = "invalid_entry_price"
	ReasonInvalidLevels  = "invalid_levels"
	ReasonRRBelowMin     = "rr_below_minimum"
	ReasonNoBudget       = "sleeve_budget_unavailable"
	ReasonSizeTooSmall   = "size_too_small"
)

// ATR multipliers. Pump setups ride the short-window ATR with tighter
// stops; everything else uses the long window.
const (
	pumpStopATRMult   = 1.8
	pumpTPATRMult     = 2.7
	normalStopATRMult = 2.5
	normalTPATRMult   = 3.8
)

// Levels is the protective stop, take profit, and resulting reward-to-risk
// ratio for an entry.
type Levels struct {
	Entry      float64
	Stop       float64
	TakeProfit float64
	RR         float64
}

// Calculator derives protective levels from ATR readings and validates
// oracle-supplied overrides.
type Calculator struct {
	cfg config.RiskConfig
}

// NewCalculator builds a level calculator.
func NewCalculator(cfg config.RiskConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// Compute returns levels for the proposal, or a machine-readable reject
// reason. Oracle-supplied stop/take-profit are honored when both are present
// and correctly ordered; otherwise levels are ATR-derived.
func (c *Calculator) Compute(p domain.Proposal, snap domain.MarketSnapshot) (Levels, string) {
	entry := snap.Price
	if v := deref(p.Price); v > 0 {
		entry = v
	}
	if entry <= 0 {
		return Levels{}, ReasonInvalidEntry
	}

	side := sideFor(p.Action)

	var stop, tp float64
	if deref(p.Stop) > 0 && deref(p.TakeProfit) > 0 {
		stop, tp = *p.Stop, *p.TakeProfit
	} else {
		atr, ok := snap.ATRFor(p.PumpScore, c.cfg.PumpScoreThreshold)
		if !ok {
			return Levels{}, ReasonATRUnavailable
		}
		stopMult, tpMult := normalStopATRMult, normalTPATRMult
		if p.PumpScore >= c.cfg.PumpScoreThreshold {
			stopMult, tpMult = pumpStopATRMult, pumpTPATRMult
		}
		if side == domain.SideLong {
			stop = entry - stopMult*atr
			tp = entry + tpMult*atr
		} else {
			stop = entry + stopMult*atr
			tp = entry - tpMult*atr
		}
	}

	if !ordered(side, entry, stop, tp) {
		return Levels{}, ReasonInvalidLevels
	}

	risk := math.Abs(entry - stop)
	reward := math.Abs(tp - entry)
	if risk <= 0 {
		return Levels{}, ReasonInvalidLevels
	}
	rr := reward / risk

	if rr < c.MinRR(p.Sleeve) {
		return Levels{}, ReasonRRBelowMin
	}

	return Levels{Entry: entry, Stop: stop, TakeProfit: tp, RR: rr}, ""
}

// MinRR returns the reward-to-risk floor for the sleeve.
func (c *Calculator) MinRR(sleeve domain.Sleeve) float64 {
	if sleeve == domain.SleeveSafe {
		return c.cfg.MinRRSafe
	}
	return c.cfg.MinRRAggressive
}

// ordered checks the directional sanity of the levels: a long needs the stop
// below entry and the target above, a short the mirror image.
func ordered(side domain.Side, entry, stop, tp float64) bool {
	if stop <= 0 || tp <= 0 {
		return false
	}
	if side == domain.SideLong {
		return stop < entry && entry < tp
	}
	return tp < entry && entry < stop
}

func sideFor(a domain.Action) domain.Side {
	if a == domain.ActionOpenShort {
		return domain.SideShort
	}
	return domain.SideLong
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
