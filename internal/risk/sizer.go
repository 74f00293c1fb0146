package risk

import (
	"math"

	"github.com/quantara/perpbot/internal/config"
	"github.com/quantara/perpbot/internal/domain"
)

// Sizing is the resolved position size for an approved proposal.
type Sizing struct {
	Contracts  float64
	Notional   float64
	Leverage   int
	RiskAmount float64
	Budget     float64
	// Nuclear is set when the whole account rides the aggressive sleeve
	// because equity sits below the split threshold.
	Nuclear bool
	// Explicit is set when the oracle requested a specific contract count
	// instead of budget-derived sizing.
	Explicit bool
}

// Sizer converts a sleeve budget into a position size.
type Sizer struct {
	cfg config.RiskConfig
}

// NewSizer builds a sizer.
func NewSizer(cfg config.RiskConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// Size computes the position for the proposal, or a machine-readable reject
// reason. An explicit contract count from the oracle is honored as-is with
// the leverage clamped; otherwise the risk notional is a sleeve-specific
// fraction of the sleeve budget, converted to contracts at the entry price.
// riskFactor scales budget-derived risk (1.0 when no drawdown throttle is in
// effect).
func (s *Sizer) Size(p domain.Proposal, lv Levels, equity, riskFactor float64) (Sizing, string) {
	budget, nuclear := s.budget(p.Sleeve, equity)
	if budget <= 0 {
		return Sizing{}, ReasonNoBudget
	}
	if lv.Entry <= 0 {
		return Sizing{}, ReasonInvalidLevels
	}

	if riskFactor <= 0 || riskFactor > 1 {
		riskFactor = 1
	}

	var contracts float64
	explicit := p.Contracts != nil && *p.Contracts > 0
	if explicit {
		contracts = math.Abs(*p.Contracts)
	} else {
		contracts = budget * s.riskPct(p.Sleeve) * riskFactor / lv.Entry
	}
	notional := contracts * lv.Entry

	lev := s.leverageFor(p, notional, budget)

	// Margin cannot exceed the sleeve budget: shrink the position rather
	// than borrow beyond the leverage cap.
	if maxNotional := budget * float64(lev); notional > maxNotional {
		notional = maxNotional
		contracts = notional / lv.Entry
	}

	if contracts <= 0 {
		return Sizing{}, ReasonSizeTooSmall
	}

	return Sizing{
		Contracts:  contracts,
		Notional:   notional,
		Leverage:   lev,
		RiskAmount: notional,
		Budget:     budget,
		Nuclear:    nuclear,
		Explicit:   explicit,
	}, ""
}

// budget returns the equity slice backing the sleeve. Below the split
// threshold the whole account is one aggressive budget; above it the
// aggressive sleeve is a capped fraction and the safe sleeve takes the rest.
func (s *Sizer) budget(sleeve domain.Sleeve, equity float64) (float64, bool) {
	if equity <= 0 {
		return 0, false
	}
	if equity < s.cfg.SplitThreshold {
		if sleeve == domain.SleeveSafe {
			return 0, false
		}
		return equity, true
	}

	aggr := equity * s.cfg.AggrPct
	if aggr < s.cfg.MinAggr {
		aggr = s.cfg.MinAggr
	}
	if aggr > equity {
		aggr = equity
	}
	if sleeve == domain.SleeveAggressive {
		return aggr, false
	}
	return equity - aggr, false
}

func (s *Sizer) riskPct(sleeve domain.Sleeve) float64 {
	if sleeve == domain.SleeveSafe {
		return s.cfg.RiskSafe
	}
	return s.cfg.RiskAggressive
}

// leverageFor picks the leverage: the oracle's request when present,
// otherwise the smallest leverage that fits the notional in the budget, both
// clamped to [1, MaxLeverage].
func (s *Sizer) leverageFor(p domain.Proposal, notional, budget float64) int {
	if p.Leverage != nil && *p.Leverage > 0 {
		return clamp(*p.Leverage, 1, s.cfg.MaxLeverage)
	}
	needed := int(math.Ceil(notional / budget))
	return clamp(needed, 1, s.cfg.MaxLeverage)
}

func clamp(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
