package domain

import (
	"math"
	"time"
)

// Side indicates the direction of an open position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// CloseReason names why a trade (or part of it) was closed.
type CloseReason string

const (
	CloseReasonStop           CloseReason = "stop_hit"
	CloseReasonTakeProfit     CloseReason = "tp_hit"
	CloseReasonTimer          CloseReason = "timer_exit"
	CloseReasonManual         CloseReason = "manual_close"
	CloseReasonFullyPartialed CloseReason = "fully_partialed"
	CloseReasonOutageFlatten  CloseReason = "outage_flatten"
	CloseReasonDrawdown       CloseReason = "drawdown_flatten"
	CloseReasonDataQuality    CloseReason = "data_quality_flatten"
)

// TrailingState carries the trailing-stop bookkeeping for an open trade.
// BestPrice is the most favorable price observed since entry; the trailing
// stop ratchets off it and never loosens.
type TrailingState struct {
	ActivationPct float64 `json:"activation_pct"`
	TrailPct      float64 `json:"trail_pct"`
	BestPrice     float64 `json:"best_price"`
	Active        bool    `json:"active"`
}

// Partials tracks which scale-out levels have already been taken. A level is
// never taken twice, across restarts included.
type Partials struct {
	At15R bool `json:"at_1_5r"`
	At30R bool `json:"at_3_0r"`
}

// Trade is an open position owned by the lifecycle manager. It is mutated
// only by lifecycle transitions; remaining size plus the sizes closed via
// partials always equals the original size.
type Trade struct {
	ID            string        `json:"trade_id"`
	DecisionID    string        `json:"decision_id"`
	Asset         string        `json:"asset"`
	Side          Side          `json:"side"`
	Sleeve        Sleeve        `json:"sleeve"`
	EntryPrice    float64       `json:"entry_price"`
	OriginalSize  float64       `json:"original_size"`
	RemainingSize float64       `json:"remaining_size"`
	Stop          float64       `json:"stop"`
	TakeProfit    float64       `json:"take_profit"`
	RR            float64       `json:"rr"`
	Leverage      int           `json:"leverage"`
	PumpScore     int           `json:"pump_score"`
	Confidence    int           `json:"confidence"`
	Trailing      TrailingState `json:"trailing"`
	Partials      Partials      `json:"partials"`
	OpenedAt      time.Time     `json:"opened_at"`
	// ExpiryDeadline is set only for trades opened with an expected-hold
	// window; zero means no timed exit.
	ExpiryDeadline time.Time `json:"expiry_deadline,omitzero"`

	// Realized bookkeeping accumulated by partial closes and funding drag.
	RealizedGross   float64 `json:"realized_gross"`
	RealizedFees    float64 `json:"realized_fees"`
	RealizedFunding float64 `json:"realized_funding"`
	RealizedNet     float64 `json:"realized_net"`
	// FundingMarkedAt is the last time funding drag was accrued (paper mode).
	FundingMarkedAt time.Time `json:"funding_marked_at,omitzero"`
}

// RiskPerUnit returns the entry-to-stop distance (one R).
func (t *Trade) RiskPerUnit() float64 {
	return math.Abs(t.EntryPrice - t.Stop)
}

// RRNow returns the current reward multiple of the original risk distance,
// or false when the risk distance is not positive.
func (t *Trade) RRNow(price float64) (float64, bool) {
	risk := t.RiskPerUnit()
	if risk <= 0 {
		return 0, false
	}
	var reward float64
	if t.Side == SideLong {
		reward = price - t.EntryPrice
	} else {
		reward = t.EntryPrice - price
	}
	return reward / risk, true
}

// StopHit reports whether price has crossed the protective stop.
func (t *Trade) StopHit(price float64) bool {
	if t.Stop <= 0 {
		return false
	}
	if t.Side == SideLong {
		return price <= t.Stop
	}
	return price >= t.Stop
}

// TakeProfitHit reports whether price has reached the target.
func (t *Trade) TakeProfitHit(price float64) bool {
	if t.TakeProfit <= 0 {
		return false
	}
	if t.Side == SideLong {
		return price >= t.TakeProfit
	}
	return price <= t.TakeProfit
}

// Expired reports whether the trade carries a timed-exit deadline that has
// passed.
func (t *Trade) Expired(now time.Time) bool {
	return !t.ExpiryDeadline.IsZero() && !now.Before(t.ExpiryDeadline)
}

// GrossPnL returns the direction-adjusted gross profit of closing size units
// at exitPrice.
func (t *Trade) GrossPnL(exitPrice, size float64) float64 {
	if t.Side == SideLong {
		return (exitPrice - t.EntryPrice) * size
	}
	return (t.EntryPrice - exitPrice) * size
}

// SettledTrade is the immutable record produced when a trade leaves the open
// set. Exactly one settled record exists per trade.
type SettledTrade struct {
	TradeID     string      `json:"trade_id"`
	DecisionID  string      `json:"decision_id"`
	ClosedAt    time.Time   `json:"closed_at"`
	Asset       string      `json:"asset"`
	Side        Side        `json:"side"`
	TotalSize   float64     `json:"total_size"`
	Entry       float64     `json:"entry"`
	Exit        float64     `json:"exit"`
	PnLNet      float64     `json:"pnl_net"`
	PnLGross    float64     `json:"pnl_gross"`
	FeeCost     float64     `json:"fee_cost"`
	FundingCost float64     `json:"funding_cost"`
	Reason      CloseReason `json:"close_reason"`
}

// EquityPoint is a single sample of the portfolio equity time series.
type EquityPoint struct {
	TS     time.Time `json:"ts"`
	Equity float64   `json:"equity"`
}
