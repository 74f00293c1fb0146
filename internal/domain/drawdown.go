package domain

import "time"

// DrawdownState is a point-in-time copy of the drawdown guard. It is
// advisory: downstream gates must honor Paused and RiskCapFactor, but the
// guard itself never cancels orders.
type DrawdownState struct {
	DailyPeak   float64 `json:"daily_peak"`
	WeeklyPeak  float64 `json:"weekly_peak"`
	ATHPeak     float64 `json:"ath_peak"`
	DailyDDPct  float64 `json:"daily_dd_pct"`
	WeeklyDDPct float64 `json:"weekly_dd_pct"`
	ATHDDPct    float64 `json:"ath_dd_pct"`
	Paused      bool    `json:"paused"`
	PauseReason string  `json:"pause_reason,omitempty"`
	// RiskCapFactor scales per-trade risk while the weekly throttle is in
	// effect; 1.0 means no throttle.
	RiskCapFactor float64   `json:"risk_cap_factor"`
	UpdatedAt     time.Time `json:"updated_at,omitzero"`
}
