package domain

import "time"

// ExecutionStatus is the last-known execution path and outcome, exposed for
// observability.
type ExecutionStatus struct {
	OK     bool      `json:"ok"`
	Path   string    `json:"path"`
	Reason string    `json:"reason,omitempty"`
	TS     time.Time `json:"ts,omitzero"`
}

// LastDecision summarizes the most recent decision cycle outcome.
type LastDecision struct {
	DecisionID string    `json:"decision_id,omitempty"`
	Action     Action    `json:"action"`
	Asset      string    `json:"asset,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	TS         time.Time `json:"ts,omitzero"`
}

// StateSnapshot is the read-only view of the engine exported to the
// presentation layer at a fixed cadence. It is a value copy; consumers never
// hold references into mutable engine state.
type StateSnapshot struct {
	TS            time.Time       `json:"ts"`
	Mode          string          `json:"mode"`
	Parked        bool            `json:"parked"`
	Equity        float64         `json:"equity"`
	Health        HealthState     `json:"health"`
	Drawdown      DrawdownState   `json:"drawdown"`
	OpenTrades    []Trade         `json:"open_trades"`
	LastDecision  LastDecision    `json:"last_decision"`
	LastExecution ExecutionStatus `json:"last_execution"`
}
