package domain

import "time"

// EventType names a lifecycle transition recorded in the journal.
type EventType string

const (
	EventDecisionReceived       EventType = "decision_received"
	EventTradeOpenRequested     EventType = "trade_open_requested"
	EventTradeOpenRejectedQuality     EventType = "trade_open_rejected_quality"
	EventTradeOpenRejectedEligibility EventType = "trade_open_rejected_eligibility"
	EventTradeOpenRejectedExec  EventType = "trade_open_rejected_exec"
	EventTradeOpened            EventType = "trade_opened"
	EventTradeCloseRequested    EventType = "trade_close_requested"
	EventPartialClose           EventType = "partial_close"
	EventStopHit                EventType = "stop_hit"
	EventTPHit                  EventType = "tp_hit"
	EventTimerExit              EventType = "timer_exit"
	EventCloseSettled           EventType = "close_settled"
	EventTradeRecoveryFailed    EventType = "trade_recovery_failed"
	EventFlattenAll             EventType = "flatten_all"
)

// Event is a single append-only journal record. Events are never updated or
// deleted; corrections are modeled as new events referencing the same
// decision and trade identifiers.
type Event struct {
	ID         string         `json:"event_id"`
	TS         time.Time      `json:"ts"`
	Type       EventType      `json:"event_type"`
	DecisionID string         `json:"decision_id,omitempty"`
	TradeID    string         `json:"trade_id,omitempty"`
	Asset      string         `json:"asset,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}
