package domain

import "time"

// HealthStatus is the upstream connectivity state tracked by the health
// state machine.
type HealthStatus string

const (
	HealthHealthy    HealthStatus = "healthy"
	HealthDegraded   HealthStatus = "degraded"
	HealthOutage     HealthStatus = "outage"
	HealthRecovering HealthStatus = "recovering"
)

// HealthState is a point-in-time copy of the health state machine. Readers
// always receive a fully-formed snapshot, never a partially-updated one.
type HealthState struct {
	Status            HealthStatus `json:"status"`
	LastTransitionTS  time.Time    `json:"last_transition_ts,omitzero"`
	LastSuccessTS     time.Time    `json:"last_success_ts,omitzero"`
	LastFailureTS     time.Time    `json:"last_failure_ts,omitzero"`
	LastFailureReason string       `json:"last_failure_reason,omitempty"`
	OutageSinceTS     time.Time    `json:"outage_since_ts,omitzero"`
	OutageFlattened   bool         `json:"outage_flattened"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
}
