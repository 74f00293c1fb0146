// Package guard implements the engine's protective monitors: the upstream
// health state machine and the equity drawdown guard. Both are advisory
// state holders; the engine decides what to do with their verdicts.
package guard

import (
	"log/slog"
	"sync"
	"time"

	"github.com/quantara/perpbot/internal/config"
	"github.com/quantara/perpbot/internal/domain"
)

// TransitionFunc is invoked exactly once per health status transition, after
// the new state has been committed.
type TransitionFunc func(from, to domain.HealthStatus, reason string)

// HealthMonitor tracks upstream connectivity through success/failure reports
// and drives the healthy/degraded/outage/recovering state machine.
type HealthMonitor struct {
	mu           sync.Mutex
	cfg          config.HealthConfig
	state        domain.HealthState
	logger       *slog.Logger
	onTransition TransitionFunc
}

// NewHealthMonitor starts in the healthy state.
func NewHealthMonitor(cfg config.HealthConfig, logger *slog.Logger) *HealthMonitor {
	return &HealthMonitor{
		cfg: cfg,
		state: domain.HealthState{
			Status: domain.HealthHealthy,
		},
		logger: logger.With(slog.String("component", "health")),
	}
}

// OnTransition registers a callback fired on every status change. The
// callback runs with the monitor lock held and must not call back into the
// monitor.
func (m *HealthMonitor) OnTransition(fn TransitionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = fn
}

// RecordSuccess reports a successful upstream interaction.
func (m *HealthMonitor) RecordSuccess(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.LastSuccessTS = now
	m.state.ConsecutiveFailures = 0
	m.state.ConsecutiveSuccesses++

	switch m.state.Status {
	case domain.HealthDegraded, domain.HealthOutage:
		// First success out of a bad state starts the probation window.
		m.state.ConsecutiveSuccesses = 1
		m.transition(domain.HealthRecovering, "first_success", now)
	case domain.HealthRecovering:
		if m.state.ConsecutiveSuccesses >= m.cfg.RecoverSuccessStreak {
			m.transition(domain.HealthHealthy, "success_streak", now)
		}
	}
}

// RecordFailure reports a failed upstream interaction.
func (m *HealthMonitor) RecordFailure(now time.Time, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.LastFailureTS = now
	m.state.LastFailureReason = reason
	m.state.ConsecutiveSuccesses = 0
	m.state.ConsecutiveFailures++

	switch m.state.Status {
	case domain.HealthRecovering:
		// Probation failed: straight back to outage, not degraded.
		m.toOutage(reason, now)
	case domain.HealthHealthy, domain.HealthDegraded:
		if m.state.ConsecutiveFailures >= m.cfg.OutageFailures || m.elapsedOutageLocked(now) {
			m.toOutage(reason, now)
		} else if m.state.ConsecutiveFailures >= m.cfg.DegradedFailures && m.state.Status == domain.HealthHealthy {
			m.transition(domain.HealthDegraded, reason, now)
		}
	case domain.HealthOutage:
		// Already down; nothing escalates further.
	}
}

// State returns a snapshot of the current health state.
func (m *HealthMonitor) State() domain.HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the current status only.
func (m *HealthMonitor) Status() domain.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Status
}

// ShouldFlatten reports whether open positions must be force-closed because
// the outage has persisted past the flatten deadline. It fires at most once
// per outage episode.
func (m *HealthMonitor) ShouldFlatten(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cfg.AutoFlatten || m.state.Status != domain.HealthOutage || m.state.OutageFlattened {
		return false
	}
	if m.state.OutageSinceTS.IsZero() {
		return false
	}
	if now.Sub(m.state.OutageSinceTS) < time.Duration(m.cfg.OutageFlattenSec)*time.Second {
		return false
	}
	m.state.OutageFlattened = true
	return true
}

// BlocksEntries reports whether the current status prevents new entries.
// Degraded and outage always block; recovering blocks when configured.
func (m *HealthMonitor) BlocksEntries() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state.Status {
	case domain.HealthHealthy:
		return false
	case domain.HealthRecovering:
		return m.cfg.BlockRecovering
	default:
		return true
	}
}

func (m *HealthMonitor) elapsedOutageLocked(now time.Time) bool {
	if m.state.LastSuccessTS.IsZero() {
		return false
	}
	return now.Sub(m.state.LastSuccessTS) >= time.Duration(m.cfg.OutageElapsedSec)*time.Second
}

func (m *HealthMonitor) toOutage(reason string, now time.Time) {
	if m.state.Status != domain.HealthOutage {
		m.state.OutageSinceTS = now
		m.state.OutageFlattened = false
		m.transition(domain.HealthOutage, reason, now)
	}
}

// transition commits the new status and emits exactly one log line per
// change. Caller holds the mutex.
func (m *HealthMonitor) transition(to domain.HealthStatus, reason string, now time.Time) {
	from := m.state.Status
	if from == to {
		return
	}
	m.state.Status = to
	m.state.LastTransitionTS = now

	logFn := m.logger.Warn
	if to == domain.HealthHealthy {
		logFn = m.logger.Info
	}
	logFn("health transition",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("reason", reason))

	if m.onTransition != nil {
		m.onTransition(from, to, reason)
	}
}
