package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantara/perpbot/internal/config"
	"github.com/quantara/perpbot/internal/domain"
)

func intp(v int) *int { return &v }

func floatp(v float64) *float64 { return &v }

func TestSizeSafeSleeve(t *testing.T) {
	s := NewSizer(config.Defaults().Risk)
	p := domain.Proposal{Action: domain.ActionOpenLong, Sleeve: domain.SleeveSafe}
	lv := Levels{Entry: 100, Stop: 95, TakeProfit: 110}

	sz, reason := s.Size(p, lv, 50000, 1.0)
	require.Empty(t, reason)

	// Aggressive sleeve takes 10% (5000), safe gets the remaining 45000.
	assert.InDelta(t, 45000, sz.Budget, 1e-9)
	assert.False(t, sz.Nuclear)
	// Risk notional is 1.5% of 45000 = 675, converted at the entry price.
	assert.InDelta(t, 675, sz.Notional, 1e-9)
	assert.InDelta(t, 6.75, sz.Contracts, 1e-9)
	assert.Equal(t, 1, sz.Leverage)
}

func TestSizeNuclearBelowSplitThreshold(t *testing.T) {
	s := NewSizer(config.Defaults().Risk)
	p := domain.Proposal{Action: domain.ActionOpenLong, Sleeve: domain.SleeveAggressive}
	lv := Levels{Entry: 50, Stop: 48, TakeProfit: 56}

	sz, reason := s.Size(p, lv, 5000, 1.0)
	require.Empty(t, reason)

	assert.True(t, sz.Nuclear)
	assert.InDelta(t, 5000, sz.Budget, 1e-9)
	// Risk notional is 12% of 5000 = 600 at a 50 entry.
	assert.InDelta(t, 600, sz.Notional, 1e-9)
	assert.InDelta(t, 12, sz.Contracts, 1e-9)
}

func TestSizeIsBudgetOverEntryNotStopDistance(t *testing.T) {
	s := NewSizer(config.Defaults().Risk)
	p := domain.Proposal{Action: domain.ActionOpenLong, Sleeve: domain.SleeveAggressive}

	// The stop distance must not leak into sizing: a tight and a wide stop
	// produce the same contract count for the same budget and entry.
	tight, reason := s.Size(p, Levels{Entry: 100, Stop: 99.5}, 5000, 1.0)
	require.Empty(t, reason)
	wide, reason := s.Size(p, Levels{Entry: 100, Stop: 95}, 5000, 1.0)
	require.Empty(t, reason)

	assert.InDelta(t, 6, tight.Contracts, 1e-9)
	assert.InDelta(t, tight.Contracts, wide.Contracts, 1e-9)
}

func TestSizeHonorsExplicitContracts(t *testing.T) {
	s := NewSizer(config.Defaults().Risk)
	p := domain.Proposal{
		Action:    domain.ActionOpenLong,
		Sleeve:    domain.SleeveAggressive,
		Contracts: floatp(3),
		Leverage:  intp(25),
	}
	lv := Levels{Entry: 100, Stop: 95}

	sz, reason := s.Size(p, lv, 5000, 1.0)
	require.Empty(t, reason)

	assert.True(t, sz.Explicit)
	assert.InDelta(t, 3, sz.Contracts, 1e-9)
	assert.InDelta(t, 300, sz.Notional, 1e-9)
	assert.Equal(t, 10, sz.Leverage, "requested leverage clamps to the cap")
}

func TestSizeSafeSleeveUnavailableBelowThreshold(t *testing.T) {
	s := NewSizer(config.Defaults().Risk)
	p := domain.Proposal{Action: domain.ActionOpenLong, Sleeve: domain.SleeveSafe}
	lv := Levels{Entry: 100, Stop: 95}

	_, reason := s.Size(p, lv, 5000, 1.0)
	assert.Equal(t, ReasonNoBudget, reason)
}

func TestSizeAppliesDrawdownThrottle(t *testing.T) {
	s := NewSizer(config.Defaults().Risk)
	p := domain.Proposal{Action: domain.ActionOpenLong, Sleeve: domain.SleeveSafe}
	lv := Levels{Entry: 100, Stop: 95}

	full, reason := s.Size(p, lv, 50000, 1.0)
	require.Empty(t, reason)
	half, reason := s.Size(p, lv, 50000, 0.5)
	require.Empty(t, reason)

	assert.InDelta(t, full.Notional*0.5, half.Notional, 1e-9)
	assert.InDelta(t, full.Contracts*0.5, half.Contracts, 1e-9)
}

func TestSizeCapsExplicitNotionalAtBudgetTimesLeverage(t *testing.T) {
	s := NewSizer(config.Defaults().Risk)
	p := domain.Proposal{
		Action:    domain.ActionOpenLong,
		Sleeve:    domain.SleeveAggressive,
		Contracts: floatp(1200),
		Leverage:  intp(2),
	}
	// 1200 contracts at 100 is 120000 notional against a 5000 budget at 2x
	// (10000 cap).
	lv := Levels{Entry: 100, Stop: 99.5}

	sz, reason := s.Size(p, lv, 5000, 1.0)
	require.Empty(t, reason)

	assert.InDelta(t, 10000, sz.Notional, 1e-6)
	assert.InDelta(t, 100, sz.Contracts, 1e-6)
}

func TestSizeRejectsZeroEquity(t *testing.T) {
	s := NewSizer(config.Defaults().Risk)
	p := domain.Proposal{Action: domain.ActionOpenLong, Sleeve: domain.SleeveAggressive}
	lv := Levels{Entry: 100, Stop: 95}

	_, reason := s.Size(p, lv, 0, 1.0)
	assert.Equal(t, ReasonNoBudget, reason)
}
