package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantara/perpbot/internal/config"
	"github.com/quantara/perpbot/internal/domain"
)

func newGuard() *DrawdownGuard {
	return NewDrawdownGuard(config.Defaults().Drawdown, testLogger())
}

func TestDrawdownNoBreach(t *testing.T) {
	g := newGuard()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	v := g.Observe(now, 10000)
	assert.False(t, v.Flatten)

	v = g.Observe(now.Add(time.Minute), 9700)
	assert.False(t, v.Flatten)

	st := g.State()
	assert.False(t, st.Paused)
	assert.InDelta(t, 3.0, st.DailyDDPct, 1e-9)
	assert.Equal(t, 1.0, st.RiskCapFactor)
}

func TestDailyBreachPausesForRestOfDay(t *testing.T) {
	g := newGuard()
	day := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	g.Observe(day, 10000)
	v := g.Observe(day.Add(time.Hour), 9400) // -6% intraday
	assert.True(t, v.Flatten)
	assert.Equal(t, PauseDaily, v.Reason)

	st := g.State()
	assert.True(t, st.Paused)
	assert.Equal(t, PauseDaily, st.PauseReason)

	// A second breach the same day does not re-flatten.
	v = g.Observe(day.Add(2*time.Hour), 9300)
	assert.False(t, v.Flatten)

	// Next UTC day the pause lifts and the daily peak resets.
	next := day.Add(16 * time.Hour)
	v = g.Observe(next, 9300)
	assert.False(t, v.Flatten)
	st = g.State()
	assert.False(t, st.Paused)
	assert.InDelta(t, 9300, st.DailyPeak, 1e-9)
}

func TestWeeklyBreachThrottlesUntilRetrace(t *testing.T) {
	g := newGuard()
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	g.Observe(start, 10000)
	// Drop past the weekly limit across day boundaries so the daily guard
	// stays quiet.
	g.Observe(start.Add(24*time.Hour), 9600)
	g.Observe(start.Add(48*time.Hour), 9200)
	g.Observe(start.Add(72*time.Hour), 8800)
	v := g.Observe(start.Add(96*time.Hour), 8200) // -18% from rolling peak
	assert.False(t, v.Flatten, "weekly breach throttles, never flattens")
	assert.True(t, v.Throttle)
	assert.Equal(t, PauseWeekly, v.Reason)
	assert.Equal(t, 0.5, g.RiskFactor())

	// Staying under the limit does not re-raise the throttle verdict.
	v = g.Observe(start.Add(97*time.Hour), 8210)
	assert.False(t, v.Throttle)

	// Partial recovery below the 50% retrace keeps the throttle.
	g.Observe(start.Add(100*time.Hour), 8500)
	assert.Equal(t, 0.5, g.RiskFactor())

	// Retracing half the drop (peak 10000, trough 8200 -> 9100) releases it.
	g.Observe(start.Add(104*time.Hour), 9150)
	assert.Equal(t, 1.0, g.RiskFactor())
}

func TestATHBreachPausesUntilRecovery(t *testing.T) {
	g := newGuard()
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	g.Observe(start, 10000)
	// Spread the decline over weeks so only the ATH horizon trips.
	g.Observe(start.AddDate(0, 0, 10), 9000)
	g.Observe(start.AddDate(0, 0, 20), 8000)
	v := g.Observe(start.AddDate(0, 0, 30), 6900) // -31% from ATH
	assert.True(t, v.Flatten)
	assert.True(t, v.Park)
	assert.Equal(t, PauseATH, v.Reason)

	st := g.State()
	assert.True(t, st.Paused)
	assert.Equal(t, PauseATH, st.PauseReason)

	// Recovery to within 10% of the trigger peak releases the pause.
	g.Observe(start.AddDate(0, 0, 40), 8000)
	assert.True(t, g.State().Paused)

	g.Observe(start.AddDate(0, 0, 50), 9100)
	assert.False(t, g.State().Paused)
}

func TestSeedRebuildsPeaks(t *testing.T) {
	g := newGuard()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	g.Seed([]domain.EquityPoint{
		{TS: now.Add(-72 * time.Hour), Equity: 12000},
		{TS: now.Add(-48 * time.Hour), Equity: 11000},
		{TS: now.Add(-2 * time.Hour), Equity: 10500},
	})

	g.Observe(now, 10400)
	st := g.State()
	assert.InDelta(t, 12000, st.WeeklyPeak, 1e-9)
	assert.InDelta(t, 12000, st.ATHPeak, 1e-9)
	require.Greater(t, st.WeeklyDDPct, 13.0)
}

func TestDrawdownIgnoresNonPositiveEquity(t *testing.T) {
	g := newGuard()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	g.Observe(now, 10000)

	v := g.Observe(now.Add(time.Minute), 0)
	assert.False(t, v.Flatten)
	assert.InDelta(t, 10000, g.State().ATHPeak, 1e-9)
}
