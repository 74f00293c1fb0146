package gate

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantara/perpbot/internal/config"
	"github.com/quantara/perpbot/internal/domain"
)

type stubHealth struct {
	blocks bool
	status domain.HealthStatus
}

func (s stubHealth) BlocksEntries() bool         { return s.blocks }
func (s stubHealth) Status() domain.HealthStatus { return s.status }

type stubDrawdown struct {
	state domain.DrawdownState
}

func (s stubDrawdown) State() domain.DrawdownState { return s.state }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGate(health stubHealth, dd stubDrawdown, startedAt time.Time) *Eligibility {
	return NewEligibility(config.Defaults().Risk, health, dd, startedAt, testLogger())
}

func readyGate() *Eligibility {
	return newGate(
		stubHealth{status: domain.HealthHealthy},
		stubDrawdown{state: domain.DrawdownState{RiskCapFactor: 1.0}},
		time.Now().Add(-24*time.Hour),
	)
}

func aggressiveProposal() domain.Proposal {
	return domain.Proposal{
		DecisionID: "d-1",
		Action:     domain.ActionOpenLong,
		Asset:      "WIF-PERP-INTX",
		Sleeve:     domain.SleeveAggressive,
		PumpScore:  80,
		Confidence: 75,
	}
}

func safeProposal() domain.Proposal {
	return domain.Proposal{
		DecisionID: "d-2",
		Action:     domain.ActionOpenLong,
		Asset:      "BTC-PERP-INTX",
		Sleeve:     domain.SleeveSafe,
		PumpScore:  10,
		Confidence: 85,
	}
}

func TestCheckAcceptsValidProposals(t *testing.T) {
	g := readyGate()
	assert.Empty(t, g.Check(aggressiveProposal(), time.Now()))
	assert.Empty(t, g.Check(safeProposal(), time.Now()))
}

func TestCheckRejectsNonEntries(t *testing.T) {
	g := readyGate()
	p := safeProposal()
	p.Action = domain.ActionHold
	assert.Equal(t, ReasonNotEntry, g.Check(p, time.Now()))

	p.Action = domain.ActionClose
	assert.Equal(t, ReasonNotEntry, g.Check(p, time.Now()))
}

func TestCheckRejectsBadAssetFormat(t *testing.T) {
	g := readyGate()
	p := aggressiveProposal()
	p.Asset = "WIFPERP"
	assert.Equal(t, ReasonInvalidAsset, g.Check(p, time.Now()))
}

func TestCheckRejectsShortOnSpot(t *testing.T) {
	g := readyGate()
	p := aggressiveProposal()
	p.Action = domain.ActionOpenShort
	p.Asset = "WIF-USD"
	assert.Equal(t, ReasonShortNeedsPerp, g.Check(p, time.Now()))
}

func TestCheckRejectsWhenHealthBlocks(t *testing.T) {
	g := newGate(
		stubHealth{blocks: true, status: domain.HealthDegraded},
		stubDrawdown{},
		time.Now().Add(-24*time.Hour),
	)
	assert.Equal(t, ReasonHealthBlocked, g.Check(aggressiveProposal(), time.Now()))
}

func TestCheckRejectsWhenDrawdownPaused(t *testing.T) {
	g := newGate(
		stubHealth{status: domain.HealthHealthy},
		stubDrawdown{state: domain.DrawdownState{Paused: true, PauseReason: "daily_drawdown"}},
		time.Now().Add(-24*time.Hour),
	)
	assert.Equal(t, ReasonDrawdownPaused, g.Check(aggressiveProposal(), time.Now()))
}

func TestCheckSafeSleeveRules(t *testing.T) {
	g := readyGate()

	p := safeProposal()
	p.PumpScore = 65
	assert.Equal(t, ReasonPumpExcludedSafe, g.Check(p, time.Now()))

	p = safeProposal()
	p.Asset = "WIF-PERP-INTX"
	assert.Equal(t, ReasonAssetNotSafeListed, g.Check(p, time.Now()))

	p = safeProposal()
	p.Confidence = 79
	assert.Equal(t, ReasonConfidenceTooLow, g.Check(p, time.Now()))
}

func TestCheckAggressiveConfidenceFloor(t *testing.T) {
	g := readyGate()
	p := aggressiveProposal()
	p.Confidence = 69
	assert.Equal(t, ReasonConfidenceTooLow, g.Check(p, time.Now()))
}

func TestCheckReadinessWindowGatesBothSleeves(t *testing.T) {
	g := newGate(
		stubHealth{status: domain.HealthHealthy},
		stubDrawdown{},
		time.Now().Add(-1*time.Hour),
	)
	assert.Equal(t, ReasonNotReady, g.Check(aggressiveProposal(), time.Now()))
	assert.Equal(t, ReasonNotReady, g.Check(safeProposal(), time.Now()))
}

func TestCheckShortOnSpotBeatsSleeveRules(t *testing.T) {
	g := readyGate()
	p := safeProposal()
	p.Action = domain.ActionOpenShort
	p.Asset = "BTC-USD"
	p.PumpScore = 70

	// Venue constraints run before sleeve qualification, so a spot short is
	// rejected for the missing perp suffix even when the pump exclusion
	// would also fire.
	assert.Equal(t, ReasonShortNeedsPerp, g.Check(p, time.Now()))
}
