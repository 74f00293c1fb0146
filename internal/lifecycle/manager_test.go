package lifecycle

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantara/perpbot/internal/config"
	"github.com/quantara/perpbot/internal/domain"
	"github.com/quantara/perpbot/internal/executor"
	"github.com/quantara/perpbot/internal/journal"
	"github.com/quantara/perpbot/internal/risk"
)

// ---- in-memory fakes ----

type memLive struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemLive() *memLive { return &memLive{m: make(map[string][]byte)} }

func (s *memLive) Save(_ context.Context, t domain.Trade) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[t.ID] = b
	return nil
}

func (s *memLive) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
	return nil
}

func (s *memLive) LoadAll(ctx context.Context) ([]domain.Trade, error) {
	raw, _ := s.LoadAllRaw(ctx)
	out := make([]domain.Trade, 0, len(raw))
	for _, b := range raw {
		var t domain.Trade
		if err := json.Unmarshal(b, &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *memLive) LoadAllRaw(context.Context) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out, nil
}

type memSettled struct {
	mu   sync.Mutex
	recs []domain.SettledTrade
}

func (s *memSettled) Insert(_ context.Context, rec domain.SettledTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memSettled) GetByID(_ context.Context, id string) (domain.SettledTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recs {
		if r.TradeID == id {
			return r, nil
		}
	}
	return domain.SettledTrade{}, domain.ErrNotFound
}

func (s *memSettled) ListRecent(context.Context, domain.ListOpts) ([]domain.SettledTrade, error) {
	return s.recs, nil
}

func (s *memSettled) ListBefore(context.Context, time.Time) ([]domain.SettledTrade, error) {
	return nil, nil
}

func (s *memSettled) SumNetPnL(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	for _, r := range s.recs {
		sum += r.PnLNet
	}
	return sum, nil
}

type memEvents struct {
	mu  sync.Mutex
	evs []domain.Event
}

func (s *memEvents) Append(_ context.Context, e domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evs = append(s.evs, e)
	return nil
}

func (s *memEvents) ListByTrade(context.Context, string) ([]domain.Event, error)    { return nil, nil }
func (s *memEvents) ListByDecision(context.Context, string) ([]domain.Event, error) { return nil, nil }
func (s *memEvents) ListBefore(context.Context, time.Time) ([]domain.Event, error)  { return nil, nil }

func (s *memEvents) types() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, len(s.evs))
	for i, e := range s.evs {
		out[i] = e.Type
	}
	return out
}

type fakeMD struct {
	mu    sync.Mutex
	snaps map[string]domain.MarketSnapshot
}

func (f *fakeMD) Basket(context.Context) ([]string, error) { return nil, nil }

func (f *fakeMD) Snapshot(_ context.Context, asset string) (domain.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snaps[asset]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (f *fakeMD) setPrice(asset string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[asset] = domain.MarketSnapshot{
		Asset: asset, Price: price, Mid: price, ATR1h: 1, SpreadPct: 0.05, Volume1m: 1_000_000,
	}
}

// midTransport fills everything at the reference price with zero fee, so
// pnl arithmetic in assertions stays exact.
type midTransport struct{}

func (midTransport) Place(_ context.Context, o executor.Order) (executor.Fill, error) {
	return executor.Fill{Price: o.RefPrice, Size: o.Size}, nil
}

// ---- harness ----

type harness struct {
	m       *Manager
	live    *memLive
	settled *memSettled
	events  *memEvents
	md      *fakeMD
	clock   time.Time
}

func newHarness(t *testing.T, paper bool) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	live := newMemLive()
	settled := &memSettled{}
	events := &memEvents{}
	md := &fakeMD{snaps: make(map[string]domain.MarketSnapshot)}
	jnl := journal.New(events, logger)
	router := executor.NewRouter(config.Defaults().Execution, midTransport{}, logger)

	h := &harness{
		live:    live,
		settled: settled,
		events:  events,
		md:      md,
		clock:   time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
	h.m = NewManager(
		config.Defaults().Lifecycle,
		config.Defaults().Paper,
		paper,
		config.Defaults().Risk.PumpScoreThreshold,
		live, settled, jnl, router, md, logger,
	)
	h.m.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

func (h *harness) openLong(t *testing.T, entry, stop, tp float64, pumpScore int, holdMin *int) domain.Trade {
	t.Helper()
	h.md.setPrice("SOL-PERP-INTX", entry)
	p := domain.Proposal{
		DecisionID:      "d-1",
		Action:          domain.ActionOpenLong,
		Asset:           "SOL-PERP-INTX",
		Sleeve:          domain.SleeveAggressive,
		PumpScore:       pumpScore,
		Confidence:      80,
		ExpectedHoldMin: holdMin,
	}
	lv := risk.Levels{Entry: entry, Stop: stop, TakeProfit: tp, RR: 2}
	sz := risk.Sizing{Contracts: 10, Leverage: 2, Budget: 5000}
	fill := executor.Fill{Price: entry, Size: 10, Path: executor.PathIOC}

	tr, err := h.m.Open(context.Background(), p, lv, sz, fill)
	require.NoError(t, err)
	return tr
}

// ---- tests ----

func TestOpenPersistsAndJournals(t *testing.T) {
	h := newHarness(t, false)
	tr := h.openLong(t, 100, 95, 120, 0, nil)

	assert.Equal(t, 1, h.m.OpenCount())
	assert.Contains(t, h.events.types(), domain.EventTradeOpened)

	raw, err := h.live.LoadAllRaw(context.Background())
	require.NoError(t, err)
	assert.Contains(t, raw, tr.ID)
	assert.True(t, tr.ExpiryDeadline.IsZero(), "non-pump trade carries no timer")
}

func TestStopHitSettles(t *testing.T) {
	h := newHarness(t, false)
	tr := h.openLong(t, 100, 95, 120, 0, nil)

	h.md.setPrice("SOL-PERP-INTX", 94)
	h.m.Tick(context.Background())

	assert.Equal(t, 0, h.m.OpenCount())
	require.Len(t, h.settled.recs, 1)
	rec := h.settled.recs[0]
	assert.Equal(t, domain.CloseReasonStop, rec.Reason)
	assert.InDelta(t, (94-100)*10, rec.PnLGross, 1e-9)

	types := h.events.types()
	assert.Contains(t, types, domain.EventStopHit)
	assert.Contains(t, types, domain.EventCloseSettled)

	raw, _ := h.live.LoadAllRaw(context.Background())
	assert.NotContains(t, raw, tr.ID)
}

func TestTakeProfitSettles(t *testing.T) {
	h := newHarness(t, false)
	h.openLong(t, 100, 95, 110, 0, nil)

	h.md.setPrice("SOL-PERP-INTX", 111)
	h.m.Tick(context.Background())

	require.Len(t, h.settled.recs, 1)
	assert.Equal(t, domain.CloseReasonTakeProfit, h.settled.recs[0].Reason)
	assert.Contains(t, h.events.types(), domain.EventTPHit)
}

func TestTimerExitForPumpTrade(t *testing.T) {
	h := newHarness(t, false)
	hold := 30
	tr := h.openLong(t, 100, 95, 200, 80, &hold)
	require.False(t, tr.ExpiryDeadline.IsZero())

	h.advance(29 * time.Minute)
	h.m.Tick(context.Background())
	assert.Equal(t, 1, h.m.OpenCount())

	h.advance(2 * time.Minute)
	h.m.Tick(context.Background())
	assert.Equal(t, 0, h.m.OpenCount())
	require.Len(t, h.settled.recs, 1)
	assert.Equal(t, domain.CloseReasonTimer, h.settled.recs[0].Reason)
	assert.Contains(t, h.events.types(), domain.EventTimerExit)
}

func TestExpiryClampsToHoldWindow(t *testing.T) {
	h := newHarness(t, false)

	long := 200
	tr := h.openLong(t, 100, 95, 200, 80, &long)
	assert.Equal(t, h.clock.Add(90*time.Minute), tr.ExpiryDeadline)

	short := 1
	tr2 := h.openLong(t, 100, 95, 200, 80, &short)
	assert.Equal(t, h.clock.Add(5*time.Minute), tr2.ExpiryDeadline)
}

func TestPartialScaleOuts(t *testing.T) {
	h := newHarness(t, false)
	tr := h.openLong(t, 100, 95, 200, 0, nil) // 1R = 5

	// 1.5R at 107.5: half of the original size comes off.
	h.md.setPrice("SOL-PERP-INTX", 107.5)
	h.m.Tick(context.Background())

	open := h.m.OpenTrades()
	require.Len(t, open, 1)
	assert.True(t, open[0].Partials.At15R)
	assert.False(t, open[0].Partials.At30R)
	assert.InDelta(t, 5.0, open[0].RemainingSize, 1e-9)
	assert.InDelta(t, 7.5*5, open[0].RealizedGross, 1e-9)
	assert.Contains(t, h.events.types(), domain.EventPartialClose)

	// Same tick level does not double-fire.
	h.m.Tick(context.Background())
	require.Len(t, h.m.OpenTrades(), 1)
	assert.InDelta(t, 5.0, h.m.OpenTrades()[0].RemainingSize, 1e-9)

	// 3R at 115: 30% of the original comes off, leaving 20%.
	h.md.setPrice("SOL-PERP-INTX", 115)
	h.m.Tick(context.Background())

	open = h.m.OpenTrades()
	require.Len(t, open, 1)
	assert.True(t, open[0].Partials.At30R)
	assert.InDelta(t, 2.0, open[0].RemainingSize, 1e-9)
	_ = tr
}

func TestTrailingStopRatchetsAndCloses(t *testing.T) {
	h := newHarness(t, false)
	h.openLong(t, 100, 90, 300, 0, nil)

	// +12% activates the trail with best=112.
	h.md.setPrice("SOL-PERP-INTX", 112)
	h.m.Tick(context.Background())
	open := h.m.OpenTrades()
	require.Len(t, open, 1)
	assert.True(t, open[0].Trailing.Active)
	assert.InDelta(t, 112, open[0].Trailing.BestPrice, 1e-9)

	// New high ratchets the best price; no exit.
	h.md.setPrice("SOL-PERP-INTX", 114)
	h.m.Tick(context.Background())
	require.Len(t, h.m.OpenTrades(), 1)
	assert.InDelta(t, 114, h.m.OpenTrades()[0].Trailing.BestPrice, 1e-9)

	// Giving back 4% from the best closes the trade.
	h.md.setPrice("SOL-PERP-INTX", 109)
	h.m.Tick(context.Background())
	assert.Equal(t, 0, h.m.OpenCount())
	require.Len(t, h.settled.recs, 1)
	assert.Equal(t, domain.CloseReasonStop, h.settled.recs[0].Reason)
}

func TestFlattenAll(t *testing.T) {
	h := newHarness(t, false)
	h.openLong(t, 100, 95, 200, 0, nil)
	h.md.setPrice("ETH-PERP-INTX", 2000)
	p := domain.Proposal{
		DecisionID: "d-2",
		Action:     domain.ActionOpenShort,
		Asset:      "ETH-PERP-INTX",
		Sleeve:     domain.SleeveAggressive,
		Confidence: 80,
	}
	_, err := h.m.Open(context.Background(), p,
		risk.Levels{Entry: 2000, Stop: 2100, TakeProfit: 1800, RR: 2},
		risk.Sizing{Contracts: 1, Leverage: 2},
		executor.Fill{Price: 2000, Size: 1})
	require.NoError(t, err)
	require.Equal(t, 2, h.m.OpenCount())

	h.m.FlattenAll(context.Background(), domain.CloseReasonOutageFlatten)

	assert.Equal(t, 0, h.m.OpenCount())
	assert.Len(t, h.settled.recs, 2)
	for _, rec := range h.settled.recs {
		assert.Equal(t, domain.CloseReasonOutageFlatten, rec.Reason)
	}
	assert.Contains(t, h.events.types(), domain.EventFlattenAll)
}

func TestCloseAsset(t *testing.T) {
	h := newHarness(t, false)
	h.openLong(t, 100, 95, 200, 0, nil)

	require.NoError(t, h.m.CloseAsset(context.Background(), "SOL-PERP-INTX", domain.CloseReasonManual))
	assert.Equal(t, 0, h.m.OpenCount())
	require.Len(t, h.settled.recs, 1)
	assert.Equal(t, domain.CloseReasonManual, h.settled.recs[0].Reason)
}

func TestPaperFundingDrag(t *testing.T) {
	h := newHarness(t, true)
	h.openLong(t, 100, 95, 200, 0, nil)

	h.advance(8 * time.Hour)
	h.m.Tick(context.Background())

	open := h.m.OpenTrades()
	require.Len(t, open, 1)
	// One full funding period on 10 contracts at 100: 1000 * 0.0003.
	assert.InDelta(t, -0.3, open[0].RealizedFunding, 1e-9)
	assert.InDelta(t, -0.3, open[0].RealizedNet, 1e-9)
}

func TestRecoverRestoresValidAndQuarantinesInvalid(t *testing.T) {
	h := newHarness(t, false)
	h.openLong(t, 100, 95, 200, 0, nil)

	// Simulate restart: new manager over the same stores.
	h2 := restart(t, h.live, &memSettled{})

	// Poison one record.
	h.live.mu.Lock()
	h.live.m["broken"] = []byte(`{"trade_id":"broken","asset":"SOL-PERP-INTX","side":"long","entry_price":-5}`)
	h.live.mu.Unlock()

	restored, err := h2.m.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	assert.Equal(t, 1, h2.m.OpenCount())
	assert.Contains(t, h2.events.types(), domain.EventTradeRecoveryFailed)
}

// restart builds a fresh manager over an existing live and settled store,
// simulating a process restart.
func restart(t *testing.T, live *memLive, settled *memSettled) *harness {
	t.Helper()
	h := newHarness(t, false)
	h.live = live
	h.settled = settled
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.m = NewManager(
		config.Defaults().Lifecycle,
		config.Defaults().Paper,
		false,
		config.Defaults().Risk.PumpScoreThreshold,
		live, settled, journal.New(h.events, logger),
		executor.NewRouter(config.Defaults().Execution, midTransport{}, logger),
		h.md, logger,
	)
	h.m.now = func() time.Time { return h.clock }
	return h
}

func TestRecoverDropsAlreadySettledTrade(t *testing.T) {
	h := newHarness(t, false)
	tr := h.openLong(t, 100, 95, 200, 0, nil)

	// Settlement wrote the settled record but the live-store delete never
	// landed before the crash.
	require.NoError(t, h.settled.Insert(context.Background(), domain.SettledTrade{
		TradeID:    tr.ID,
		DecisionID: tr.DecisionID,
		Asset:      tr.Asset,
		Side:       tr.Side,
		Reason:     domain.CloseReasonStop,
	}))

	h2 := restart(t, h.live, h.settled)
	restored, err := h2.m.Recover(context.Background())
	require.NoError(t, err)

	assert.Zero(t, restored)
	assert.Equal(t, 0, h2.m.OpenCount())
	assert.NotContains(t, h2.events.types(), domain.EventTradeRecoveryFailed)

	// The pending delete completes during recovery.
	raw, _ := h.live.LoadAllRaw(context.Background())
	assert.NotContains(t, raw, tr.ID)
}

func TestRecoverPreservesPartialProgress(t *testing.T) {
	h := newHarness(t, false)
	h.openLong(t, 100, 95, 200, 0, nil) // 1R = 5

	h.md.setPrice("SOL-PERP-INTX", 107.5)
	h.m.Tick(context.Background())
	require.Len(t, h.m.OpenTrades(), 1)
	require.True(t, h.m.OpenTrades()[0].Partials.At15R)

	h2 := restart(t, h.live, &memSettled{})
	restored, err := h2.m.Recover(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, restored)

	open := h2.m.OpenTrades()
	require.Len(t, open, 1)
	assert.True(t, open[0].Partials.At15R)
	assert.InDelta(t, 5.0, open[0].RemainingSize, 1e-9)

	// Still past 1.5R: the taken partial does not refire after restart.
	h2.md.setPrice("SOL-PERP-INTX", 108)
	h2.m.Tick(context.Background())
	require.Len(t, h2.m.OpenTrades(), 1)
	assert.InDelta(t, 5.0, h2.m.OpenTrades()[0].RemainingSize, 1e-9)

	// The 3R partial fires for the first time: 30% of the original comes
	// off, leaving 20%.
	h2.md.setPrice("SOL-PERP-INTX", 115)
	h2.m.Tick(context.Background())
	open = h2.m.OpenTrades()
	require.Len(t, open, 1)
	assert.True(t, open[0].Partials.At30R)
	assert.InDelta(t, 2.0, open[0].RemainingSize, 1e-9)
}

func TestUnrealizedPnL(t *testing.T) {
	h := newHarness(t, false)
	h.openLong(t, 100, 95, 200, 0, nil)

	got := h.m.UnrealizedPnL(func(string) (float64, bool) { return 103, true })
	assert.InDelta(t, 30, got, 1e-9)
}
