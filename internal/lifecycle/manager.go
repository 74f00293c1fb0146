// Package lifecycle owns the open-trade set: opening, partial scale-outs,
// trailing stops, timed exits, and settlement. All mutations flow through
// the Manager so every transition is journaled and persisted before it is
// visible.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantara/perpbot/internal/config"
	"github.com/quantara/perpbot/internal/domain"
	"github.com/quantara/perpbot/internal/executor"
	"github.com/quantara/perpbot/internal/journal"
	"github.com/quantara/perpbot/internal/observability"
	"github.com/quantara/perpbot/internal/risk"
)

// Scale-out levels: half off at 1.5R, another 30% of the original at 3R.
const (
	partialFirstRR    = 1.5
	partialFirstFrac  = 0.50
	partialSecondRR   = 3.0
	partialSecondFrac = 0.30
)

// minRemainingSize is the dust threshold below which a partial close is
// promoted to a full close.
const minRemainingSize = 1e-9

const fundingPeriod = 8 * time.Hour

// Manager is the single writer of the open-trade set.
type Manager struct {
	mu   sync.Mutex
	open map[string]domain.Trade

	cfg           config.LifecycleConfig
	paperCfg      config.PaperConfig
	paper         bool
	pumpThreshold int

	live    domain.LiveTradeStore
	settled domain.SettledTradeStore
	jnl     *journal.Journal
	router  *executor.Router
	md      domain.MarketDataProvider
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager builds an empty manager. Call Recover before the first tick to
// rehydrate persisted trades.
func NewManager(
	cfg config.LifecycleConfig,
	paperCfg config.PaperConfig,
	paper bool,
	pumpThreshold int,
	live domain.LiveTradeStore,
	settled domain.SettledTradeStore,
	jnl *journal.Journal,
	router *executor.Router,
	md domain.MarketDataProvider,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		open:          make(map[string]domain.Trade),
		cfg:           cfg,
		paperCfg:      paperCfg,
		paper:         paper,
		pumpThreshold: pumpThreshold,
		live:          live,
		settled:       settled,
		jnl:           jnl,
		router:        router,
		md:            md,
		logger:        logger.With(slog.String("component", "lifecycle")),
		now:           time.Now,
	}
}

// Open admits a filled entry into the open set. The journal record and the
// live-store upsert both precede the in-memory commit; a crash in between
// recovers the trade from the store.
func (m *Manager) Open(ctx context.Context, p domain.Proposal, lv risk.Levels, sz risk.Sizing, fill executor.Fill) (domain.Trade, error) {
	now := m.now().UTC()

	side := domain.SideLong
	if p.Action == domain.ActionOpenShort {
		side = domain.SideShort
	}

	t := domain.Trade{
		ID:            uuid.NewString(),
		DecisionID:    p.DecisionID,
		Asset:         p.Asset,
		Side:          side,
		Sleeve:        p.Sleeve,
		EntryPrice:    fill.Price,
		OriginalSize:  fill.Size,
		RemainingSize: fill.Size,
		Stop:          lv.Stop,
		TakeProfit:    lv.TakeProfit,
		RR:            lv.RR,
		Leverage:      sz.Leverage,
		PumpScore:     p.PumpScore,
		Confidence:    p.Confidence,
		Trailing:      m.trailingFor(p),
		OpenedAt:      now,
		RealizedFees:  -fill.Fee,
	}
	t.RealizedNet = t.RealizedFees
	t.FundingMarkedAt = now
	t.ExpiryDeadline = m.expiryFor(p, now)

	err := m.jnl.Record(ctx, journal.Event(domain.EventTradeOpened, p.DecisionID, t.ID, t.Asset, map[string]any{
		"side":        string(t.Side),
		"sleeve":      string(t.Sleeve),
		"entry_price": t.EntryPrice,
		"size":        t.OriginalSize,
		"stop":        t.Stop,
		"take_profit": t.TakeProfit,
		"rr":          t.RR,
		"leverage":    t.Leverage,
		"exec_path":   fill.Path,
	}))
	if err != nil {
		return domain.Trade{}, err
	}
	if err := m.live.Save(ctx, t); err != nil {
		return domain.Trade{}, fmt.Errorf("lifecycle: persist open trade: %w", err)
	}

	m.mu.Lock()
	m.open[t.ID] = t
	m.mu.Unlock()

	m.logger.Info("trade opened",
		slog.String("trade_id", t.ID),
		slog.String("asset", t.Asset),
		slog.String("side", string(t.Side)),
		slog.Float64("entry", t.EntryPrice),
		slog.Float64("size", t.OriginalSize))
	return t, nil
}

// Tick evaluates every open trade against current market data. Trades are
// processed sequentially in a stable order; exit checks run in priority
// order so a stop always beats a scale-out on the same tick.
func (m *Manager) Tick(ctx context.Context) {
	now := m.now().UTC()
	for _, t := range m.OpenTrades() {
		snap, err := m.md.Snapshot(ctx, t.Asset)
		if err != nil || snap.Price <= 0 {
			m.logger.Warn("tick: no market data",
				slog.String("trade_id", t.ID),
				slog.String("asset", t.Asset))
			continue
		}
		if err := m.evaluate(ctx, t.ID, snap, now); err != nil {
			m.logger.Error("tick: evaluation failed",
				slog.String("trade_id", t.ID),
				slog.Any("error", err))
		}
	}
}

// evaluate runs the exit ladder for one trade.
func (m *Manager) evaluate(ctx context.Context, tradeID string, snap domain.MarketSnapshot, now time.Time) error {
	m.mu.Lock()
	t, ok := m.open[tradeID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if m.paper {
		m.accrueFunding(&t, snap.Price, now)
	}

	price := snap.Price

	switch {
	case t.StopHit(price):
		return m.closeFull(ctx, t, snap, domain.CloseReasonStop, domain.EventStopHit)
	case t.TakeProfitHit(price):
		return m.closeFull(ctx, t, snap, domain.CloseReasonTakeProfit, domain.EventTPHit)
	case t.Expired(now):
		return m.closeFull(ctx, t, snap, domain.CloseReasonTimer, domain.EventTimerExit)
	}

	rr, ok := t.RRNow(price)
	if ok {
		if !t.Partials.At15R && rr >= partialFirstRR {
			return m.closePartial(ctx, t, snap, partialFirstFrac, "1.5R")
		}
		if !t.Partials.At30R && rr >= partialSecondRR {
			return m.closePartial(ctx, t, snap, partialSecondFrac, "3.0R")
		}
	}

	if closed, err := m.updateTrailing(ctx, &t, snap); closed || err != nil {
		return err
	}

	// Persist funding/trailing bookkeeping changes.
	m.commit(ctx, t)
	return nil
}

// closePartial takes frac of the ORIGINAL size off at market.
func (m *Manager) closePartial(ctx context.Context, t domain.Trade, snap domain.MarketSnapshot, frac float64, level string) error {
	size := t.OriginalSize * frac
	if size >= t.RemainingSize-minRemainingSize {
		// Nothing meaningful would remain; close the rest instead.
		return m.closeFull(ctx, t, snap, domain.CloseReasonFullyPartialed, domain.EventPartialClose)
	}

	fill, err := m.router.ExecuteExit(ctx, executor.Request{
		Asset:     t.Asset,
		Direction: executor.DirectionFor(t.Side, true),
		Size:      size,
	}, snap)
	if err != nil {
		return fmt.Errorf("lifecycle: partial exit %s: %w", t.ID, err)
	}

	gross := t.GrossPnL(fill.Price, fill.Size)
	t.RemainingSize -= fill.Size
	t.RealizedGross += gross
	t.RealizedFees -= fill.Fee
	t.RealizedNet = t.RealizedGross + t.RealizedFees + t.RealizedFunding
	switch level {
	case "1.5R":
		t.Partials.At15R = true
	case "3.0R":
		t.Partials.At30R = true
	}

	err = m.jnl.Record(ctx, journal.Event(domain.EventPartialClose, t.DecisionID, t.ID, t.Asset, map[string]any{
		"level":          level,
		"size":           fill.Size,
		"price":          fill.Price,
		"gross_pnl":      gross,
		"remaining_size": t.RemainingSize,
	}))
	if err != nil {
		return err
	}

	m.commit(ctx, t)
	m.logger.Info("partial close",
		slog.String("trade_id", t.ID),
		slog.String("level", level),
		slog.Float64("size", fill.Size),
		slog.Float64("price", fill.Price))

	if t.RemainingSize <= minRemainingSize {
		return m.settle(ctx, t, fill.Price, domain.CloseReasonFullyPartialed)
	}
	return nil
}

// closeFull exits the remaining size and settles the trade. The trigger
// event is journaled before settlement so the journal always explains why
// the close happened, even if settlement itself fails and is retried.
func (m *Manager) closeFull(ctx context.Context, t domain.Trade, snap domain.MarketSnapshot, reason domain.CloseReason, trigger domain.EventType) error {
	if err := m.jnl.Record(ctx, journal.Event(trigger, t.DecisionID, t.ID, t.Asset, map[string]any{
		"price":  snap.Price,
		"size":   t.RemainingSize,
		"reason": string(reason),
	})); err != nil {
		return err
	}

	fill, err := m.router.ExecuteExit(ctx, executor.Request{
		Asset:     t.Asset,
		Direction: executor.DirectionFor(t.Side, true),
		Size:      t.RemainingSize,
	}, snap)
	if err != nil {
		return fmt.Errorf("lifecycle: exit %s: %w", t.ID, err)
	}

	gross := t.GrossPnL(fill.Price, fill.Size)
	t.RemainingSize = 0
	t.RealizedGross += gross
	t.RealizedFees -= fill.Fee
	t.RealizedNet = t.RealizedGross + t.RealizedFees + t.RealizedFunding

	return m.settle(ctx, t, fill.Price, reason)
}

// settle moves the trade from the open set to the settled journal. Order:
// settled record, close_settled event, live-store delete, then the
// in-memory removal last.
func (m *Manager) settle(ctx context.Context, t domain.Trade, exitPrice float64, reason domain.CloseReason) error {
	now := m.now().UTC()
	rec := domain.SettledTrade{
		TradeID:     t.ID,
		DecisionID:  t.DecisionID,
		ClosedAt:    now,
		Asset:       t.Asset,
		Side:        t.Side,
		TotalSize:   t.OriginalSize,
		Entry:       t.EntryPrice,
		Exit:        exitPrice,
		PnLGross:    t.RealizedGross,
		PnLNet:      t.RealizedNet,
		FeeCost:     -t.RealizedFees,
		FundingCost: -t.RealizedFunding,
		Reason:      reason,
	}

	if err := m.settled.Insert(ctx, rec); err != nil {
		return fmt.Errorf("lifecycle: settle %s: %w", t.ID, err)
	}
	if err := m.jnl.Record(ctx, journal.Event(domain.EventCloseSettled, t.DecisionID, t.ID, t.Asset, map[string]any{
		"exit":      exitPrice,
		"pnl_net":   rec.PnLNet,
		"pnl_gross": rec.PnLGross,
		"reason":    string(reason),
	})); err != nil {
		return err
	}
	if err := m.live.Delete(ctx, t.ID); err != nil {
		m.logger.Error("settle: live store delete failed",
			slog.String("trade_id", t.ID),
			slog.Any("error", err))
	}

	m.mu.Lock()
	delete(m.open, t.ID)
	m.mu.Unlock()

	observability.RecordSettled(reason)
	m.logger.Info("trade settled",
		slog.String("trade_id", t.ID),
		slog.String("asset", t.Asset),
		slog.String("reason", string(reason)),
		slog.Float64("pnl_net", rec.PnLNet))
	return nil
}

// updateTrailing ratchets the trailing stop and closes the trade when price
// gives back more than the trail allowance. Returns closed=true when the
// trade left the open set.
func (m *Manager) updateTrailing(ctx context.Context, t *domain.Trade, snap domain.MarketSnapshot) (bool, error) {
	tr := &t.Trailing
	if tr.ActivationPct <= 0 || tr.TrailPct <= 0 {
		return false, nil
	}
	price := snap.Price

	better := tr.BestPrice == 0 ||
		(t.Side == domain.SideLong && price > tr.BestPrice) ||
		(t.Side == domain.SideShort && price < tr.BestPrice)
	if better {
		tr.BestPrice = price
	}

	if !tr.Active {
		var movePct float64
		if t.Side == domain.SideLong {
			movePct = (price - t.EntryPrice) / t.EntryPrice * 100
		} else {
			movePct = (t.EntryPrice - price) / t.EntryPrice * 100
		}
		if movePct >= tr.ActivationPct {
			tr.Active = true
			m.logger.Info("trailing stop activated",
				slog.String("trade_id", t.ID),
				slog.Float64("best_price", tr.BestPrice))
		}
		return false, nil
	}

	var level float64
	var crossed bool
	if t.Side == domain.SideLong {
		level = tr.BestPrice * (1 - tr.TrailPct/100)
		crossed = price <= level
	} else {
		level = tr.BestPrice * (1 + tr.TrailPct/100)
		crossed = price >= level
	}
	if !crossed {
		return false, nil
	}

	return true, m.closeFull(ctx, *t, snap, domain.CloseReasonStop, domain.EventStopHit)
}

// accrueFunding charges the synthetic funding drag since the last mark.
func (m *Manager) accrueFunding(t *domain.Trade, price float64, now time.Time) {
	if t.FundingMarkedAt.IsZero() {
		t.FundingMarkedAt = now
		return
	}
	elapsed := now.Sub(t.FundingMarkedAt)
	if elapsed <= 0 {
		return
	}
	notional := t.RemainingSize * price
	cost := notional * m.paperCfg.FundingRatePer8h * elapsed.Seconds() / fundingPeriod.Seconds()
	t.RealizedFunding -= cost
	t.RealizedNet = t.RealizedGross + t.RealizedFees + t.RealizedFunding
	t.FundingMarkedAt = now
}

// CloseAsset closes every open trade on the asset at market.
func (m *Manager) CloseAsset(ctx context.Context, asset string, reason domain.CloseReason) error {
	for _, t := range m.OpenTrades() {
		if t.Asset != asset {
			continue
		}
		snap, err := m.md.Snapshot(ctx, t.Asset)
		if err != nil {
			return fmt.Errorf("lifecycle: close %s: %w", asset, err)
		}
		if err := m.closeFull(ctx, t, snap, reason, domain.EventTradeCloseRequested); err != nil {
			return err
		}
	}
	return nil
}

// FlattenAll force-closes every open trade. Failures are logged and the
// remaining trades still get their close attempt.
func (m *Manager) FlattenAll(ctx context.Context, reason domain.CloseReason) {
	trades := m.OpenTrades()
	if len(trades) == 0 {
		return
	}
	_ = m.jnl.Record(ctx, journal.Event(domain.EventFlattenAll, "", "", "", map[string]any{
		"reason": string(reason),
		"count":  len(trades),
	}))
	for _, t := range trades {
		snap, err := m.md.Snapshot(ctx, t.Asset)
		if err != nil || snap.Price <= 0 {
			m.logger.Error("flatten: no market data",
				slog.String("trade_id", t.ID),
				slog.String("asset", t.Asset))
			continue
		}
		if err := m.closeFull(ctx, t, snap, reason, domain.EventTradeCloseRequested); err != nil {
			m.logger.Error("flatten: close failed",
				slog.String("trade_id", t.ID),
				slog.Any("error", err))
		}
	}
}

// OpenTrades returns a stable-ordered copy of the open set.
func (m *Manager) OpenTrades() []domain.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Trade, 0, len(m.open))
	for _, t := range m.open {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// OpenCount returns the number of open trades.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// UnrealizedPnL sums mark-to-market profit over the open set using the
// provided price lookup.
func (m *Manager) UnrealizedPnL(priceOf func(asset string) (float64, bool)) float64 {
	var total float64
	for _, t := range m.OpenTrades() {
		if price, ok := priceOf(t.Asset); ok && price > 0 {
			total += t.GrossPnL(price, t.RemainingSize)
		}
	}
	return total
}

// commit persists the mutated trade and updates the in-memory copy. Commit
// failures are logged, not returned: the in-memory state is authoritative
// until the next successful save.
func (m *Manager) commit(ctx context.Context, t domain.Trade) {
	if err := m.live.Save(ctx, t); err != nil {
		m.logger.Error("live store save failed",
			slog.String("trade_id", t.ID),
			slog.Any("error", err))
	}
	m.mu.Lock()
	m.open[t.ID] = t
	m.mu.Unlock()
}

func (m *Manager) trailingFor(p domain.Proposal) domain.TrailingState {
	tr := domain.TrailingState{
		ActivationPct: m.cfg.TrailingActivationPct,
		TrailPct:      m.cfg.TrailingPct,
	}
	if p.TrailActivePct != nil && *p.TrailActivePct > 0 {
		tr.ActivationPct = *p.TrailActivePct
	}
	if p.TrailPct != nil && *p.TrailPct > 0 {
		tr.TrailPct = *p.TrailPct
	}
	return tr
}

// expiryFor computes the timed-exit deadline. Pump setups always carry one,
// clamped to the configured hold window; other trades only when the oracle
// asked for a bounded hold.
func (m *Manager) expiryFor(p domain.Proposal, now time.Time) time.Time {
	holdMin := 0
	if p.ExpectedHoldMin != nil && *p.ExpectedHoldMin > 0 {
		holdMin = *p.ExpectedHoldMin
	}

	if p.PumpScore >= m.pumpThreshold {
		if holdMin == 0 {
			holdMin = m.cfg.MaxHoldMin
		}
		if holdMin < m.cfg.MinHoldMin {
			holdMin = m.cfg.MinHoldMin
		}
		if holdMin > m.cfg.MaxHoldMin {
			holdMin = m.cfg.MaxHoldMin
		}
	}

	if holdMin == 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(holdMin) * time.Minute)
}
