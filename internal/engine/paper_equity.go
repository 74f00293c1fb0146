package engine

import (
	"context"
	"fmt"

	"github.com/quantara/perpbot/internal/domain"
	"github.com/quantara/perpbot/internal/lifecycle"
)

// PaperEquity derives portfolio equity in paper mode: the starting balance
// plus all realized net pnl plus the mark-to-market value of the open set.
type PaperEquity struct {
	start   float64
	settled domain.SettledTradeStore
	manager *lifecycle.Manager
	md      domain.MarketDataProvider
}

// NewPaperEquity builds the synthetic equity provider.
func NewPaperEquity(start float64, settled domain.SettledTradeStore, manager *lifecycle.Manager, md domain.MarketDataProvider) *PaperEquity {
	return &PaperEquity{start: start, settled: settled, manager: manager, md: md}
}

var _ domain.EquityProvider = (*PaperEquity)(nil)

// Equity implements domain.EquityProvider.
func (p *PaperEquity) Equity(ctx context.Context) (float64, error) {
	realized, err := p.settled.SumNetPnL(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine: paper equity: %w", err)
	}
	unrealized := p.manager.UnrealizedPnL(func(asset string) (float64, bool) {
		snap, err := p.md.Snapshot(ctx, asset)
		if err != nil || snap.Price <= 0 {
			return 0, false
		}
		return snap.Price, true
	})
	return p.start + realized + unrealized, nil
}
