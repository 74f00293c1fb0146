package domain

import "context"

// DecisionOracle is the external reasoning service that proposes trading
// actions. Its prompt construction and parsing internals are out of scope;
// the engine only sees the raw structured payload.
type DecisionOracle interface {
	// Propose returns the raw proposal payload for the current market and
	// portfolio context. The engine enforces its own timeout via ctx.
	Propose(ctx context.Context) ([]byte, error)
}

// MarketDataProvider supplies per-asset market context and the tracked
// asset basket.
type MarketDataProvider interface {
	Basket(ctx context.Context) ([]string, error)
	Snapshot(ctx context.Context, asset string) (MarketSnapshot, error)
}

// EquityProvider reports current portfolio equity.
type EquityProvider interface {
	Equity(ctx context.Context) (float64, error)
}
