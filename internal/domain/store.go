package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LiveTradeStore persists open-trade records keyed by trade ID. Records are
// upserted on every lifecycle mutation so a restart can rehydrate the open
// set.
type LiveTradeStore interface {
	Save(ctx context.Context, t Trade) error
	Delete(ctx context.Context, tradeID string) error
	LoadAll(ctx context.Context) ([]Trade, error)
	// LoadAllRaw returns the raw persisted payloads so the recovery loader
	// can quarantine records that no longer decode into a valid Trade.
	LoadAllRaw(ctx context.Context) (map[string][]byte, error)
}

// SettledTradeStore persists the immutable settled-trade journal.
type SettledTradeStore interface {
	Insert(ctx context.Context, s SettledTrade) error
	GetByID(ctx context.Context, tradeID string) (SettledTrade, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]SettledTrade, error)
	ListBefore(ctx context.Context, before time.Time) ([]SettledTrade, error)
	// SumNetPnL totals realized net pnl across all settled trades.
	SumNetPnL(ctx context.Context) (float64, error)
}

// EventStore persists the append-only event journal. Rows are never updated
// or deleted.
type EventStore interface {
	Append(ctx context.Context, e Event) error
	ListByTrade(ctx context.Context, tradeID string) ([]Event, error)
	ListByDecision(ctx context.Context, decisionID string) ([]Event, error)
	ListBefore(ctx context.Context, before time.Time) ([]Event, error)
}

// EquityStore persists the equity time series used for drawdown computation.
type EquityStore interface {
	Append(ctx context.Context, p EquityPoint) error
	ListSince(ctx context.Context, since time.Time, limit int) ([]EquityPoint, error)
}
