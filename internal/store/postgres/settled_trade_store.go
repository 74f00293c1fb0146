package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantara/perpbot/internal/domain"
)

// SettledTradeStore implements domain.SettledTradeStore.
type SettledTradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.SettledTradeStore = (*SettledTradeStore)(nil)

// NewSettledTradeStore creates a SettledTradeStore backed by the given pool.
func NewSettledTradeStore(pool *pgxpool.Pool) *SettledTradeStore {
	return &SettledTradeStore{pool: pool}
}

const settledSelectCols = `trade_id, decision_id, closed_at, asset, side,
	total_size, entry_price, exit_price, pnl_net, pnl_gross, fee_cost,
	funding_cost, close_reason`

func scanSettledRows(rows pgx.Rows) ([]domain.SettledTrade, error) {
	var out []domain.SettledTrade
	for rows.Next() {
		var t domain.SettledTrade
		if err := rows.Scan(
			&t.TradeID, &t.DecisionID, &t.ClosedAt, &t.Asset, &t.Side,
			&t.TotalSize, &t.Entry, &t.Exit, &t.PnLNet, &t.PnLGross,
			&t.FeeCost, &t.FundingCost, &t.Reason,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Insert writes the settled record. A duplicate trade ID returns
// domain.ErrAlreadyExists so settlement retries stay idempotent.
func (s *SettledTradeStore) Insert(ctx context.Context, t domain.SettledTrade) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO trades (
			trade_id, decision_id, closed_at, asset, side,
			total_size, entry_price, exit_price, pnl_net, pnl_gross,
			fee_cost, funding_cost, close_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (trade_id) DO NOTHING`,
		t.TradeID, t.DecisionID, t.ClosedAt, t.Asset, t.Side,
		t.TotalSize, t.Entry, t.Exit, t.PnLNet, t.PnLGross,
		t.FeeCost, t.FundingCost, t.Reason,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert settled trade %s: %w", t.TradeID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: settled trade %s: %w", t.TradeID, domain.ErrAlreadyExists)
	}
	return nil
}

// GetByID returns the settled record for the trade.
func (s *SettledTradeStore) GetByID(ctx context.Context, tradeID string) (domain.SettledTrade, error) {
	var t domain.SettledTrade
	err := s.pool.QueryRow(ctx,
		`SELECT `+settledSelectCols+` FROM trades WHERE trade_id = $1`, tradeID,
	).Scan(
		&t.TradeID, &t.DecisionID, &t.ClosedAt, &t.Asset, &t.Side,
		&t.TotalSize, &t.Entry, &t.Exit, &t.PnLNet, &t.PnLGross,
		&t.FeeCost, &t.FundingCost, &t.Reason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SettledTrade{}, fmt.Errorf("postgres: settled trade %s: %w", tradeID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.SettledTrade{}, fmt.Errorf("postgres: get settled trade %s: %w", tradeID, err)
	}
	return t, nil
}

// ListRecent returns settled trades newest first.
func (s *SettledTradeStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.SettledTrade, error) {
	query := `SELECT ` + settledSelectCols + ` FROM trades`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" WHERE closed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	query += " ORDER BY closed_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled trades: %w", err)
	}
	defer rows.Close()

	out, err := scanSettledRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settled trades: %w", err)
	}
	return out, nil
}

// ListBefore returns settled trades closed strictly before the given time,
// oldest first, for archival.
func (s *SettledTradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.SettledTrade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+settledSelectCols+` FROM trades WHERE closed_at < $1 ORDER BY closed_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled trades before: %w", err)
	}
	defer rows.Close()
	return scanSettledRows(rows)
}

// SumNetPnL totals realized net pnl across all settled trades.
func (s *SettledTradeStore) SumNetPnL(ctx context.Context) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(pnl_net), 0) FROM trades`).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum settled pnl: %w", err)
	}
	return sum, nil
}
