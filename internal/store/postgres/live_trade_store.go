package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantara/perpbot/internal/domain"
)

// LiveTradeStore implements domain.LiveTradeStore over a JSONB-backed table.
type LiveTradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.LiveTradeStore = (*LiveTradeStore)(nil)

// NewLiveTradeStore creates a LiveTradeStore backed by the given pool.
func NewLiveTradeStore(pool *pgxpool.Pool) *LiveTradeStore {
	return &LiveTradeStore{pool: pool}
}

// Save upserts the trade keyed by its ID.
func (s *LiveTradeStore) Save(ctx context.Context, t domain.Trade) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("postgres: marshal live trade %s: %w", t.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO live_trades (trade_id, asset, payload, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (trade_id) DO UPDATE
		SET asset = EXCLUDED.asset, payload = EXCLUDED.payload, updated_at = NOW()`,
		t.ID, t.Asset, payload,
	)
	if err != nil {
		return fmt.Errorf("postgres: save live trade %s: %w", t.ID, err)
	}
	return nil
}

// Delete removes the trade row. Deleting a missing row is not an error.
func (s *LiveTradeStore) Delete(ctx context.Context, tradeID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM live_trades WHERE trade_id = $1`, tradeID); err != nil {
		return fmt.Errorf("postgres: delete live trade %s: %w", tradeID, err)
	}
	return nil
}

// LoadAll decodes every persisted trade.
func (s *LiveTradeStore) LoadAll(ctx context.Context) ([]domain.Trade, error) {
	raw, err := s.LoadAllRaw(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Trade, 0, len(raw))
	for id, payload := range raw {
		var t domain.Trade
		if err := json.Unmarshal(payload, &t); err != nil {
			return nil, fmt.Errorf("postgres: decode live trade %s: %w", id, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// LoadAllRaw returns the raw payloads keyed by trade ID so callers can
// quarantine undecodable records individually.
func (s *LiveTradeStore) LoadAllRaw(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.pool.Query(ctx, `SELECT trade_id, payload FROM live_trades`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load live trades: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("postgres: scan live trade: %w", err)
		}
		out[id] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate live trades: %w", err)
	}
	return out, nil
}
