package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantara/perpbot/internal/domain"
)

// EventStore implements domain.EventStore over the append-only
// trade_events table.
type EventStore struct {
	pool *pgxpool.Pool
}

var _ domain.EventStore = (*EventStore)(nil)

// NewEventStore creates an EventStore backed by the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventSelectCols = `event_id, ts, event_type, decision_id, trade_id, asset, payload`

func scanEventRows(rows pgx.Rows) ([]domain.Event, error) {
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.DecisionID, &e.TradeID, &e.Asset, &payload); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("decode event %s payload: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Append inserts the event. Duplicate event IDs are ignored so journal
// retries never double-write.
func (s *EventStore) Append(ctx context.Context, e domain.Event) error {
	var payload []byte
	if e.Payload != nil {
		var err error
		if payload, err = json.Marshal(e.Payload); err != nil {
			return fmt.Errorf("postgres: marshal event %s payload: %w", e.ID, err)
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trade_events (event_id, ts, event_type, decision_id, trade_id, asset, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING`,
		e.ID, e.TS, e.Type, e.DecisionID, e.TradeID, e.Asset, payload,
	)
	if err != nil {
		return fmt.Errorf("postgres: append event %s: %w", e.ID, err)
	}
	return nil
}

// ListByTrade returns the trade's events in chronological order.
func (s *EventStore) ListByTrade(ctx context.Context, tradeID string) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventSelectCols+` FROM trade_events WHERE trade_id = $1 ORDER BY ts ASC`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events by trade: %w", err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// ListByDecision returns the decision's events in chronological order.
func (s *EventStore) ListByDecision(ctx context.Context, decisionID string) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventSelectCols+` FROM trade_events WHERE decision_id = $1 ORDER BY ts ASC`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events by decision: %w", err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// ListBefore returns events strictly older than the given time, oldest
// first, for archival.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventSelectCols+` FROM trade_events WHERE ts < $1 ORDER BY ts ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before: %w", err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}
