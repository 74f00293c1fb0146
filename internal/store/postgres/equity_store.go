package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantara/perpbot/internal/domain"
)

// EquityStore implements domain.EquityStore over the equity_history table.
type EquityStore struct {
	pool *pgxpool.Pool
}

var _ domain.EquityStore = (*EquityStore)(nil)

// NewEquityStore creates an EquityStore backed by the given pool.
func NewEquityStore(pool *pgxpool.Pool) *EquityStore {
	return &EquityStore{pool: pool}
}

// Append records one equity sample. Samples landing on an existing
// timestamp overwrite it.
func (s *EquityStore) Append(ctx context.Context, p domain.EquityPoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO equity_history (ts, equity) VALUES ($1, $2)
		ON CONFLICT (ts) DO UPDATE SET equity = EXCLUDED.equity`,
		p.TS, p.Equity,
	)
	if err != nil {
		return fmt.Errorf("postgres: append equity point: %w", err)
	}
	return nil
}

// ListSince returns samples at or after the given time in chronological
// order, capped at limit when positive.
func (s *EquityStore) ListSince(ctx context.Context, since time.Time, limit int) ([]domain.EquityPoint, error) {
	query := `SELECT ts, equity FROM equity_history WHERE ts >= $1 ORDER BY ts ASC`
	args := []any{since}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list equity since: %w", err)
	}
	defer rows.Close()

	var out []domain.EquityPoint
	for rows.Next() {
		var p domain.EquityPoint
		if err := rows.Scan(&p.TS, &p.Equity); err != nil {
			return nil, fmt.Errorf("postgres: scan equity point: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate equity points: %w", err)
	}
	return out, nil
}
