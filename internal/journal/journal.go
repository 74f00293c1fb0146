// Package journal writes the append-only event log. Journal writes sit on
// the settlement path, so failed appends are retried with backoff before the
// caller is told to give up.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantara/perpbot/internal/domain"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 100 * time.Millisecond
)

// Journal appends events to the backing store, filling in identifiers and
// timestamps the caller omitted.
type Journal struct {
	store       domain.EventStore
	logger      *slog.Logger
	maxAttempts int
	backoffBase time.Duration
	now         func() time.Time
}

// New builds a journal over the given event store.
func New(store domain.EventStore, logger *slog.Logger) *Journal {
	return &Journal{
		store:       store,
		logger:      logger.With(slog.String("component", "journal")),
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		now:         time.Now,
	}
}

// Record appends the event, assigning an ID and timestamp if absent. The
// append is retried with exponential backoff; the last error is returned
// when all attempts fail.
func (j *Journal) Record(ctx context.Context, e domain.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.TS.IsZero() {
		e.TS = j.now().UTC()
	}

	var lastErr error
	for attempt := 1; attempt <= j.maxAttempts; attempt++ {
		if lastErr = j.store.Append(ctx, e); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < j.maxAttempts {
			backoff := j.backoffBase * time.Duration(1<<(attempt-1))
			j.logger.Warn("event append failed, retrying",
				slog.String("event_type", string(e.Type)),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.Any("error", lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("journal: append %s: %w", e.Type, ctx.Err())
			}
		}
	}

	j.logger.Error("event append failed permanently",
		slog.String("event_type", string(e.Type)),
		slog.String("trade_id", e.TradeID),
		slog.Any("error", lastErr))
	return fmt.Errorf("journal: append %s: %w", e.Type, lastErr)
}

// Event is a convenience constructor for the common case.
func Event(t domain.EventType, decisionID, tradeID, asset string, payload map[string]any) domain.Event {
	return domain.Event{
		Type:       t,
		DecisionID: decisionID,
		TradeID:    tradeID,
		Asset:      asset,
		Payload:    payload,
	}
}
