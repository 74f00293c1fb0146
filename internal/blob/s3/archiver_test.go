package s3blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantara/perpbot/internal/domain"
)

type memWriter struct {
	puts map[string][]byte
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	w.puts[path] = buf.Bytes()
	return nil
}

type stubSettled struct {
	recs []domain.SettledTrade
}

func (s *stubSettled) Insert(context.Context, domain.SettledTrade) error { return nil }
func (s *stubSettled) GetByID(context.Context, string) (domain.SettledTrade, error) {
	return domain.SettledTrade{}, domain.ErrNotFound
}
func (s *stubSettled) ListRecent(context.Context, domain.ListOpts) ([]domain.SettledTrade, error) {
	return nil, nil
}
func (s *stubSettled) ListBefore(context.Context, time.Time) ([]domain.SettledTrade, error) {
	return s.recs, nil
}
func (s *stubSettled) SumNetPnL(context.Context) (float64, error) { return 0, nil }

type stubEvents struct {
	evs []domain.Event
}

func (s *stubEvents) Append(context.Context, domain.Event) error { return nil }
func (s *stubEvents) ListByTrade(context.Context, string) ([]domain.Event, error) {
	return nil, nil
}
func (s *stubEvents) ListByDecision(context.Context, string) ([]domain.Event, error) {
	return nil, nil
}
func (s *stubEvents) ListBefore(context.Context, time.Time) ([]domain.Event, error) {
	return s.evs, nil
}

func TestArchiveTradesWritesJSONL(t *testing.T) {
	w := &memWriter{puts: make(map[string][]byte)}
	settled := &stubSettled{recs: []domain.SettledTrade{
		{TradeID: "t-1", Asset: "SOL-PERP-INTX", PnLNet: 42},
		{TradeID: "t-2", Asset: "ETH-PERP-INTX", PnLNet: -7},
	}}
	a := NewArchiver(w, settled, &stubEvents{})

	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	body, ok := w.puts["archive/trades/2026-02.jsonl"]
	require.True(t, ok)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"trade_id":"t-1"`)
}

func TestArchiveSkipsEmptyRanges(t *testing.T) {
	w := &memWriter{puts: make(map[string][]byte)}
	a := NewArchiver(w, &stubSettled{}, &stubEvents{})

	n, err := a.ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.puts)
}

func TestArchiveEvents(t *testing.T) {
	w := &memWriter{puts: make(map[string][]byte)}
	events := &stubEvents{evs: []domain.Event{
		{ID: "e-1", Type: domain.EventTradeOpened},
	}}
	a := NewArchiver(w, &stubSettled{}, events)

	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveEvents(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Contains(t, w.puts, "archive/events/2026-02.jsonl")
}
