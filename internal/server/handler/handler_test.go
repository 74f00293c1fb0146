package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantara/perpbot/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSettled struct {
	trades []domain.SettledTrade
	got    domain.ListOpts
}

func (s *stubSettled) Insert(context.Context, domain.SettledTrade) error { return nil }
func (s *stubSettled) GetByID(_ context.Context, id string) (domain.SettledTrade, error) {
	for _, t := range s.trades {
		if t.TradeID == id {
			return t, nil
		}
	}
	return domain.SettledTrade{}, domain.ErrNotFound
}
func (s *stubSettled) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.SettledTrade, error) {
	s.got = opts
	return s.trades, nil
}
func (s *stubSettled) ListBefore(context.Context, time.Time) ([]domain.SettledTrade, error) {
	return nil, nil
}
func (s *stubSettled) SumNetPnL(context.Context) (float64, error) { return 0, nil }

type stubEvents struct {
	events []domain.Event
}

func (s *stubEvents) Append(context.Context, domain.Event) error { return nil }
func (s *stubEvents) ListByTrade(context.Context, string) ([]domain.Event, error) {
	return s.events, nil
}
func (s *stubEvents) ListByDecision(context.Context, string) ([]domain.Event, error) {
	return nil, nil
}
func (s *stubEvents) ListBefore(context.Context, time.Time) ([]domain.Event, error) {
	return nil, nil
}

type stubCache struct {
	snap domain.StateSnapshot
	err  error
}

func (s *stubCache) Set(context.Context, domain.StateSnapshot) error { return nil }
func (s *stubCache) Get(context.Context) (domain.StateSnapshot, error) {
	return s.snap, s.err
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler("paper", time.Now().Add(-time.Minute), discard())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "paper", body["mode"])
}

func TestStatusPrefersCache(t *testing.T) {
	cache := &stubCache{snap: domain.StateSnapshot{Mode: "paper", Equity: 12345}}
	h := NewStatusHandler(cache, func() domain.StateSnapshot {
		t.Fatal("live source should not be consulted when the cache hits")
		return domain.StateSnapshot{}
	}, discard())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var snap domain.StateSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 12345.0, snap.Equity)
}

func TestStatusFallsBackToSource(t *testing.T) {
	cache := &stubCache{err: domain.ErrNotFound}
	h := NewStatusHandler(cache, func() domain.StateSnapshot {
		return domain.StateSnapshot{Mode: "paper", Equity: 777}
	}, discard())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var snap domain.StateSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 777.0, snap.Equity)
}

func TestListTradesPagination(t *testing.T) {
	settled := &stubSettled{trades: []domain.SettledTrade{{TradeID: "t-1"}}}
	h := NewTradeHandler(settled, &stubEvents{}, discard())

	rec := httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades?limit=9999&offset=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, settled.got.Limit)
	assert.Equal(t, 10, settled.got.Offset)
}

func TestGetTradeNotFound(t *testing.T) {
	h := NewTradeHandler(&stubSettled{}, &stubEvents{}, discard())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/trades/{id}", h.GetTrade)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trades/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTradeEvents(t *testing.T) {
	events := &stubEvents{events: []domain.Event{{ID: "e-1", Type: domain.EventTradeOpened}}}
	h := NewTradeHandler(&stubSettled{}, events, discard())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/trades/{id}/events", h.GetTradeEvents)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trades/t-1/events", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
}
