package quality

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantara/perpbot/internal/config"
	"github.com/quantara/perpbot/internal/domain"
)

type fakeMarketData struct {
	basket []string
	snaps  map[string]domain.MarketSnapshot
}

func (f *fakeMarketData) Basket(context.Context) ([]string, error) {
	return f.basket, nil
}

func (f *fakeMarketData) Snapshot(_ context.Context, asset string) (domain.MarketSnapshot, error) {
	snap, ok := f.snaps[asset]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildMarket(n int, mutate func(i int, s *domain.MarketSnapshot)) *fakeMarketData {
	now := time.Now()
	md := &fakeMarketData{snaps: make(map[string]domain.MarketSnapshot)}
	for i := 0; i < n; i++ {
		asset := fmt.Sprintf("ASSET%02d-PERP-INTX", i)
		snap := domain.MarketSnapshot{
			Asset:   asset,
			Price:   100 + float64(i),
			PriceTS: now,
			ATR1h:   1.5,
			ATR6h:   4.0,
		}
		if mutate != nil {
			mutate(i, &snap)
		}
		md.basket = append(md.basket, asset)
		md.snaps[asset] = snap
	}
	return md
}

func TestCheckPasses(t *testing.T) {
	md := buildMarket(20, nil)
	g := NewGate(config.Defaults().Quality, md, testLogger())

	res, err := g.Check(context.Background(), time.Now())
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Empty(t, res.Reason)
	assert.Equal(t, 20, res.Checked)
}

func TestCheckBasketTooSmall(t *testing.T) {
	md := buildMarket(5, nil)
	g := NewGate(config.Defaults().Quality, md, testLogger())

	res, err := g.Check(context.Background(), time.Now())
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonBasketTooSmall, res.Reason)
}

func TestCheckInvalidPrices(t *testing.T) {
	md := buildMarket(20, func(i int, s *domain.MarketSnapshot) {
		if i < 10 {
			s.Price = 0
		}
	})
	g := NewGate(config.Defaults().Quality, md, testLogger())

	res, err := g.Check(context.Background(), time.Now())
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonInvalidPrices, res.Reason)
}

func TestCheckStalePrices(t *testing.T) {
	md := buildMarket(20, func(i int, s *domain.MarketSnapshot) {
		if i < 10 {
			s.PriceTS = time.Now().Add(-time.Minute)
		}
	})
	g := NewGate(config.Defaults().Quality, md, testLogger())

	res, err := g.Check(context.Background(), time.Now())
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonStalePrices, res.Reason)
}

func TestCheckATRCoverageLow(t *testing.T) {
	md := buildMarket(20, func(i int, s *domain.MarketSnapshot) {
		if i < 12 {
			s.ATR1h, s.ATR6h = 0, 0
		}
	})
	g := NewGate(config.Defaults().Quality, md, testLogger())

	res, err := g.Check(context.Background(), time.Now())
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonATRCoverageLow, res.Reason)
}

func TestCheckCapsSampleSize(t *testing.T) {
	md := buildMarket(60, nil)
	g := NewGate(config.Defaults().Quality, md, testLogger())

	res, err := g.Check(context.Background(), time.Now())
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 40, res.Checked)
	assert.Equal(t, 60, res.BasketSize)
}
