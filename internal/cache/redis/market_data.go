package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantara/perpbot/internal/domain"
)

// MarketData implements domain.MarketDataProvider over Redis keys populated
// by the market data collector. The basket lives in the set "basket"; each
// asset's context is a hash at "market:{asset}".
type MarketData struct {
	rdb *redis.Client
}

// NewMarketData creates a MarketData provider backed by the given Client.
func NewMarketData(c *Client) *MarketData {
	return &MarketData{rdb: c.Underlying()}
}

var _ domain.MarketDataProvider = (*MarketData)(nil)

func marketKey(asset string) string {
	return "market:" + asset
}

// Basket returns the tracked asset set in sorted order.
func (m *MarketData) Basket(ctx context.Context) ([]string, error) {
	assets, err := m.rdb.SMembers(ctx, "basket").Result()
	if err != nil {
		return nil, fmt.Errorf("redis: basket: %w", err)
	}
	return assets, nil
}

// Snapshot reads the asset's market context. Missing keys return
// domain.ErrNotFound; individually malformed fields read as zero so one bad
// field never hides the rest of the snapshot.
func (m *MarketData) Snapshot(ctx context.Context, asset string) (domain.MarketSnapshot, error) {
	vals, err := m.rdb.HGetAll(ctx, marketKey(asset)).Result()
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: market snapshot %s: %w", asset, err)
	}
	if len(vals) == 0 {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: market snapshot %s: %w", asset, domain.ErrNotFound)
	}

	snap := domain.MarketSnapshot{
		Asset:     asset,
		Price:     parseF(vals["price"]),
		ATR1h:     parseF(vals["atr_1h"]),
		ATR6h:     parseF(vals["atr_6h"]),
		SpreadPct: parseF(vals["spread_pct"]),
		Volume1m:  parseF(vals["volume_1m"]),
		Mid:       parseF(vals["mid"]),
	}
	if ns := parseI(vals["price_ts"]); ns > 0 {
		snap.PriceTS = time.Unix(0, ns)
	}
	return snap, nil
}

func parseF(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseI(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
