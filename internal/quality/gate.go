// Package quality implements the pre-decision data-quality gate. A decision
// cycle only proceeds when the market data backing it is broad, fresh, and
// carries enough volatility coverage to size positions.
package quality

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantara/perpbot/internal/config"
	"github.com/quantara/perpbot/internal/domain"
)

// Rejection reasons reported by the gate. These are machine-readable and end
// up verbatim in the event journal.
const (
	ReasonBasketTooSmall = "basket_too_small"
	ReasonInvalidPrices  = "invalid_or_missing_prices"
	ReasonStalePrices    = "stale_price_data"
	ReasonATRCoverageLow = "atr_coverage_low"
)

// Result is the outcome of one quality check.
type Result struct {
	OK          bool    `json:"ok"`
	Reason      string  `json:"reason,omitempty"`
	BasketSize  int     `json:"basket_size"`
	Checked     int     `json:"checked"`
	ValidRatio  float64 `json:"valid_ratio"`
	FreshRatio  float64 `json:"fresh_ratio"`
	ATRCoverage float64 `json:"atr_coverage"`
}

// Gate evaluates market-data quality against configured thresholds.
type Gate struct {
	cfg    config.QualityConfig
	md     domain.MarketDataProvider
	logger *slog.Logger
}

// NewGate builds a quality gate backed by the given market data provider.
func NewGate(cfg config.QualityConfig, md domain.MarketDataProvider, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:    cfg,
		md:     md,
		logger: logger.With(slog.String("component", "quality_gate")),
	}
}

// Check samples the tracked basket and reports whether the data is good
// enough to trade on. Checks are evaluated in fixed order; the first failing
// check wins so the journal carries a single stable reason.
func (g *Gate) Check(ctx context.Context, now time.Time) (Result, error) {
	basket, err := g.md.Basket(ctx)
	if err != nil {
		return Result{}, err
	}

	res := Result{BasketSize: len(basket)}
	if len(basket) < g.cfg.MinBasketSize {
		res.Reason = ReasonBasketTooSmall
		g.logResult(res)
		return res, nil
	}

	sample := basket
	if g.cfg.MaxCheckedAssets > 0 && len(sample) > g.cfg.MaxCheckedAssets {
		sample = sample[:g.cfg.MaxCheckedAssets]
	}

	maxAge := time.Duration(g.cfg.MaxPriceAgeSec) * time.Second
	var valid, fresh, withATR int
	for _, asset := range sample {
		snap, err := g.md.Snapshot(ctx, asset)
		if err != nil || snap.Price <= 0 {
			continue
		}
		valid++
		if !snap.PriceTS.IsZero() && now.Sub(snap.PriceTS) <= maxAge {
			fresh++
		}
		if snap.HasATR() {
			withATR++
		}
	}

	res.Checked = len(sample)
	res.ValidRatio = ratio(valid, len(sample))
	res.FreshRatio = ratio(fresh, len(sample))
	res.ATRCoverage = ratio(withATR, len(sample))

	switch {
	case res.ValidRatio < g.cfg.MinFreshRatio:
		res.Reason = ReasonInvalidPrices
	case res.FreshRatio < g.cfg.MinFreshRatio:
		res.Reason = ReasonStalePrices
	case res.ATRCoverage < g.cfg.MinATRCoverage:
		res.Reason = ReasonATRCoverageLow
	default:
		res.OK = true
	}

	g.logResult(res)
	return res, nil
}

func (g *Gate) logResult(res Result) {
	if res.OK {
		return
	}
	g.logger.Warn("data quality check failed",
		slog.String("reason", res.Reason),
		slog.Int("basket_size", res.BasketSize),
		slog.Float64("fresh_ratio", res.FreshRatio),
		slog.Float64("atr_coverage", res.ATRCoverage))
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
