package executor

import (
	"context"
	"log/slog"

	"github.com/quantara/perpbot/internal/config"
)

// DryRunTransport synthesizes fills without touching a venue. Limit orders
// fill at their limit price; market orders fill at the reference price moved
// adversely by a volatility-scaled slippage. Taker orders pay the taker fee,
// passive orders pay none.
type DryRunTransport struct {
	cfg    config.PaperConfig
	logger *slog.Logger
}

// NewDryRunTransport builds a paper transport.
func NewDryRunTransport(cfg config.PaperConfig, logger *slog.Logger) *DryRunTransport {
	return &DryRunTransport{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "dryrun_transport")),
	}
}

// Place implements Transport.
func (t *DryRunTransport) Place(ctx context.Context, o Order) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}

	var price float64
	switch o.Type {
	case OrderPostOnly, OrderIOC:
		price = o.LimitPrice
	case OrderMarket:
		price = t.slip(o)
	}

	fill := Fill{Price: price, Size: o.Size}
	if o.Type != OrderPostOnly {
		fill.Fee = price * o.Size * t.cfg.TakerFeeRate
	}

	t.logger.Debug("synthetic fill",
		slog.String("asset", o.Asset),
		slog.String("type", string(o.Type)),
		slog.Float64("price", price),
		slog.Float64("size", o.Size))
	return fill, nil
}

// slip moves the reference price against the order by a slippage percentage
// scaled off recent volatility and clamped to the configured band.
func (t *DryRunTransport) slip(o Order) float64 {
	slipPct := o.ATRPct * t.cfg.SlippageATRMult
	if slipPct < t.cfg.SlippageMinPct {
		slipPct = t.cfg.SlippageMinPct
	}
	if slipPct > t.cfg.SlippageMaxPct {
		slipPct = t.cfg.SlippageMaxPct
	}

	adj := o.RefPrice * slipPct / 100
	if o.Direction == Buy {
		return o.RefPrice + adj
	}
	return o.RefPrice - adj
}
