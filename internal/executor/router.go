package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantara/perpbot/internal/config"
	"github.com/quantara/perpbot/internal/domain"
	"github.com/quantara/perpbot/internal/observability"
)

// Execution path names recorded in the journal and status surface.
const (
	PathPostOnly      = "post_only"
	PathIOC           = "ioc"
	PathMarket        = "market"
	PathLimitRetryIOC = "limit_retry_ioc"
)

// Guard-failure reasons for the market tier.
const (
	guardReasonSpread = "spread_too_wide"
	guardReasonSize   = "size_vs_volume"
)

// Router walks the execution ladder for each request and remembers the
// outcome of the last attempt for the status surface.
type Router struct {
	cfg       config.ExecutionConfig
	transport Transport
	logger    *slog.Logger

	mu   sync.Mutex
	last domain.ExecutionStatus
}

// NewRouter builds a router over the given transport.
func NewRouter(cfg config.ExecutionConfig, transport Transport, logger *slog.Logger) *Router {
	return &Router{
		cfg:       cfg,
		transport: transport,
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// ExecuteEntry fills an entry request by walking the enabled tiers in
// order. It returns domain.ErrTiersExhausted when every tier declined.
func (r *Router) ExecuteEntry(ctx context.Context, req Request, snap domain.MarketSnapshot) (Fill, error) {
	mid := r.mid(snap)
	if mid <= 0 {
		return Fill{}, fmt.Errorf("executor: %s: no reference price", req.Asset)
	}
	atrPct := atrPct(snap, mid)

	if r.cfg.PostOnlyEnabled {
		order := r.limitOrder(req, OrderPostOnly, mid, -r.cfg.PostOnlyOffsetPct, atrPct)
		if fill, err := r.place(ctx, order, r.cfg.PostOnlyTimeoutSec); err == nil {
			return r.done(fill, PathPostOnly), nil
		} else if !errors.Is(err, domain.ErrOrderRejected) {
			return Fill{}, r.failed(PathPostOnly, err)
		}
	}

	if r.cfg.IOCEnabled {
		order := r.limitOrder(req, OrderIOC, mid, r.cfg.IOCSlippagePct, atrPct)
		if fill, err := r.place(ctx, order, r.cfg.TierTimeoutSec); err == nil {
			return r.done(fill, PathIOC), nil
		} else if !errors.Is(err, domain.ErrOrderRejected) {
			return Fill{}, r.failed(PathIOC, err)
		}
	}

	if r.cfg.MarketEnabled {
		if reason := r.marketGuard(req, snap, mid); reason == "" {
			order := Order{Request: req, Type: OrderMarket, RefPrice: mid, ATRPct: atrPct}
			if fill, err := r.place(ctx, order, r.cfg.TierTimeoutSec); err == nil {
				return r.done(fill, PathMarket), nil
			} else if !errors.Is(err, domain.ErrOrderRejected) {
				return Fill{}, r.failed(PathMarket, err)
			}
		} else if r.cfg.GuardRetryIOCEnabled {
			// The book is too thin to sweep; cross once more with a wider
			// limit instead.
			r.logger.Warn("market guard blocked sweep",
				slog.String("asset", req.Asset),
				slog.String("reason", reason))
			order := r.limitOrder(req, OrderIOC, mid, r.cfg.GuardRetryIOCSlipPct, atrPct)
			if fill, err := r.place(ctx, order, r.cfg.TierTimeoutSec); err == nil {
				return r.done(fill, PathLimitRetryIOC), nil
			} else if !errors.Is(err, domain.ErrOrderRejected) {
				return Fill{}, r.failed(PathLimitRetryIOC, err)
			}
		}
	}

	return Fill{}, r.failed("", domain.ErrTiersExhausted)
}

// ExecuteExit fills a reduce-only exit. Exits skip the passive tier and the
// market guard: getting flat beats getting a better price.
func (r *Router) ExecuteExit(ctx context.Context, req Request, snap domain.MarketSnapshot) (Fill, error) {
	req.ReduceOnly = true
	mid := r.mid(snap)
	if mid <= 0 {
		return Fill{}, fmt.Errorf("executor: %s: no reference price", req.Asset)
	}
	atrPct := atrPct(snap, mid)

	if r.cfg.IOCEnabled {
		order := r.limitOrder(req, OrderIOC, mid, r.cfg.IOCSlippagePct, atrPct)
		if fill, err := r.place(ctx, order, r.cfg.TierTimeoutSec); err == nil {
			return r.done(fill, PathIOC), nil
		} else if !errors.Is(err, domain.ErrOrderRejected) {
			return Fill{}, r.failed(PathIOC, err)
		}
	}

	order := Order{Request: req, Type: OrderMarket, RefPrice: mid, ATRPct: atrPct}
	if fill, err := r.place(ctx, order, r.cfg.TierTimeoutSec); err == nil {
		return r.done(fill, PathMarket), nil
	} else if err != nil && !errors.Is(err, domain.ErrOrderRejected) {
		return Fill{}, r.failed(PathMarket, err)
	}

	return Fill{}, r.failed("", domain.ErrTiersExhausted)
}

// LastStatus returns the outcome of the most recent execution attempt.
func (r *Router) LastStatus() domain.ExecutionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Router) place(ctx context.Context, o Order, timeoutSec int) (Fill, error) {
	if timeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
		defer cancel()
	}
	fill, err := r.transport.Place(ctx, o)
	if err != nil {
		// A tier timing out reads the same as a venue decline.
		if errors.Is(err, context.DeadlineExceeded) {
			return Fill{}, fmt.Errorf("executor: %s timed out: %w", o.Type, domain.ErrOrderRejected)
		}
		return Fill{}, err
	}
	return fill, nil
}

// marketGuard returns a non-empty reason when sweeping the book is unsafe.
func (r *Router) marketGuard(req Request, snap domain.MarketSnapshot, mid float64) string {
	if snap.SpreadPct > r.cfg.GuardMaxSpreadPct {
		return guardReasonSpread
	}
	if snap.Volume1m > 0 {
		notional := req.Size * mid
		if notional/snap.Volume1m*100 > r.cfg.GuardMaxSizeToVol1m {
			return guardReasonSize
		}
	}
	return ""
}

// limitOrder prices a limit attempt offsetPct percent through (positive) or
// away from (negative) the mid, direction-adjusted.
func (r *Router) limitOrder(req Request, typ OrderType, mid, offsetPct, atrPct float64) Order {
	offset := mid * offsetPct / 100
	var price float64
	if req.Direction == Buy {
		price = mid + offset
	} else {
		price = mid - offset
	}
	return Order{Request: req, Type: typ, LimitPrice: price, RefPrice: mid, ATRPct: atrPct}
}

func (r *Router) mid(snap domain.MarketSnapshot) float64 {
	if snap.Mid > 0 {
		return snap.Mid
	}
	return snap.Price
}

func (r *Router) done(fill Fill, path string) Fill {
	fill.Path = path
	r.mu.Lock()
	r.last = domain.ExecutionStatus{OK: true, Path: path, TS: time.Now().UTC()}
	r.mu.Unlock()
	observability.RecordFill(path)
	r.logger.Info("order filled",
		slog.String("path", path),
		slog.Float64("price", fill.Price),
		slog.Float64("size", fill.Size))
	return fill
}

func (r *Router) failed(path string, err error) error {
	r.mu.Lock()
	r.last = domain.ExecutionStatus{OK: false, Path: path, Reason: err.Error(), TS: time.Now().UTC()}
	r.mu.Unlock()
	if errors.Is(err, domain.ErrTiersExhausted) {
		return err
	}
	return fmt.Errorf("executor: %s: %w", path, err)
}

func atrPct(snap domain.MarketSnapshot, mid float64) float64 {
	atr := snap.ATR1h
	if atr <= 0 {
		atr = snap.ATR6h
	}
	if atr <= 0 || mid <= 0 {
		return 0
	}
	return atr / mid * 100
}
