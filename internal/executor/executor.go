// Package executor routes orders through a tiered execution ladder:
// passive maker first, then immediate-or-cancel, then a guarded market
// sweep. The venue itself sits behind the Transport interface.
package executor

import (
	"context"

	"github.com/quantara/perpbot/internal/domain"
)

// OrderType is the execution style of a single order attempt.
type OrderType string

const (
	OrderPostOnly OrderType = "post_only"
	OrderIOC      OrderType = "ioc"
	OrderMarket   OrderType = "market"
)

// Direction is the order direction on the book, independent of position
// side.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// DirectionFor returns the book direction for entering (or exiting) a
// position side.
func DirectionFor(side domain.Side, exit bool) Direction {
	buy := side == domain.SideLong
	if exit {
		buy = !buy
	}
	if buy {
		return Buy
	}
	return Sell
}

// Request describes what the caller wants executed. Size is in contracts.
type Request struct {
	Asset      string
	Direction  Direction
	Size       float64
	Leverage   int
	ReduceOnly bool
}

// Order is one concrete attempt derived from a Request by the router.
type Order struct {
	Request
	Type       OrderType
	LimitPrice float64
	// RefPrice and ATRPct carry market context for transports that
	// synthesize fills.
	RefPrice float64
	ATRPct   float64
}

// Fill is the result of a successful order attempt.
type Fill struct {
	Price float64
	Size  float64
	Fee   float64
	Path  string
}

// Transport places a single order on the venue. Implementations return an
// error wrapping domain.ErrOrderRejected when the order did not fill
// (post-only crossed, IOC missed, venue reject); the router treats that as
// the signal to try the next tier.
type Transport interface {
	Place(ctx context.Context, o Order) (Fill, error)
}
