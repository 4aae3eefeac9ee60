// Package orderbook implements the single-market continuous double auction:
// limit and market orders, three time-in-force disciplines, price levels with
// FIFO queues, and the matching engine that consumes resting state.
package orderbook

import (
	"time"

	"lukechampine.com/uint128"

	"github.com/astriaorg/astria-sub003/domain/primitive"
)

// Side of an order.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// OppositeSide returns the side an incoming order matches against.
func OppositeSide(s Side) Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType distinguishes limit orders, which carry a price, from market
// orders, which sweep the opposite side unconstrained.
type OrderType int

const (
	Limit OrderType = iota
	Market
)

func (t OrderType) String() string {
	if t == Market {
		return "market"
	}
	return "limit"
}

// TimeInForce controls the disposition of an unfilled remainder.
type TimeInForce int

const (
	// GTC rests the remainder in the book until cancelled.
	GTC TimeInForce = iota
	// IOC matches what it can and discards the rest.
	IOC
	// FOK fills the whole order immediately or does nothing at all.
	FOK
)

func (t TimeInForce) String() string {
	switch t {
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	default:
		return "GTC"
	}
}

// Order is a resting or incoming order of a single market. Remaining starts
// equal to Quantity and only decreases; an order whose Remaining hits zero is
// removed from state on the same transition.
type Order struct {
	ID          string
	Market      string
	Owner       primitive.Address
	Side        Side
	Type        OrderType
	TimeInForce TimeInForce
	Price       uint128.Uint128
	Quantity    uint128.Uint128
	Remaining   uint128.Uint128
	CreatedAt   time.Time
}

// MarketParams describes a tradable market.
type MarketParams struct {
	BaseAsset  string
	QuoteAsset string
	TickSize   uint128.Uint128
	LotSize    uint128.Uint128
	Paused     bool
}

// MatchEvent records one fill between a resting maker and an incoming taker.
// Events are append-only; the price is always the maker's resting price.
type MatchEvent struct {
	ID           string
	Market       string
	Price        uint128.Uint128
	Quantity     uint128.Uint128
	MakerOrderID string
	TakerOrderID string
	TakerSide    Side
	Time         time.Time
}
