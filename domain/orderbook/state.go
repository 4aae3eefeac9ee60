package orderbook

import (
	"errors"

	"lukechampine.com/uint128"
)

// State-related failures surfaced by the engine. ErrInvalidOrderParameters
// covers zero quantities and zero limit prices; the rest are raised by the
// market registry and cancellation paths.
var (
	ErrInvalidOrderParameters = errors.New("invalid order parameters")
	ErrMarketNotFound         = errors.New("market not found")
	ErrMarketExists           = errors.New("market already exists")
	ErrMarketPaused           = errors.New("market is paused")
	ErrOrderNotFound          = errors.New("order not found")
	ErrNotOrderOwner          = errors.New("only the owner can cancel an order")
)

// State is the key/value view the matching engine reads market parameters
// and resting orders through, and writes fills back to. The canonical book
// lives here; the engine reconstructs its in-memory projection on every call
// rather than caching across calls. Reads are infallible by contract; the
// three mutators surface storage errors, which the engine propagates.
type State interface {
	// MarketParams returns the parameters of a market, if registered.
	MarketParams(market string) (MarketParams, bool)
	// Markets lists all registered market identifiers.
	Markets() []string
	// MarketOrders returns the resting orders of a market in any order.
	MarketOrders(market string) []*Order
	// Order returns a resting order by ID.
	Order(id string) (*Order, bool)

	// PutOrder stores a new resting order.
	PutOrder(o *Order) error
	// UpdateOrderRemaining overwrites the remaining quantity of a
	// resting order.
	UpdateOrderRemaining(id string, remaining uint128.Uint128) error
	// RemoveOrder deletes a resting order.
	RemoveOrder(id string) error

	// PutMarket registers a market.
	PutMarket(market string, params MarketParams) error
	// UpdateMarket overwrites the parameters of a registered market.
	UpdateMarket(market string, params MarketParams) error
}
