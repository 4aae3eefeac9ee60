package orderbook

import "lukechampine.com/uint128"

// Action payloads executed by the orderbook subsystem. They satisfy
// transaction.Action structurally; the transaction package never needs to
// know about them.

// CreateOrderAction submits a new order into a market. The order ID is
// assigned at admission, not by the submitter.
type CreateOrderAction struct {
	Market      string
	Side        Side
	Type        OrderType
	TimeInForce TimeInForce
	Price       uint128.Uint128
	Quantity    uint128.Uint128
}

func (CreateOrderAction) ActionName() string { return "create_order" }

// CancelOrderAction removes a resting order owned by the submitter.
type CancelOrderAction struct {
	OrderID string
}

func (CancelOrderAction) ActionName() string { return "cancel_order" }

// CreateMarketAction registers a new market.
type CreateMarketAction struct {
	Market string
	Params MarketParams
}

func (CreateMarketAction) ActionName() string { return "create_market" }

// UpdateMarketAction replaces the parameters of an existing market.
type UpdateMarketAction struct {
	Market string
	Params MarketParams
}

func (UpdateMarketAction) ActionName() string { return "update_market" }
