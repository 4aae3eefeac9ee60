package orderbook

import (
	"github.com/pkg/errors"

	"github.com/astriaorg/astria-sub003/domain/primitive"
)

// CreateMarket registers a new market. Re-registering an existing market is
// rejected; use UpdateMarket to change parameters.
func (e *MatchingEngine) CreateMarket(st State, market string, params MarketParams) error {
	if market == "" || params.BaseAsset == "" || params.QuoteAsset == "" {
		return errors.Wrap(ErrInvalidOrderParameters, "market and assets must be set")
	}
	if _, ok := st.MarketParams(market); ok {
		return errors.Wrap(ErrMarketExists, market)
	}
	if err := st.PutMarket(market, params); err != nil {
		return errors.Wrap(err, "storing market params")
	}
	e.log.WithField("market", market).Info("market created")
	return nil
}

// UpdateMarket replaces the parameters of an existing market. Resting orders
// are unaffected; a paused market only rejects new orders.
func (e *MatchingEngine) UpdateMarket(st State, market string, params MarketParams) error {
	if _, ok := st.MarketParams(market); !ok {
		return errors.Wrap(ErrMarketNotFound, market)
	}
	if err := st.UpdateMarket(market, params); err != nil {
		return errors.Wrap(err, "updating market params")
	}
	e.log.WithField("market", market).Info("market updated")
	return nil
}

// CancelOrder removes a resting order. Only the order's owner may cancel it.
func (e *MatchingEngine) CancelOrder(st State, owner primitive.Address, orderID string) error {
	o, ok := st.Order(orderID)
	if !ok {
		return errors.Wrap(ErrOrderNotFound, orderID)
	}
	if o.Owner != owner {
		return errors.Wrap(ErrNotOrderOwner, orderID)
	}
	if err := st.RemoveOrder(orderID); err != nil {
		return errors.Wrap(err, "removing cancelled order")
	}
	return nil
}
