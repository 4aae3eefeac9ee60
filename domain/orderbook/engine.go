package orderbook

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"lukechampine.com/uint128"

	"github.com/astriaorg/astria-sub003/infra/logging"
)

// MatchingEngine executes incoming orders against the resting state of a
// market. It is synchronous and stateless across calls: every ProcessOrder
// reconstructs the book from State, matches, and writes the results back
// within the same call.
type MatchingEngine struct {
	clock clock.Clock
	log   *logrus.Entry
}

// NewMatchingEngine constructs an engine stamping match events with the
// given clock.
func NewMatchingEngine(clk clock.Clock) *MatchingEngine {
	if clk == nil {
		clk = clock.New()
	}
	return &MatchingEngine{
		clock: clk,
		log:   logging.Module("matching"),
	}
}

// crosses reports whether a resting level at levelPrice is acceptable to a
// taker limited to limit: an ask at or below a buyer's limit, a bid at or
// above a seller's limit.
func crosses(takerSide Side, levelPrice, limit uint128.Uint128) bool {
	if takerSide == Buy {
		return levelPrice.Cmp(limit) <= 0
	}
	return levelPrice.Cmp(limit) >= 0
}

func minU128(a, b uint128.Uint128) uint128.Uint128 {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// ProcessOrder runs the matching state machine for one incoming order and
// returns the emitted match events. The caller may or may not have stored
// the taker in State beforehand; either way the taker's final disposition
// (resting, updated, or gone) is reconciled here. Already-emitted events
// remain valid when a state write fails mid-call.
func (e *MatchingEngine) ProcessOrder(st State, taker *Order) ([]MatchEvent, error) {
	if taker.Quantity.IsZero() {
		return nil, fmt.Errorf("%w: zero quantity", ErrInvalidOrderParameters)
	}
	if taker.Type == Limit && taker.Price.IsZero() {
		return nil, fmt.Errorf("%w: zero limit price", ErrInvalidOrderParameters)
	}

	remaining := taker.Remaining
	if remaining.IsZero() {
		remaining = taker.Quantity
	}

	if taker.Side == Sell {
		// Balance checks happen in the settlement layer; here we only
		// warn so an unknown market does not block admission.
		params, ok := st.MarketParams(taker.Market)
		switch {
		case !ok:
			e.log.WithField("market", taker.Market).
				Warn("sell order for unknown market, deferring to settlement")
		case params.BaseAsset == "":
			e.log.WithField("market", taker.Market).
				Warn("market has no parsable base asset, deferring to settlement")
		}
	}

	book := BuildOrderBook(st, taker.Market)
	opposite := book.Side(OppositeSide(taker.Side))

	switch taker.Type {
	case Market:
		if taker.TimeInForce == FOK && opposite.TotalRemaining().Cmp(remaining) < 0 {
			return nil, e.settleTaker(st, taker, remaining, false)
		}
		events, err := e.match(st, opposite, taker, &remaining, nil)
		if err != nil {
			e.logPartialFailure(taker, len(events), err)
			return events, err
		}
		// A market order never rests; any residual is discarded.
		return events, e.settleTaker(st, taker, remaining, false)

	default: // Limit
		if taker.TimeInForce == FOK && e.availableWithin(opposite, taker).Cmp(remaining) < 0 {
			// Fill-or-kill is atomic: insufficient crossing depth
			// means nothing happens at all.
			return nil, e.settleTaker(st, taker, remaining, false)
		}
		limit := taker.Price
		events, err := e.match(st, opposite, taker, &remaining, &limit)
		if err != nil {
			e.logPartialFailure(taker, len(events), err)
			return events, err
		}
		rests := taker.TimeInForce == GTC && !remaining.IsZero()
		return events, e.settleTaker(st, taker, remaining, rests)
	}
}

// availableWithin sums the opposite side's remaining quantity at prices that
// cross the taker's limit.
func (e *MatchingEngine) availableWithin(opposite *BookSide, taker *Order) uint128.Uint128 {
	total := uint128.Zero
	opposite.Walk(func(lvl *PriceLevel) bool {
		if !crosses(taker.Side, lvl.Price, taker.Price) {
			return false
		}
		total = total.Add(lvl.TotalQty)
		return true
	})
	return total
}

// match walks the opposite side best-price-first, consuming each level's
// queue in FIFO order. A nil priceLimit (market order) walks without a price
// constraint. Matches execute at the maker's resting price. Maker state is
// authoritative: a maker present in the projection but missing from State is
// skipped with a log line.
func (e *MatchingEngine) match(
	st State,
	opposite *BookSide,
	taker *Order,
	remaining *uint128.Uint128,
	priceLimit *uint128.Uint128,
) ([]MatchEvent, error) {
	var events []MatchEvent
	for _, lvl := range opposite.Levels() {
		if remaining.IsZero() {
			break
		}
		if priceLimit != nil && !crosses(taker.Side, lvl.Price, *priceLimit) {
			// Levels arrive best-first, so the first level outside
			// the limit ends the walk.
			break
		}
		for !lvl.Empty() && !remaining.IsZero() {
			maker := lvl.Head()
			stored, ok := st.Order(maker.ID)
			if !ok {
				e.log.WithFields(logrus.Fields{
					"market":   taker.Market,
					"order_id": maker.ID,
				}).Warn("resting order missing from state, skipping")
				lvl.PopHead()
				continue
			}
			matchQty := minU128(*remaining, stored.Remaining)
			if matchQty.IsZero() {
				lvl.PopHead()
				continue
			}

			events = append(events, MatchEvent{
				ID:           uuid.NewString(),
				Market:       taker.Market,
				Price:        lvl.Price,
				Quantity:     matchQty,
				MakerOrderID: maker.ID,
				TakerOrderID: taker.ID,
				TakerSide:    taker.Side,
				Time:         e.clock.Now(),
			})
			*remaining = remaining.Sub(matchQty)

			makerLeft := stored.Remaining.Sub(matchQty)
			if makerLeft.IsZero() {
				if err := st.RemoveOrder(maker.ID); err != nil {
					return events, errors.Wrap(err, "removing filled maker order")
				}
				lvl.PopHead()
			} else {
				if err := st.UpdateOrderRemaining(maker.ID, makerLeft); err != nil {
					return events, errors.Wrap(err, "updating maker remaining quantity")
				}
				lvl.ReduceHead(matchQty)
			}
		}
		if lvl.Empty() {
			opposite.RemoveLevel(lvl.Price)
		}
	}
	return events, nil
}

// settleTaker reconciles the taker's stored form after matching. rests keeps
// the residual in the book (GTC limit orders only); otherwise any stored copy
// of the taker is removed alongside the discarded residual.
func (e *MatchingEngine) settleTaker(
	st State,
	taker *Order,
	remaining uint128.Uint128,
	rests bool,
) error {
	_, stored := st.Order(taker.ID)
	if rests {
		if stored {
			return errors.Wrap(
				st.UpdateOrderRemaining(taker.ID, remaining),
				"updating resting taker",
			)
		}
		resting := *taker
		resting.Remaining = remaining
		return errors.Wrap(st.PutOrder(&resting), "resting taker residual")
	}
	if stored {
		return errors.Wrap(st.RemoveOrder(taker.ID), "removing non-resting taker")
	}
	return nil
}

func (e *MatchingEngine) logPartialFailure(taker *Order, emitted int, err error) {
	e.log.WithError(err).WithFields(logrus.Fields{
		"market":   taker.Market,
		"order_id": taker.ID,
		"emitted":  emitted,
	}).Error("state write failed mid-match; already-emitted matches remain valid")
}
