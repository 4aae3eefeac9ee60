package orderbook

import "sort"

// OrderBook is the in-memory projection of one market's resting orders.
// It is rebuilt from State for every incoming order: the canonical book
// lives in State, and reconstructing it each call removes the possibility
// of the projection drifting when other subsystems mutate storage.
type OrderBook struct {
	Bids *BookSide
	Asks *BookSide
}

// BuildOrderBook scans State for the market's resting orders and places each
// into its side. Orders at the same price queue in arrival order so that
// time priority survives the rebuild; fully filled stragglers are skipped.
func BuildOrderBook(st State, market string) *OrderBook {
	book := &OrderBook{
		Bids: NewBookSide(true),
		Asks: NewBookSide(false),
	}

	orders := st.MarketOrders(market)
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})

	for _, o := range orders {
		if o.Remaining.IsZero() {
			continue
		}
		book.Side(o.Side).GetOrCreate(o.Price).Enqueue(o)
	}
	return book
}

// Side returns the book side resting orders of the given side live on.
func (b *OrderBook) Side(s Side) *BookSide {
	if s == Buy {
		return b.Bids
	}
	return b.Asks
}
