package orderbook

import (
	"github.com/emirpasic/gods/maps/treemap"
	"lukechampine.com/uint128"
)

func uint128Comparator(a, b interface{}) int {
	return a.(uint128.Uint128).Cmp(b.(uint128.Uint128))
}

// BookSide holds the price levels of one side of the book, ordered by price.
// The bid flag controls the matching traversal direction: bids are walked
// from the highest price down, asks from the lowest up. Empty levels are
// never retained.
type BookSide struct {
	levels *treemap.Map // uint128.Uint128 -> *PriceLevel
	bid    bool
}

// NewBookSide constructs an empty side; bid selects descending matching
// traversal.
func NewBookSide(bid bool) *BookSide {
	return &BookSide{
		levels: treemap.NewWith(uint128Comparator),
		bid:    bid,
	}
}

// GetOrCreate returns the level at price, creating it if absent.
func (s *BookSide) GetOrCreate(price uint128.Uint128) *PriceLevel {
	if v, found := s.levels.Get(price); found {
		return v.(*PriceLevel)
	}
	lvl := &PriceLevel{Price: price}
	s.levels.Put(price, lvl)
	return lvl
}

// Best returns the most aggressive level: highest price for bids, lowest for
// asks.
func (s *BookSide) Best() *PriceLevel {
	var value interface{}
	if s.bid {
		_, value = s.levels.Max()
	} else {
		_, value = s.levels.Min()
	}
	if value == nil {
		return nil
	}
	return value.(*PriceLevel)
}

// RemoveLevel drops the level at price.
func (s *BookSide) RemoveLevel(price uint128.Uint128) {
	s.levels.Remove(price)
}

// Walk visits the levels in matching order: descending for bids, ascending
// for asks. Return false from fn to stop early. Mutating the side during the
// walk is not supported; Match collects levels up-front instead.
func (s *BookSide) Walk(fn func(*PriceLevel) bool) {
	it := s.levels.Iterator()
	if s.bid {
		for it.End(); it.Prev(); {
			if !fn(it.Value().(*PriceLevel)) {
				return
			}
		}
		return
	}
	for it.Next() {
		if !fn(it.Value().(*PriceLevel)) {
			return
		}
	}
}

// Levels returns the price levels in matching order.
func (s *BookSide) Levels() []*PriceLevel {
	out := make([]*PriceLevel, 0, s.levels.Size())
	s.Walk(func(lvl *PriceLevel) bool {
		out = append(out, lvl)
		return true
	})
	return out
}

// TotalRemaining sums the remaining quantity across every level.
func (s *BookSide) TotalRemaining() uint128.Uint128 {
	total := uint128.Zero
	s.Walk(func(lvl *PriceLevel) bool {
		total = total.Add(lvl.TotalQty)
		return true
	})
	return total
}

func (s *BookSide) Empty() bool {
	return s.levels.Empty()
}
