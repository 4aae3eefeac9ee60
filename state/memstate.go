// Package state holds the authoritative sequencer state the admission layer
// reads and the matching engine writes: market registrations, resting orders,
// and account nonces.
package state

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"lukechampine.com/uint128"

	"github.com/astriaorg/astria-sub003/domain/orderbook"
	"github.com/astriaorg/astria-sub003/domain/primitive"
)

// MemState is the in-memory implementation of orderbook.State plus the
// account-nonce view the mempool's oracle reads. All methods are safe for
// concurrent use. Orders are copied on the way in and out, so callers can
// never mutate stored state through a returned pointer.
type MemState struct {
	mu       sync.RWMutex
	markets  map[string]orderbook.MarketParams
	orders   map[string]*orderbook.Order
	byMarket map[string]map[string]struct{}
	nonces   map[primitive.Address]primitive.Nonce
}

// NewMemState returns an empty state.
func NewMemState() *MemState {
	return &MemState{
		markets:  make(map[string]orderbook.MarketParams),
		orders:   make(map[string]*orderbook.Order),
		byMarket: make(map[string]map[string]struct{}),
		nonces:   make(map[primitive.Address]primitive.Nonce),
	}
}

func (s *MemState) MarketParams(market string) (orderbook.MarketParams, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.markets[market]
	return p, ok
}

func (s *MemState) Markets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.markets))
	for name := range s.markets {
		names = append(names, name)
	}
	return names
}

func (s *MemState) MarketOrders(market string) []*orderbook.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byMarket[market]
	out := make([]*orderbook.Order, 0, len(ids))
	for id := range ids {
		cp := *s.orders[id]
		out = append(out, &cp)
	}
	return out
}

func (s *MemState) Order(id string) (*orderbook.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, false
	}
	cp := *o
	return &cp, true
}

func (s *MemState) PutOrder(o *orderbook.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return errors.Errorf("order %s already stored", o.ID)
	}
	cp := *o
	s.orders[o.ID] = &cp
	if s.byMarket[o.Market] == nil {
		s.byMarket[o.Market] = make(map[string]struct{})
	}
	s.byMarket[o.Market][o.ID] = struct{}{}
	return nil
}

func (s *MemState) UpdateOrderRemaining(id string, remaining uint128.Uint128) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return errors.Wrap(orderbook.ErrOrderNotFound, id)
	}
	o.Remaining = remaining
	return nil
}

func (s *MemState) RemoveOrder(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return errors.Wrap(orderbook.ErrOrderNotFound, id)
	}
	delete(s.orders, id)
	if ids := s.byMarket[o.Market]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.byMarket, o.Market)
		}
	}
	return nil
}

func (s *MemState) PutMarket(market string, params orderbook.MarketParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[market]; ok {
		return errors.Wrap(orderbook.ErrMarketExists, market)
	}
	s.markets[market] = params
	return nil
}

func (s *MemState) UpdateMarket(market string, params orderbook.MarketParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[market]; !ok {
		return errors.Wrap(orderbook.ErrMarketNotFound, market)
	}
	s.markets[market] = params
	return nil
}

// AccountNonce returns the next expected nonce of an account. Unknown
// accounts start at zero. The signature matches mempool.NonceOracle.
func (s *MemState) AccountNonce(_ context.Context, addr primitive.Address) (primitive.Nonce, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nonces[addr], nil
}

// SetNonce overwrites an account's next expected nonce. Block execution
// calls this after applying each transaction.
func (s *MemState) SetNonce(addr primitive.Address, nonce primitive.Nonce) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[addr] = nonce
}
