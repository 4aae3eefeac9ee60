// Package pebblestate persists the sequencer state in a pebble key/value
// store. It implements the same surface as the in-memory state, so the
// engine and the admission layer run unchanged on either.
package pebblestate

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"lukechampine.com/uint128"

	"github.com/astriaorg/astria-sub003/domain/orderbook"
	"github.com/astriaorg/astria-sub003/domain/primitive"
	"github.com/astriaorg/astria-sub003/infra/logging"
)

// Key layout:
//
//	market/<name>        -> marketRecord
//	order/<id>           -> orderRecord
//	mktord/<market>/<id> -> empty (per-market index)
//	nonce/<addr-hex>     -> uint32 big endian
const (
	marketPrefix = "market/"
	orderPrefix  = "order/"
	indexPrefix  = "mktord/"
	noncePrefix  = "nonce/"
)

type marketRecord struct {
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
	TickSize   string `json:"tick_size"`
	LotSize    string `json:"lot_size"`
	Paused     bool   `json:"paused"`
}

type orderRecord struct {
	ID          string `json:"id"`
	Market      string `json:"market"`
	Owner       string `json:"owner"`
	Side        int    `json:"side"`
	Type        int    `json:"type"`
	TimeInForce int    `json:"tif"`
	Price       string `json:"price"`
	Quantity    string `json:"quantity"`
	Remaining   string `json:"remaining"`
	CreatedAt   int64  `json:"created_at"`
}

// Store is the pebble-backed orderbook.State and nonce view. Writes are
// synced; a crash never loses an acknowledged mutation.
type Store struct {
	db  *pebble.DB
	log *logrus.Entry
}

// Open opens or creates the store at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "opening pebble state")
	}
	return &Store{db: db, log: logging.Module("pebblestate")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) MarketParams(market string) (orderbook.MarketParams, bool) {
	val, closer, err := s.db.Get([]byte(marketPrefix + market))
	if err != nil {
		if !errors.Is(err, pebble.ErrNotFound) {
			s.log.WithError(err).WithField("market", market).Error("market read failed")
		}
		return orderbook.MarketParams{}, false
	}
	defer closer.Close()

	var rec marketRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		s.log.WithError(err).WithField("market", market).Error("corrupt market record")
		return orderbook.MarketParams{}, false
	}
	params, err := rec.params()
	if err != nil {
		s.log.WithError(err).WithField("market", market).Error("corrupt market record")
		return orderbook.MarketParams{}, false
	}
	return params, true
}

func (s *Store) Markets() []string {
	var names []string
	s.scan(marketPrefix, func(key string, _ []byte) {
		names = append(names, key[len(marketPrefix):])
	})
	return names
}

func (s *Store) MarketOrders(market string) []*orderbook.Order {
	prefix := indexPrefix + market + "/"
	var out []*orderbook.Order
	s.scan(prefix, func(key string, _ []byte) {
		id := key[len(prefix):]
		if o, ok := s.Order(id); ok {
			out = append(out, o)
		}
	})
	return out
}

func (s *Store) Order(id string) (*orderbook.Order, bool) {
	val, closer, err := s.db.Get([]byte(orderPrefix + id))
	if err != nil {
		if !errors.Is(err, pebble.ErrNotFound) {
			s.log.WithError(err).WithField("order_id", id).Error("order read failed")
		}
		return nil, false
	}
	defer closer.Close()

	var rec orderRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		s.log.WithError(err).WithField("order_id", id).Error("corrupt order record")
		return nil, false
	}
	o, err := rec.order()
	if err != nil {
		s.log.WithError(err).WithField("order_id", id).Error("corrupt order record")
		return nil, false
	}
	return o, true
}

func (s *Store) PutOrder(o *orderbook.Order) error {
	raw, err := json.Marshal(newOrderRecord(o))
	if err != nil {
		return errors.Wrap(err, "encoding order")
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(orderPrefix+o.ID), raw, nil); err != nil {
		return errors.Wrap(err, "storing order")
	}
	if err := b.Set([]byte(indexPrefix+o.Market+"/"+o.ID), nil, nil); err != nil {
		return errors.Wrap(err, "indexing order")
	}
	return errors.Wrap(b.Commit(pebble.Sync), "committing order")
}

func (s *Store) UpdateOrderRemaining(id string, remaining uint128.Uint128) error {
	o, ok := s.Order(id)
	if !ok {
		return errors.Wrap(orderbook.ErrOrderNotFound, id)
	}
	o.Remaining = remaining
	raw, err := json.Marshal(newOrderRecord(o))
	if err != nil {
		return errors.Wrap(err, "encoding order")
	}
	return errors.Wrap(
		s.db.Set([]byte(orderPrefix+id), raw, pebble.Sync),
		"updating order",
	)
}

func (s *Store) RemoveOrder(id string) error {
	o, ok := s.Order(id)
	if !ok {
		return errors.Wrap(orderbook.ErrOrderNotFound, id)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete([]byte(orderPrefix+id), nil); err != nil {
		return errors.Wrap(err, "deleting order")
	}
	if err := b.Delete([]byte(indexPrefix+o.Market+"/"+id), nil); err != nil {
		return errors.Wrap(err, "deleting order index")
	}
	return errors.Wrap(b.Commit(pebble.Sync), "committing order removal")
}

func (s *Store) PutMarket(market string, params orderbook.MarketParams) error {
	if _, ok := s.MarketParams(market); ok {
		return errors.Wrap(orderbook.ErrMarketExists, market)
	}
	return s.writeMarket(market, params)
}

func (s *Store) UpdateMarket(market string, params orderbook.MarketParams) error {
	if _, ok := s.MarketParams(market); !ok {
		return errors.Wrap(orderbook.ErrMarketNotFound, market)
	}
	return s.writeMarket(market, params)
}

func (s *Store) writeMarket(market string, params orderbook.MarketParams) error {
	raw, err := json.Marshal(marketRecord{
		BaseAsset:  params.BaseAsset,
		QuoteAsset: params.QuoteAsset,
		TickSize:   params.TickSize.String(),
		LotSize:    params.LotSize.String(),
		Paused:     params.Paused,
	})
	if err != nil {
		return errors.Wrap(err, "encoding market params")
	}
	return errors.Wrap(
		s.db.Set([]byte(marketPrefix+market), raw, pebble.Sync),
		"storing market params",
	)
}

// AccountNonce returns the next expected nonce of an account. Unknown
// accounts start at zero. The signature matches mempool.NonceOracle.
func (s *Store) AccountNonce(_ context.Context, addr primitive.Address) (primitive.Nonce, error) {
	val, closer, err := s.db.Get([]byte(noncePrefix + addr.String()))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "reading account nonce")
	}
	defer closer.Close()
	if len(val) != 4 {
		return 0, errors.Errorf("invalid nonce record length %d", len(val))
	}
	return binary.BigEndian.Uint32(val), nil
}

// SetNonce overwrites an account's next expected nonce.
func (s *Store) SetNonce(addr primitive.Address, nonce primitive.Nonce) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, nonce)
	return errors.Wrap(
		s.db.Set([]byte(noncePrefix+addr.String()), buf, pebble.Sync),
		"storing account nonce",
	)
}

func (s *Store) scan(prefix string, fn func(key string, val []byte)) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "~"),
	})
	if err != nil {
		s.log.WithError(err).WithField("prefix", prefix).Error("state scan failed")
		return
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		fn(string(iter.Key()), iter.Value())
	}
	if err := iter.Error(); err != nil {
		s.log.WithError(err).WithField("prefix", prefix).Error("state scan failed")
	}
}

func newOrderRecord(o *orderbook.Order) orderRecord {
	return orderRecord{
		ID:          o.ID,
		Market:      o.Market,
		Owner:       o.Owner.String(),
		Side:        int(o.Side),
		Type:        int(o.Type),
		TimeInForce: int(o.TimeInForce),
		Price:       o.Price.String(),
		Quantity:    o.Quantity.String(),
		Remaining:   o.Remaining.String(),
		CreatedAt:   o.CreatedAt.UnixNano(),
	}
}

func (r orderRecord) order() (*orderbook.Order, error) {
	owner, err := primitive.AddressFromHex(r.Owner)
	if err != nil {
		return nil, errors.Wrap(err, "decoding owner address")
	}
	price, err := uint128.FromString(r.Price)
	if err != nil {
		return nil, errors.Wrap(err, "decoding price")
	}
	qty, err := uint128.FromString(r.Quantity)
	if err != nil {
		return nil, errors.Wrap(err, "decoding quantity")
	}
	rem, err := uint128.FromString(r.Remaining)
	if err != nil {
		return nil, errors.Wrap(err, "decoding remaining")
	}
	return &orderbook.Order{
		ID:          r.ID,
		Market:      r.Market,
		Owner:       owner,
		Side:        orderbook.Side(r.Side),
		Type:        orderbook.OrderType(r.Type),
		TimeInForce: orderbook.TimeInForce(r.TimeInForce),
		Price:       price,
		Quantity:    qty,
		Remaining:   rem,
		CreatedAt:   time.Unix(0, r.CreatedAt),
	}, nil
}

func (r marketRecord) params() (orderbook.MarketParams, error) {
	tick, err := uint128.FromString(r.TickSize)
	if err != nil {
		return orderbook.MarketParams{}, errors.Wrap(err, "decoding tick size")
	}
	lot, err := uint128.FromString(r.LotSize)
	if err != nil {
		return orderbook.MarketParams{}, errors.Wrap(err, "decoding lot size")
	}
	return orderbook.MarketParams{
		BaseAsset:  r.BaseAsset,
		QuoteAsset: r.QuoteAsset,
		TickSize:   tick,
		LotSize:    lot,
		Paused:     r.Paused,
	}, nil
}
