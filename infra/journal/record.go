package journal

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"lukechampine.com/uint128"

	"github.com/astriaorg/astria-sub003/domain/orderbook"
)

// Record is one framed journal entry: a match event plus the sequence
// number the journal assigned to it.
type Record struct {
	Seq  uint64
	Time int64
	Data []byte
}

type matchRecord struct {
	ID           string `json:"id"`
	Market       string `json:"market"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	MakerOrderID string `json:"maker_order_id"`
	TakerOrderID string `json:"taker_order_id"`
	TakerSide    int    `json:"taker_side"`
	Time         int64  `json:"time"`
}

// EncodeMatch serializes a match event into a journal payload.
func EncodeMatch(ev orderbook.MatchEvent) ([]byte, error) {
	raw, err := json.Marshal(matchRecord{
		ID:           ev.ID,
		Market:       ev.Market,
		Price:        ev.Price.String(),
		Quantity:     ev.Quantity.String(),
		MakerOrderID: ev.MakerOrderID,
		TakerOrderID: ev.TakerOrderID,
		TakerSide:    int(ev.TakerSide),
		Time:         ev.Time.UnixNano(),
	})
	return raw, errors.Wrap(err, "encoding match event")
}

// DecodeMatch deserializes a journal payload back into a match event.
func DecodeMatch(data []byte) (orderbook.MatchEvent, error) {
	var rec matchRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return orderbook.MatchEvent{}, errors.Wrap(err, "decoding match event")
	}
	price, err := uint128.FromString(rec.Price)
	if err != nil {
		return orderbook.MatchEvent{}, errors.Wrap(err, "decoding match price")
	}
	qty, err := uint128.FromString(rec.Quantity)
	if err != nil {
		return orderbook.MatchEvent{}, errors.Wrap(err, "decoding match quantity")
	}
	return orderbook.MatchEvent{
		ID:           rec.ID,
		Market:       rec.Market,
		Price:        price,
		Quantity:     qty,
		MakerOrderID: rec.MakerOrderID,
		TakerOrderID: rec.TakerOrderID,
		TakerSide:    orderbook.Side(rec.TakerSide),
		Time:         time.Unix(0, rec.Time),
	}, nil
}
