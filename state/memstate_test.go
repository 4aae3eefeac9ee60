package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"github.com/astriaorg/astria-sub003/domain/orderbook"
	"github.com/astriaorg/astria-sub003/domain/primitive"
)

func testOrder(id, market string) *orderbook.Order {
	return &orderbook.Order{
		ID:        id,
		Market:    market,
		Owner:     primitive.Address{0x01},
		Side:      orderbook.Buy,
		Price:     uint128.From64(100),
		Quantity:  uint128.From64(5),
		Remaining: uint128.From64(5),
		CreatedAt: time.Unix(1700000000, 0),
	}
}

func TestOrderLifecycle(t *testing.T) {
	st := NewMemState()

	require.NoError(t, st.PutOrder(testOrder("o1", "A/B")))
	require.Error(t, st.PutOrder(testOrder("o1", "A/B")))

	got, ok := st.Order("o1")
	require.True(t, ok)
	require.Equal(t, uint128.From64(5), got.Remaining)

	require.NoError(t, st.UpdateOrderRemaining("o1", uint128.From64(2)))
	got, _ = st.Order("o1")
	require.Equal(t, uint128.From64(2), got.Remaining)

	require.NoError(t, st.RemoveOrder("o1"))
	_, ok = st.Order("o1")
	require.False(t, ok)
	require.ErrorIs(t, st.RemoveOrder("o1"), orderbook.ErrOrderNotFound)
}

func TestReturnedOrdersAreCopies(t *testing.T) {
	st := NewMemState()
	require.NoError(t, st.PutOrder(testOrder("o1", "A/B")))

	got, _ := st.Order("o1")
	got.Remaining = uint128.Zero

	fresh, _ := st.Order("o1")
	require.Equal(t, uint128.From64(5), fresh.Remaining)
}

func TestMarketOrdersIndex(t *testing.T) {
	st := NewMemState()
	require.NoError(t, st.PutOrder(testOrder("o1", "A/B")))
	require.NoError(t, st.PutOrder(testOrder("o2", "A/B")))
	require.NoError(t, st.PutOrder(testOrder("o3", "C/D")))

	require.Len(t, st.MarketOrders("A/B"), 2)
	require.Len(t, st.MarketOrders("C/D"), 1)
	require.Empty(t, st.MarketOrders("E/F"))

	require.NoError(t, st.RemoveOrder("o3"))
	require.Empty(t, st.MarketOrders("C/D"))
}

func TestMarketRegistry(t *testing.T) {
	st := NewMemState()
	params := orderbook.MarketParams{BaseAsset: "A", QuoteAsset: "B"}

	require.NoError(t, st.PutMarket("A/B", params))
	require.ErrorIs(t, st.PutMarket("A/B", params), orderbook.ErrMarketExists)
	require.ErrorIs(t, st.UpdateMarket("X/Y", params), orderbook.ErrMarketNotFound)

	params.Paused = true
	require.NoError(t, st.UpdateMarket("A/B", params))
	got, ok := st.MarketParams("A/B")
	require.True(t, ok)
	require.True(t, got.Paused)

	require.Equal(t, []string{"A/B"}, st.Markets())
}

func TestAccountNonce(t *testing.T) {
	st := NewMemState()
	addr := primitive.Address{0x07}

	nonce, err := st.AccountNonce(context.Background(), addr)
	require.NoError(t, err)
	require.Zero(t, nonce)

	st.SetNonce(addr, 9)
	nonce, err = st.AccountNonce(context.Background(), addr)
	require.NoError(t, err)
	require.Equal(t, primitive.Nonce(9), nonce)
}
