package service

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"github.com/astriaorg/astria-sub003/domain/mempool"
	"github.com/astriaorg/astria-sub003/domain/orderbook"
	"github.com/astriaorg/astria-sub003/domain/primitive"
	"github.com/astriaorg/astria-sub003/domain/transaction"
	"github.com/astriaorg/astria-sub003/state"
)

const testChainID = "test-chain"

var (
	alice = primitive.Address{0x0a}
	bob   = primitive.Address{0x0b}
)

type fakeJournal struct {
	nextSeq uint64
	events  []orderbook.MatchEvent
}

func (j *fakeJournal) Append(ev orderbook.MatchEvent) (uint64, error) {
	j.nextSeq++
	j.events = append(j.events, ev)
	return j.nextSeq, nil
}

type fakeOutbox struct {
	entries map[uint64][]byte
	acked   map[uint64]bool
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{entries: make(map[uint64][]byte), acked: make(map[uint64]bool)}
}

func (o *fakeOutbox) PutNew(seq uint64, payload []byte) error {
	o.entries[seq] = payload
	return nil
}

func (o *fakeOutbox) MarkAcked(seq uint64) error {
	o.acked[seq] = true
	return nil
}

func (o *fakeOutbox) Delete(seq uint64) error {
	delete(o.entries, seq)
	return nil
}

type fakePublisher struct {
	published int
	fail      bool
}

func (p *fakePublisher) Publish(context.Context, string, uint64, []byte) error {
	if p.fail {
		return errors.New("broker unreachable")
	}
	p.published++
	return nil
}

type admissionEnv struct {
	svc       *Admission
	state     *state.MemState
	pool      *mempool.Mempool
	journal   *fakeJournal
	outbox    *fakeOutbox
	publisher *fakePublisher
	clock     *clock.Mock
	payloadID int
}

func newAdmissionEnv(t *testing.T, verify VerifyFunc) *admissionEnv {
	t.Helper()
	mock := clock.NewMock()
	st := state.NewMemState()
	pool := mempool.New(mempool.Options{Clock: mock})
	env := &admissionEnv{
		state:     st,
		pool:      pool,
		journal:   &fakeJournal{},
		outbox:    newFakeOutbox(),
		publisher: &fakePublisher{},
		clock:     mock,
	}
	env.svc = New(Config{
		ChainID:   testChainID,
		Verify:    verify,
		Pool:      pool,
		Engine:    orderbook.NewMatchingEngine(mock),
		State:     st,
		Oracle:    st.AccountNonce,
		Journal:   env.journal,
		Outbox:    env.outbox,
		Publisher: env.publisher,
		Clock:     mock,
	})
	require.NoError(t, st.PutMarket("BASE/QUOTE", orderbook.MarketParams{
		BaseAsset:  "BASE",
		QuoteAsset: "QUOTE",
		TickSize:   uint128.From64(1),
		LotSize:    uint128.From64(1),
	}))
	return env
}

func (e *admissionEnv) tx(addr primitive.Address, nonce primitive.Nonce, actions ...transaction.Action) *transaction.Transaction {
	e.payloadID++
	payload := []byte{byte(e.payloadID), byte(e.payloadID >> 8)}
	return transaction.New(addr, nonce, testChainID, nil, actions, payload)
}

func orderAction(side orderbook.Side, tif orderbook.TimeInForce, price, qty uint64) orderbook.CreateOrderAction {
	return orderbook.CreateOrderAction{
		Market:      "BASE/QUOTE",
		Side:        side,
		Type:        orderbook.Limit,
		TimeInForce: tif,
		Price:       uint128.From64(price),
		Quantity:    uint128.From64(qty),
	}
}

func TestSubmitRejectsWrongChainID(t *testing.T) {
	env := newAdmissionEnv(t, nil)

	tx := transaction.New(alice, 0, "other-chain", nil, nil, []byte("p"))
	_, err := env.svc.SubmitTransaction(context.Background(), tx)
	require.ErrorIs(t, err, ErrChainIDMismatch)
}

func TestSubmitRunsVerify(t *testing.T) {
	verifyErr := errors.New("bad signature")
	env := newAdmissionEnv(t, func(*transaction.Transaction) error { return verifyErr })

	_, err := env.svc.SubmitTransaction(context.Background(), env.tx(alice, 0))
	require.ErrorIs(t, err, verifyErr)
	require.Zero(t, env.pool.Len())
}

func TestSubmitTransferOnlyAdmits(t *testing.T) {
	env := newAdmissionEnv(t, nil)

	res, err := env.svc.SubmitTransaction(context.Background(), env.tx(alice, 0, transaction.Transfer{
		To:     bob,
		Asset:  "BASE",
		Amount: "10",
	}))
	require.NoError(t, err)
	require.Equal(t, mempool.DestPending, res.Destination)
	require.Empty(t, res.Matches)
	require.Equal(t, 1, env.pool.Len())
}

func TestSubmitGappedNonceParksWithoutExecuting(t *testing.T) {
	env := newAdmissionEnv(t, nil)

	res, err := env.svc.SubmitTransaction(context.Background(), env.tx(alice, 5, orderAction(orderbook.Buy, orderbook.GTC, 100, 5)))
	require.NoError(t, err)
	require.Equal(t, mempool.DestParked, res.Destination)

	// The parked order never reached the engine.
	require.Empty(t, res.OrderIDs)
	require.Empty(t, env.state.MarketOrders("BASE/QUOTE"))
}

func TestSubmitMatchingOrdersPublishes(t *testing.T) {
	env := newAdmissionEnv(t, nil)

	res, err := env.svc.SubmitTransaction(context.Background(), env.tx(alice, 0, orderAction(orderbook.Sell, orderbook.GTC, 100, 5)))
	require.NoError(t, err)
	require.Len(t, res.OrderIDs, 1)
	require.Empty(t, res.Matches)

	res, err = env.svc.SubmitTransaction(context.Background(), env.tx(bob, 0, orderAction(orderbook.Buy, orderbook.GTC, 100, 5)))
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	require.Equal(t, uint128.From64(100), res.Matches[0].Price)

	// The match went through the journal, was fast-path published, and the
	// outbox entry was retired on ack.
	require.Len(t, env.journal.events, 1)
	require.Equal(t, 1, env.publisher.published)
	require.Empty(t, env.outbox.entries)
	require.True(t, env.outbox.acked[1])
}

func TestFastPathPublishFailureLeavesOutboxEntry(t *testing.T) {
	env := newAdmissionEnv(t, nil)
	env.publisher.fail = true

	_, err := env.svc.SubmitTransaction(context.Background(), env.tx(alice, 0, orderAction(orderbook.Sell, orderbook.GTC, 100, 5)))
	require.NoError(t, err)
	res, err := env.svc.SubmitTransaction(context.Background(), env.tx(bob, 0, orderAction(orderbook.Buy, orderbook.GTC, 100, 5)))
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)

	// Admission still succeeds; the broadcaster owns redelivery.
	require.Len(t, env.outbox.entries, 1)
	require.False(t, env.outbox.acked[1])
}

func TestSubmitToPausedMarketEvicts(t *testing.T) {
	env := newAdmissionEnv(t, nil)
	params, _ := env.state.MarketParams("BASE/QUOTE")
	params.Paused = true
	require.NoError(t, env.state.UpdateMarket("BASE/QUOTE", params))

	tx := env.tx(alice, 0, orderAction(orderbook.Buy, orderbook.GTC, 100, 5))
	_, err := env.svc.SubmitTransaction(context.Background(), tx)
	require.ErrorIs(t, err, orderbook.ErrMarketPaused)

	// The failed transaction was evicted again with a recorded reason.
	require.Zero(t, env.pool.Len())
	reason, ok := env.pool.CheckRemoved(tx.Hash())
	require.True(t, ok)
	require.Equal(t, mempool.RemovalFailedExecution, reason)
}

func TestMarketLifecycleThroughTransactions(t *testing.T) {
	env := newAdmissionEnv(t, nil)

	params := orderbook.MarketParams{
		BaseAsset:  "NEW",
		QuoteAsset: "QUOTE",
		TickSize:   uint128.From64(1),
		LotSize:    uint128.From64(1),
	}
	_, err := env.svc.SubmitTransaction(context.Background(), env.tx(alice, 0, orderbook.CreateMarketAction{
		Market: "NEW/QUOTE",
		Params: params,
	}))
	require.NoError(t, err)

	_, ok := env.state.MarketParams("NEW/QUOTE")
	require.True(t, ok)

	params.Paused = true
	_, err = env.svc.SubmitTransaction(context.Background(), env.tx(alice, 1, orderbook.UpdateMarketAction{
		Market: "NEW/QUOTE",
		Params: params,
	}))
	require.NoError(t, err)

	got, _ := env.state.MarketParams("NEW/QUOTE")
	require.True(t, got.Paused)
}

func TestCancelOrderThroughTransaction(t *testing.T) {
	env := newAdmissionEnv(t, nil)

	res, err := env.svc.SubmitTransaction(context.Background(), env.tx(alice, 0, orderAction(orderbook.Sell, orderbook.GTC, 100, 5)))
	require.NoError(t, err)
	orderID := res.OrderIDs[0]

	// Bob cannot cancel Alice's order.
	_, err = env.svc.SubmitTransaction(context.Background(), env.tx(bob, 0, orderbook.CancelOrderAction{OrderID: orderID}))
	require.ErrorIs(t, err, orderbook.ErrNotOrderOwner)

	_, err = env.svc.SubmitTransaction(context.Background(), env.tx(alice, 1, orderbook.CancelOrderAction{OrderID: orderID}))
	require.NoError(t, err)
	_, ok := env.state.Order(orderID)
	require.False(t, ok)
}

func TestMarkIncludedAdvancesAccount(t *testing.T) {
	env := newAdmissionEnv(t, nil)

	tx0 := env.tx(alice, 0, transaction.Transfer{To: bob, Asset: "BASE", Amount: "1"})
	_, err := env.svc.SubmitTransaction(context.Background(), tx0)
	require.NoError(t, err)

	hashes := env.svc.MarkIncluded(tx0)
	require.Len(t, hashes, 1)
	require.Zero(t, env.pool.Len())

	// With the chain nonce advanced, the next nonce admits to pending.
	env.state.SetNonce(alice, 1)
	res, err := env.svc.SubmitTransaction(context.Background(), env.tx(alice, 1))
	require.NoError(t, err)
	require.Equal(t, mempool.DestPending, res.Destination)
}

func TestBuilderQueueExposed(t *testing.T) {
	env := newAdmissionEnv(t, nil)

	tx0 := env.tx(alice, 0)
	_, err := env.svc.SubmitTransaction(context.Background(), tx0)
	require.NoError(t, err)

	queue := env.svc.BuilderQueue(context.Background())
	require.Len(t, queue, 1)
	require.Equal(t, tx0.Hash(), queue[0].Hash)
}
