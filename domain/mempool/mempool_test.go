package mempool

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/astriaorg/astria-sub003/domain/primitive"
	"github.com/astriaorg/astria-sub003/domain/transaction"
)

type testEnv struct {
	pool   *Mempool
	clock  *clock.Mock
	nonces map[primitive.Address]primitive.Nonce
	fail   map[primitive.Address]bool
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	mock := clock.NewMock()
	opts.Clock = mock
	return &testEnv{
		pool:   New(opts),
		clock:  mock,
		nonces: make(map[primitive.Address]primitive.Nonce),
		fail:   make(map[primitive.Address]bool),
	}
}

func (e *testEnv) oracle(_ context.Context, addr primitive.Address) (primitive.Nonce, error) {
	if e.fail[addr] {
		return 0, errors.New("oracle unavailable")
	}
	return e.nonces[addr], nil
}

func addrTx(addr primitive.Address, nonce primitive.Nonce, payload string) *transaction.Transaction {
	return transaction.New(addr, nonce, "test-chain", nil, nil, []byte(payload))
}

func TestAddRoutesByContiguity(t *testing.T) {
	env := newTestEnv(t, Options{})

	dest, err := env.pool.Add(addrTx(testAddr, 0, "a"), 0)
	require.NoError(t, err)
	require.Equal(t, DestPending, dest)

	dest, err = env.pool.Add(addrTx(testAddr, 1, "b"), 0)
	require.NoError(t, err)
	require.Equal(t, DestPending, dest)

	// Nonce 5 leaves a gap behind nonce 2 and parks.
	dest, err = env.pool.Add(addrTx(testAddr, 5, "c"), 0)
	require.NoError(t, err)
	require.Equal(t, DestParked, dest)

	require.Equal(t, 3, env.pool.Len())
}

func TestAddSameHashTwiceRejected(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.pool.Add(addrTx(testAddr, 0, "a"), 0)
	require.NoError(t, err)
	_, err = env.pool.Add(addrTx(testAddr, 0, "a"), 0)
	require.ErrorIs(t, err, ErrAlreadyPresent)
}

func TestAddNoReplacement(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.pool.Add(addrTx(testAddr, 0, "a"), 0)
	require.NoError(t, err)
	_, err = env.pool.Add(addrTx(testAddr, 0, "other"), 0)
	require.ErrorIs(t, err, ErrNonceTaken)
}

func TestParkedPerAccountLimit(t *testing.T) {
	env := newTestEnv(t, Options{ParkedPerAccount: 2})

	// All gapped, so all parked.
	_, err := env.pool.Add(addrTx(testAddr, 5, "a"), 0)
	require.NoError(t, err)
	_, err = env.pool.Add(addrTx(testAddr, 6, "b"), 0)
	require.NoError(t, err)
	_, err = env.pool.Add(addrTx(testAddr, 7, "c"), 0)
	require.ErrorIs(t, err, ErrAccountSizeLimit)

	// The pending pool is unbounded.
	for n := primitive.Nonce(0); n < 50; n++ {
		_, err := env.pool.Add(addrTx(testAddr, n, string(rune(n))), 0)
		require.NoError(t, err)
	}
}

func TestRemoveCascadesAndRecordsReasons(t *testing.T) {
	env := newTestEnv(t, Options{})
	for n := primitive.Nonce(0); n < 4; n++ {
		_, err := env.pool.Add(addrTx(testAddr, n, string(rune('a'+n))), 0)
		require.NoError(t, err)
	}

	hashes, found := env.pool.Remove(addrTx(testAddr, 1, "b"), RemovalIncludedInBlock)
	require.True(t, found)
	require.Len(t, hashes, 3)
	require.Equal(t, 1, env.pool.Len())

	reason, ok := env.pool.CheckRemoved(hashes[0])
	require.True(t, ok)
	require.Equal(t, RemovalIncludedInBlock, reason)

	reason, ok = env.pool.CheckRemoved(hashes[1])
	require.True(t, ok)
	require.Equal(t, RemovalLowerNonceInvalidated, reason)

	// The cached reason is consumed by the read.
	_, ok = env.pool.CheckRemoved(hashes[0])
	require.False(t, ok)
}

func TestGapCloseTriggersImmediatePromotion(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.pool.Add(addrTx(testAddr, 0, "a"), 0)
	require.NoError(t, err)
	_, err = env.pool.Add(addrTx(testAddr, 1, "b"), 0)
	require.NoError(t, err)

	dest, err := env.pool.Add(addrTx(testAddr, 3, "d"), 0)
	require.NoError(t, err)
	require.Equal(t, DestParked, dest)

	// Filling the gap at 2 promotes the parked run right away.
	dest, err = env.pool.Add(addrTx(testAddr, 2, "c"), 0)
	require.NoError(t, err)
	require.Equal(t, DestPending, dest)

	nonce, ok := env.pool.PendingNonce(testAddr)
	require.True(t, ok)
	require.Equal(t, primitive.Nonce(3), nonce)

	// Nonce 3 is now occupied in pending, so a second transaction at the
	// same nonce cannot slip in through the closed gap.
	_, err = env.pool.Add(addrTx(testAddr, 3, "other"), 0)
	require.ErrorIs(t, err, ErrNonceTaken)
	require.Equal(t, 4, env.pool.Len())

	// The sweep finds nothing left to promote.
	require.Empty(t, env.pool.PromoteParked(context.Background(), env.oracle))
}

func TestRemoveFromPendingClearsParked(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.pool.Add(addrTx(testAddr, 0, "a"), 0)
	require.NoError(t, err)
	_, err = env.pool.Add(addrTx(testAddr, 1, "b"), 0)
	require.NoError(t, err)
	parked := addrTx(testAddr, 5, "f")
	dest, err := env.pool.Add(parked, 0)
	require.NoError(t, err)
	require.Equal(t, DestParked, dest)

	// Removing from pending takes the account's parked transactions with
	// it: they depended on the removed run executing.
	hashes, found := env.pool.Remove(addrTx(testAddr, 0, "a"), RemovalFailedExecution)
	require.True(t, found)
	require.Len(t, hashes, 3)
	require.Equal(t, 0, env.pool.Len())

	reason, ok := env.pool.CheckRemoved(parked.Hash())
	require.True(t, ok)
	require.Equal(t, RemovalLowerNonceInvalidated, reason)
}

func TestRemoveUntrackedReportsNotFound(t *testing.T) {
	env := newTestEnv(t, Options{})
	hashes, found := env.pool.Remove(addrTx(testAddr, 9, "x"), RemovalFailedExecution)
	require.False(t, found)
	require.Empty(t, hashes)
}

func TestTTLExpiryEvictsWholeAccount(t *testing.T) {
	env := newTestEnv(t, Options{TxTTL: time.Minute})
	for n := primitive.Nonce(0); n < 3; n++ {
		_, err := env.pool.Add(addrTx(testAddr, n, string(rune('a'+n))), 0)
		require.NoError(t, err)
	}

	env.clock.Add(time.Minute + time.Second)
	removals := env.pool.CleanAccounts(context.Background(), env.oracle)
	require.Len(t, removals, 3)
	require.Equal(t, RemovalExpired, removals[0].Reason)
	require.Equal(t, RemovalLowerNonceInvalidated, removals[1].Reason)
	require.Equal(t, RemovalLowerNonceInvalidated, removals[2].Reason)
	require.Zero(t, env.pool.Len())
}

func TestCleanAccountsDropsStaleNonces(t *testing.T) {
	env := newTestEnv(t, Options{})
	for n := primitive.Nonce(0); n < 4; n++ {
		_, err := env.pool.Add(addrTx(testAddr, n, string(rune('a'+n))), 0)
		require.NoError(t, err)
	}

	// The chain advanced past nonces 0 and 1.
	env.nonces[testAddr] = 2
	removals := env.pool.CleanAccounts(context.Background(), env.oracle)
	require.Len(t, removals, 2)
	for _, r := range removals {
		require.Equal(t, RemovalNonceStale, r.Reason)
	}
	require.Equal(t, 2, env.pool.Len())
}

func TestCleanAccountsSkipsFailingOracle(t *testing.T) {
	env := newTestEnv(t, Options{})
	_, err := env.pool.Add(addrTx(testAddr, 0, "a"), 0)
	require.NoError(t, err)

	env.nonces[testAddr] = 5
	env.fail[testAddr] = true
	require.Empty(t, env.pool.CleanAccounts(context.Background(), env.oracle))
	require.Equal(t, 1, env.pool.Len())
}

func TestPromoteParkedWhenGapCloses(t *testing.T) {
	env := newTestEnv(t, Options{})

	// Nonces 2 and 3 park behind the gap at 0..1.
	_, err := env.pool.Add(addrTx(testAddr, 2, "c"), 0)
	require.NoError(t, err)
	_, err = env.pool.Add(addrTx(testAddr, 3, "d"), 0)
	require.NoError(t, err)

	// Nothing to promote while the chain is still at nonce 0.
	require.Empty(t, env.pool.PromoteParked(context.Background(), env.oracle))

	// The chain executed nonces 0 and 1 elsewhere.
	env.nonces[testAddr] = 2
	promoted := env.pool.PromoteParked(context.Background(), env.oracle)
	require.Len(t, promoted, 2)
	require.Equal(t, primitive.Nonce(2), promoted[0].Ttx.Nonce())
	require.Equal(t, primitive.Nonce(2), promoted[0].Nonce)

	nonce, ok := env.pool.PendingNonce(testAddr)
	require.True(t, ok)
	require.Equal(t, primitive.Nonce(3), nonce)
}

func TestPromotePreservesFirstSeen(t *testing.T) {
	env := newTestEnv(t, Options{TxTTL: time.Minute})

	_, err := env.pool.Add(addrTx(testAddr, 2, "c"), 0)
	require.NoError(t, err)

	// Half the TTL passes before promotion; the timestamp must carry over
	// so expiry still triggers at the original deadline.
	env.clock.Add(40 * time.Second)
	env.nonces[testAddr] = 2
	require.Len(t, env.pool.PromoteParked(context.Background(), env.oracle), 1)

	env.clock.Add(30 * time.Second)
	removals := env.pool.CleanAccounts(context.Background(), env.oracle)
	require.Len(t, removals, 1)
	require.Equal(t, RemovalExpired, removals[0].Reason)
}

func TestBuilderQueueOrdering(t *testing.T) {
	env := newTestEnv(t, Options{})
	other := primitive.Address{0x02}

	// testAddr submits nonces 0..2, then other submits nonce 0.
	for n := primitive.Nonce(0); n < 3; n++ {
		_, err := env.pool.Add(addrTx(testAddr, n, string(rune('a'+n))), 0)
		require.NoError(t, err)
		env.clock.Add(time.Second)
	}
	_, err := env.pool.Add(addrTx(other, 0, "z"), 0)
	require.NoError(t, err)

	queue := env.pool.BuilderQueue(context.Background(), env.oracle)
	require.Len(t, queue, 4)

	// Smallest nonce difference first; the earlier-seen of the two
	// zero-difference transactions wins the tie.
	require.Equal(t, addrTx(testAddr, 0, "a").Hash(), queue[0].Hash)
	require.Equal(t, addrTx(other, 0, "z").Hash(), queue[1].Hash)
	require.Equal(t, addrTx(testAddr, 1, "b").Hash(), queue[2].Hash)
	require.Equal(t, addrTx(testAddr, 2, "c").Hash(), queue[3].Hash)

	// The snapshot does not mutate the pool.
	require.Equal(t, 4, env.pool.Len())
}

func TestClearAccount(t *testing.T) {
	env := newTestEnv(t, Options{})
	_, err := env.pool.Add(addrTx(testAddr, 0, "a"), 0)
	require.NoError(t, err)
	_, err = env.pool.Add(addrTx(testAddr, 5, "b"), 0)
	require.NoError(t, err)

	hashes := env.pool.ClearAccount(testAddr)
	require.Len(t, hashes, 2)
	require.Zero(t, env.pool.Len())
}

func TestIsTracked(t *testing.T) {
	env := newTestEnv(t, Options{})
	tx := addrTx(testAddr, 0, "a")

	require.False(t, env.pool.IsTracked(tx.Hash()))
	_, err := env.pool.Add(tx, 0)
	require.NoError(t, err)
	require.True(t, env.pool.IsTracked(tx.Hash()))
}
