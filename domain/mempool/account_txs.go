package mempool

import (
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"

	"github.com/astriaorg/astria-sub003/domain/primitive"
)

// accountTxs tracks the transactions of a single account, ordered by nonce.
//
// Two policies exist. The sequential policy (pending pool) accepts a nonce
// only when it equals the current account nonce or directly follows an
// already tracked nonce, and has no size bound. The gapped policy (parked
// pool) accepts any nonce at or above the current account nonce, up to
// maxSize entries. Neither policy allows nonce replacement.
type accountTxs struct {
	txs        *treemap.Map // primitive.Nonce -> *TimestampedTx
	sequential bool
	maxSize    int // 0 means unbounded; only set for the gapped policy
}

func newAccountTxs(sequential bool, maxSize int) *accountTxs {
	return &accountTxs{
		txs:        treemap.NewWith(utils.UInt32Comparator),
		sequential: sequential,
		maxSize:    maxSize,
	}
}

// add inserts ttx keyed by its nonce. Failures are evaluated in a fixed
// order: size limit, nonce too low, duplicate hash, occupied slot, gap.
func (a *accountTxs) add(ttx *TimestampedTx, currentAccountNonce primitive.Nonce) error {
	if a.maxSize > 0 && a.txs.Size() >= a.maxSize {
		return ErrAccountSizeLimit
	}
	if ttx.Nonce() < currentAccountNonce {
		return ErrNonceTooLow
	}
	if existing, found := a.txs.Get(ttx.Nonce()); found {
		if existing.(*TimestampedTx).Hash() == ttx.Hash() {
			return ErrAlreadyPresent
		}
		return ErrNonceTaken
	}
	if a.sequential && ttx.Nonce() != currentAccountNonce {
		if _, found := a.txs.Get(ttx.Nonce() - 1); !found {
			return ErrNonceGap
		}
	}
	a.txs.Put(ttx.Nonce(), ttx)
	return nil
}

// remove drops the entry at nonce and every entry with a strictly higher
// nonce, returning the removed transactions in ascending nonce order. Later
// transactions of the account depended on the removed nonce executing, so
// they cannot be kept. Returns nil if nonce is not tracked.
func (a *accountTxs) remove(nonce primitive.Nonce) []*TimestampedTx {
	if _, found := a.txs.Get(nonce); !found {
		return nil
	}
	var removed []*TimestampedTx
	for _, key := range a.txs.Keys() {
		n := key.(primitive.Nonce)
		if n < nonce {
			continue
		}
		value, _ := a.txs.Get(n)
		removed = append(removed, value.(*TimestampedTx))
		a.txs.Remove(n)
	}
	return removed
}

// front returns the lowest-nonce transaction.
func (a *accountTxs) front() (*TimestampedTx, bool) {
	_, value := a.txs.Min()
	if value == nil {
		return nil, false
	}
	return value.(*TimestampedTx), true
}

// popFront removes and returns the lowest-nonce transaction.
func (a *accountTxs) popFront() (*TimestampedTx, bool) {
	key, value := a.txs.Min()
	if value == nil {
		return nil, false
	}
	a.txs.Remove(key)
	return value.(*TimestampedTx), true
}

// popAll removes and returns every transaction in ascending nonce order.
func (a *accountTxs) popAll() []*TimestampedTx {
	values := a.txs.Values()
	out := make([]*TimestampedTx, 0, len(values))
	for _, v := range values {
		out = append(out, v.(*TimestampedTx))
	}
	a.txs.Clear()
	return out
}

// popFrontContiguous pops the run of transactions starting at targetNonce
// whose nonces are consecutive. If the lowest tracked nonce is not
// targetNonce, nothing is popped.
func (a *accountTxs) popFrontContiguous(targetNonce primitive.Nonce) []*TimestampedTx {
	var popped []*TimestampedTx
	for {
		key, value := a.txs.Min()
		if value == nil || key.(primitive.Nonce) != targetNonce {
			break
		}
		a.txs.Remove(key)
		popped = append(popped, value.(*TimestampedTx))
		targetNonce++
	}
	return popped
}

// registerLatestNonce removes every transaction with a nonce below the
// latest on-chain account nonce, returning the removed entries.
func (a *accountTxs) registerLatestNonce(latest primitive.Nonce) []*TimestampedTx {
	var removed []*TimestampedTx
	for {
		key, value := a.txs.Min()
		if value == nil || key.(primitive.Nonce) >= latest {
			break
		}
		a.txs.Remove(key)
		removed = append(removed, value.(*TimestampedTx))
	}
	return removed
}

// highestNonce returns the highest tracked nonce.
func (a *accountTxs) highestNonce() (primitive.Nonce, bool) {
	key, _ := a.txs.Max()
	if key == nil {
		return 0, false
	}
	return key.(primitive.Nonce), true
}

// all returns every tracked transaction in ascending nonce order without
// mutating the container.
func (a *accountTxs) all() []*TimestampedTx {
	values := a.txs.Values()
	out := make([]*TimestampedTx, 0, len(values))
	for _, v := range values {
		out = append(out, v.(*TimestampedTx))
	}
	return out
}

func (a *accountTxs) size() int {
	return a.txs.Size()
}
