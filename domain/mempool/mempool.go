// Package mempool implements the two-tier account/nonce mempool of the
// sequencer: a pending pool of execution-ready transactions with contiguous
// nonces, and a parked pool that buffers gapped nonces per account until the
// chain catches up.
package mempool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/astriaorg/astria-sub003/domain/primitive"
	"github.com/astriaorg/astria-sub003/domain/transaction"
	"github.com/astriaorg/astria-sub003/infra/logging"
)

// DefaultParkedPerAccount is the parked pool's per-account transaction cap.
const DefaultParkedPerAccount = 15

const removalCacheSize = 4096

// NonceOracle reports the latest on-chain nonce for an account. It may block
// on state access, hence the context.
type NonceOracle func(ctx context.Context, addr primitive.Address) (primitive.Nonce, error)

// Destination names the pool a transaction was admitted into.
type Destination int

const (
	DestPending Destination = iota
	DestParked
)

func (d Destination) String() string {
	if d == DestParked {
		return "parked"
	}
	return "pending"
}

// Removal pairs a dropped transaction hash with the reason it was dropped.
type Removal struct {
	Hash   primitive.TxHash
	Reason RemovalReason
}

// BuilderEntry is one slot of the block-building queue.
type BuilderEntry struct {
	Hash primitive.TxHash
	Tx   *transaction.Transaction
}

// Promotion is a transaction moved from parked to pending, tagged with the
// account nonce that made it executable.
type Promotion struct {
	Ttx   *TimestampedTx
	Nonce primitive.Nonce
}

// pool groups the per-account trackers of one tier.
type pool struct {
	accounts      map[primitive.Address]*accountTxs
	sequential    bool
	maxPerAccount int
}

func newPool(sequential bool, maxPerAccount int) *pool {
	return &pool{
		accounts:      make(map[primitive.Address]*accountTxs),
		sequential:    sequential,
		maxPerAccount: maxPerAccount,
	}
}

// add dispatches to the account's tracker, creating it on demand. A tracker
// created for this call is torn down again if the insert fails, so a failed
// add never leaves an empty account behind.
func (p *pool) add(ttx *TimestampedTx, currentAccountNonce primitive.Nonce) error {
	account, ok := p.accounts[ttx.Address()]
	created := false
	if !ok {
		account = newAccountTxs(p.sequential, p.maxPerAccount)
		p.accounts[ttx.Address()] = account
		created = true
	}
	if err := account.add(ttx, currentAccountNonce); err != nil {
		if created {
			delete(p.accounts, ttx.Address())
		}
		return err
	}
	return nil
}

// dropIfEmpty removes the account key once its tracker holds nothing.
func (p *pool) dropIfEmpty(addr primitive.Address) {
	if account, ok := p.accounts[addr]; ok && account.size() == 0 {
		delete(p.accounts, addr)
	}
}

// removalCache remembers why recently dropped transactions were removed so
// the host can answer "where did my transaction go" queries. Bounded FIFO.
type removalCache struct {
	reasons map[primitive.TxHash]RemovalReason
	order   []primitive.TxHash
	maxSize int
}

func newRemovalCache(maxSize int) *removalCache {
	return &removalCache{
		reasons: make(map[primitive.TxHash]RemovalReason),
		maxSize: maxSize,
	}
}

func (c *removalCache) add(hash primitive.TxHash, reason RemovalReason) {
	if _, ok := c.reasons[hash]; ok {
		return
	}
	if len(c.order) >= c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.reasons, oldest)
	}
	c.reasons[hash] = reason
	c.order = append(c.order, hash)
}

func (c *removalCache) take(hash primitive.TxHash) (RemovalReason, bool) {
	reason, ok := c.reasons[hash]
	if !ok {
		return 0, false
	}
	delete(c.reasons, hash)
	for i, h := range c.order {
		if h == hash {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return reason, true
}

// Mempool is the two-tier transaction container. All public methods are
// serialized through a single lock; per-account mutation completes before the
// lock is released, so the invariants hold at every observation point.
//
// Policies:
//  1. Nonce replacement is not allowed.
//  2. Parked accounts hold at most the configured per-account cap.
//  3. Pending accounts are unbounded.
//  4. Transactions expire after the configured TTL; an expired front
//     transaction evicts the whole account, since the rest depended on it.
type Mempool struct {
	mtx     sync.Mutex
	pending *pool
	parked  *pool
	all     map[primitive.TxHash]struct{}
	removed *removalCache

	txTTL time.Duration
	clock clock.Clock
	log   *logrus.Entry
}

// Options tune a Mempool beyond its defaults.
type Options struct {
	TxTTL            time.Duration
	ParkedPerAccount int
	Clock            clock.Clock
}

// New constructs an empty mempool. Zero-value options fall back to a
// per-account parked cap of DefaultParkedPerAccount and the system clock;
// a zero TTL disables expiry.
func New(opts Options) *Mempool {
	if opts.ParkedPerAccount == 0 {
		opts.ParkedPerAccount = DefaultParkedPerAccount
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Mempool{
		pending: newPool(true, 0),
		parked:  newPool(false, opts.ParkedPerAccount),
		all:     make(map[primitive.TxHash]struct{}),
		removed: newRemovalCache(removalCacheSize),
		txTTL:   opts.TxTTL,
		clock:   opts.Clock,
		log:     logging.Module("mempool"),
	}
}

// Add admits a transaction. Contiguous nonces land in the pending pool;
// a nonce gap diverts the transaction into the parked pool. The returned
// Destination is only meaningful when err is nil.
func (m *Mempool) Add(
	tx *transaction.Transaction,
	currentAccountNonce primitive.Nonce,
) (Destination, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if _, tracked := m.all[tx.Hash()]; tracked {
		return 0, ErrAlreadyPresent
	}

	ttx := newTimestampedTx(tx, m.clock.Now())
	err := m.pending.add(ttx, currentAccountNonce)
	if err == nil {
		m.all[ttx.Hash()] = struct{}{}
		// The insert may have closed the gap in front of a parked run.
		// Promote it now so a parked nonce can never be claimed again
		// by a later pending add.
		m.promoteRunLocked(tx.Address, tx.Nonce+1, currentAccountNonce)
		return DestPending, nil
	}
	if err != ErrNonceGap {
		return 0, err
	}
	if err := m.parked.add(ttx, currentAccountNonce); err != nil {
		return 0, err
	}
	m.all[ttx.Hash()] = struct{}{}
	return DestParked, nil
}

// Remove drops the transaction and every higher-nonce transaction of the
// same account in the same pool, recording reason for the target and
// RemovalLowerNonceInvalidated for the cascade. A removal from pending also
// clears the account's parked transactions, which depended on the removed
// run executing. The second return is false when the transaction was not
// present in either pool.
func (m *Mempool) Remove(
	tx *transaction.Transaction,
	reason RemovalReason,
) ([]primitive.TxHash, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for _, p := range []*pool{m.pending, m.parked} {
		account, ok := p.accounts[tx.Address]
		if !ok {
			continue
		}
		removed := account.remove(tx.Nonce)
		if len(removed) == 0 {
			continue
		}
		p.dropIfEmpty(tx.Address)
		hashes := make([]primitive.TxHash, 0, len(removed))
		for _, ttx := range removed {
			delete(m.all, ttx.Hash())
			r := RemovalLowerNonceInvalidated
			if ttx.Nonce() == tx.Nonce {
				r = reason
			}
			m.removed.add(ttx.Hash(), r)
			hashes = append(hashes, ttx.Hash())
		}
		if p == m.pending {
			if parked, ok := m.parked.accounts[tx.Address]; ok {
				for _, ttx := range parked.popAll() {
					delete(m.all, ttx.Hash())
					m.removed.add(ttx.Hash(), RemovalLowerNonceInvalidated)
					hashes = append(hashes, ttx.Hash())
				}
				m.parked.dropIfEmpty(tx.Address)
			}
		}
		return hashes, true
	}
	m.log.WithFields(logrus.Fields{
		"address": tx.Address,
		"nonce":   tx.Nonce,
	}).Debug("remove requested for untracked transaction")
	return nil, false
}

// ClearAccount unconditionally drops every transaction of addr from both
// pools and returns the removed hashes.
func (m *Mempool) ClearAccount(addr primitive.Address) []primitive.TxHash {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	var hashes []primitive.TxHash
	for _, p := range []*pool{m.pending, m.parked} {
		account, ok := p.accounts[addr]
		if !ok {
			continue
		}
		for _, ttx := range account.popAll() {
			delete(m.all, ttx.Hash())
			hashes = append(hashes, ttx.Hash())
		}
		delete(p.accounts, addr)
	}
	return hashes
}

// CleanAccounts sweeps both pools. An account whose oldest transaction has
// outlived the TTL is evicted wholesale: the front is reported as expired and
// the rest as invalidated by it. Otherwise stale nonces below the oracle's
// answer are dropped. An oracle failure skips that account for this cycle;
// the sweep itself never fails.
func (m *Mempool) CleanAccounts(ctx context.Context, oracle NonceOracle) []Removal {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	var removals []Removal
	for _, p := range []*pool{m.pending, m.parked} {
		removals = append(removals, m.cleanPool(ctx, p, oracle)...)
	}
	for _, r := range removals {
		delete(m.all, r.Hash)
		m.removed.add(r.Hash, r.Reason)
	}
	return removals
}

func (m *Mempool) cleanPool(ctx context.Context, p *pool, oracle NonceOracle) []Removal {
	var removals []Removal
	for addr, account := range p.accounts {
		front, ok := account.front()
		if !ok {
			delete(p.accounts, addr)
			continue
		}
		if m.txTTL > 0 && m.clock.Now().Sub(front.FirstSeen()) > m.txTTL {
			expired, _ := account.popFront()
			removals = append(removals, Removal{Hash: expired.Hash(), Reason: RemovalExpired})
			for _, ttx := range account.popAll() {
				removals = append(removals, Removal{
					Hash:   ttx.Hash(),
					Reason: RemovalLowerNonceInvalidated,
				})
			}
		} else {
			latest, err := oracle(ctx, addr)
			if err != nil {
				m.log.WithError(err).WithField("address", addr).
					Warn("nonce oracle failed, skipping account this sweep")
				continue
			}
			for _, ttx := range account.registerLatestNonce(latest) {
				removals = append(removals, Removal{
					Hash:   ttx.Hash(),
					Reason: RemovalNonceStale,
				})
			}
		}
		p.dropIfEmpty(addr)
	}
	return removals
}

// BuilderQueue snapshots the pending pool as a priority-sorted list for block
// building: lowest nonce difference first, earliest first-seen breaking ties.
// The pool itself is not mutated. Accounts whose oracle lookup fails and
// transactions with stale nonces are skipped with a log line.
func (m *Mempool) BuilderQueue(ctx context.Context, oracle NonceOracle) []BuilderEntry {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	type queued struct {
		entry BuilderEntry
		pri   priority
	}
	var pending []queued
	for addr, account := range m.pending.accounts {
		latest, err := oracle(ctx, addr)
		if err != nil {
			m.log.WithError(err).WithField("address", addr).
				Warn("nonce oracle failed, skipping account for builder queue")
			continue
		}
		for _, ttx := range account.all() {
			pri, err := ttx.priority(latest)
			if err != nil {
				// The node may be behind; maintenance will drop it.
				m.log.WithError(err).WithField("tx_hash", ttx.Hash()).
					Debug("skipping stale transaction in builder queue")
				continue
			}
			pending = append(pending, queued{
				entry: BuilderEntry{Hash: ttx.Hash(), Tx: ttx.Tx()},
				pri:   pri,
			})
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].pri.higherThan(pending[j].pri)
	})
	out := make([]BuilderEntry, len(pending))
	for i, q := range pending {
		out[i] = q.entry
	}
	return out
}

// PendingNonce returns the highest nonce the pending pool holds for addr.
// Clients use it to pick the next nonce to sign with. Parked gaps are not
// considered.
func (m *Mempool) PendingNonce(addr primitive.Address) (primitive.Nonce, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	account, ok := m.pending.accounts[addr]
	if !ok {
		return 0, false
	}
	return account.highestNonce()
}

// PopFrontAccount pops the contiguous run of parked transactions of addr
// starting at targetNonce. The account key is dropped if it empties.
func (m *Mempool) PopFrontAccount(
	addr primitive.Address,
	targetNonce primitive.Nonce,
) []*TimestampedTx {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.popFrontAccountLocked(addr, targetNonce)
}

func (m *Mempool) popFrontAccountLocked(
	addr primitive.Address,
	targetNonce primitive.Nonce,
) []*TimestampedTx {
	account, ok := m.parked.accounts[addr]
	if !ok {
		return nil
	}
	popped := account.popFrontContiguous(targetNonce)
	for _, ttx := range popped {
		delete(m.all, ttx.Hash())
	}
	m.parked.dropIfEmpty(addr)
	return popped
}

// promoteRunLocked pops the parked run of addr starting at targetNonce and
// inserts it into the pending pool with the original first-seen timestamps.
func (m *Mempool) promoteRunLocked(
	addr primitive.Address,
	targetNonce primitive.Nonce,
	currentAccountNonce primitive.Nonce,
) []*TimestampedTx {
	var promoted []*TimestampedTx
	for _, ttx := range m.popFrontAccountLocked(addr, targetNonce) {
		if err := m.pending.add(ttx, currentAccountNonce); err != nil {
			// Should not happen: the popped run starts at targetNonce
			// and is contiguous.
			m.log.WithError(err).WithField("tx_hash", ttx.Hash()).
				Error("failed to promote parked transaction, dropping")
			continue
		}
		m.all[ttx.Hash()] = struct{}{}
		promoted = append(promoted, ttx)
	}
	return promoted
}

// PromoteParked moves every parked transaction whose nonce run starts at the
// account's current on-chain nonce into the pending pool, preserving the
// original first-seen timestamps. Accounts with a failing oracle are skipped.
// Returns the promoted transactions tagged with the nonce that unlocked them.
func (m *Mempool) PromoteParked(ctx context.Context, oracle NonceOracle) []Promotion {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	var promotions []Promotion
	addrs := make([]primitive.Address, 0, len(m.parked.accounts))
	for addr := range m.parked.accounts {
		addrs = append(addrs, addr)
	}
	for _, addr := range addrs {
		latest, err := oracle(ctx, addr)
		if err != nil {
			m.log.WithError(err).WithField("address", addr).
				Warn("nonce oracle failed, skipping account for promotion")
			continue
		}
		for _, ttx := range m.promoteRunLocked(addr, latest, latest) {
			promotions = append(promotions, Promotion{Ttx: ttx, Nonce: latest})
		}
	}
	return promotions
}

// CheckRemoved reports why a transaction was recently dropped, consuming the
// cached reason.
func (m *Mempool) CheckRemoved(hash primitive.TxHash) (RemovalReason, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.removed.take(hash)
}

// IsTracked reports whether the hash is held in either pool.
func (m *Mempool) IsTracked(hash primitive.TxHash) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	_, ok := m.all[hash]
	return ok
}

// Len returns the total number of tracked transactions.
func (m *Mempool) Len() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return len(m.all)
}
