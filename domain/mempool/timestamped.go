package mempool

import (
	"time"

	"github.com/astriaorg/astria-sub003/domain/primitive"
	"github.com/astriaorg/astria-sub003/domain/transaction"
)

// TimestampedTx wraps a transaction with the monotonic instant at which the
// mempool first saw it. The timestamp is set exactly once, at admission, and
// never changes afterwards; promotion between pools carries the same handle.
type TimestampedTx struct {
	tx        *transaction.Transaction
	hash      primitive.TxHash
	address   primitive.Address
	firstSeen time.Time
}

func newTimestampedTx(tx *transaction.Transaction, now time.Time) *TimestampedTx {
	return &TimestampedTx{
		tx:        tx,
		hash:      tx.Hash(),
		address:   tx.Address,
		firstSeen: now,
	}
}

// Tx returns the shared transaction handle.
func (t *TimestampedTx) Tx() *transaction.Transaction {
	return t.tx
}

// Hash returns the transaction content digest.
func (t *TimestampedTx) Hash() primitive.TxHash {
	return t.hash
}

// Address returns the signer account.
func (t *TimestampedTx) Address() primitive.Address {
	return t.address
}

// Nonce returns the transaction nonce.
func (t *TimestampedTx) Nonce() primitive.Nonce {
	return t.tx.Nonce
}

// FirstSeen returns the admission timestamp.
func (t *TimestampedTx) FirstSeen() time.Time {
	return t.firstSeen
}
