package mempool

import (
	"fmt"
	"time"

	"github.com/astriaorg/astria-sub003/domain/primitive"
)

// priority orders pending transactions for block building. A lower nonce
// difference beats a higher one; among equal differences the earlier
// first-seen timestamp wins.
type priority struct {
	nonceDiff primitive.Nonce
	firstSeen time.Time
}

func (t *TimestampedTx) priority(currentAccountNonce primitive.Nonce) (priority, error) {
	if t.Nonce() < currentAccountNonce {
		return priority{}, fmt.Errorf(
			"transaction nonce %d is less than current account nonce %d",
			t.Nonce(), currentAccountNonce,
		)
	}
	return priority{
		nonceDiff: t.Nonce() - currentAccountNonce,
		firstSeen: t.firstSeen,
	}, nil
}

// higherThan reports whether p should be executed before o.
func (p priority) higherThan(o priority) bool {
	if p.nonceDiff != o.nonceDiff {
		return p.nonceDiff < o.nonceDiff
	}
	return p.firstSeen.Before(o.firstSeen)
}
