package mempool

import "errors"

// Insertion failures, in the order they are evaluated during add.
var (
	ErrAccountSizeLimit = errors.New("account has reached its parked transaction limit")
	ErrNonceTooLow      = errors.New("transaction nonce is lower than the current account nonce")
	ErrAlreadyPresent   = errors.New("transaction is already present in the mempool")
	ErrNonceTaken       = errors.New("nonce slot is occupied and replacement is not allowed")
	ErrNonceGap         = errors.New("transaction nonce would create a gap")
)

// RemovalReason records why a transaction was dropped from the mempool.
type RemovalReason int

const (
	// RemovalExpired marks the front transaction of an account whose age
	// exceeded the configured TTL.
	RemovalExpired RemovalReason = iota
	// RemovalLowerNonceInvalidated marks transactions dropped because a
	// lower nonce of the same account was removed; they could no longer
	// execute on their own.
	RemovalLowerNonceInvalidated
	// RemovalNonceStale marks transactions whose nonce fell below the
	// on-chain account nonce.
	RemovalNonceStale
	// RemovalIncludedInBlock marks transactions removed after inclusion.
	RemovalIncludedInBlock
	// RemovalFailedExecution marks transactions the host rejected during
	// execution.
	RemovalFailedExecution
)

func (r RemovalReason) String() string {
	switch r {
	case RemovalExpired:
		return "expired"
	case RemovalLowerNonceInvalidated:
		return "lower nonce invalidated"
	case RemovalNonceStale:
		return "nonce stale"
	case RemovalIncludedInBlock:
		return "included in block"
	case RemovalFailedExecution:
		return "failed execution"
	default:
		return "unknown"
	}
}
