// Package primitive holds the small value types shared across the sequencer
// core: account addresses, transaction hashes and nonces.
package primitive

import (
	"encoding/hex"
	"fmt"
)

// AddressLen is the length of an account address in bytes.
const AddressLen = 20

// TxHashLen is the length of a transaction hash in bytes.
const TxHashLen = 32

// Address is a 20-byte account identifier.
type Address [AddressLen]byte

// Nonce is the per-account monotonic transaction counter.
type Nonce = uint32

// TxHash is a 32-byte transaction content digest.
type TxHash [TxHashLen]byte

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

func (h TxHash) String() string {
	return hex.EncodeToString(h[:])
}

// AddressFromBytes converts a byte slice into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressLen {
		return a, fmt.Errorf("address must be %d bytes, got %d", AddressLen, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// AddressFromHex parses a hex-encoded account address.
func AddressFromHex(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("decoding address hex: %w", err)
	}
	return AddressFromBytes(b)
}
