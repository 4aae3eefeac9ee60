// Package transaction defines the signed transaction envelope admitted into
// the mempool, along with the action payloads a transaction can carry.
package transaction

import (
	"crypto/sha256"

	"github.com/astriaorg/astria-sub003/domain/primitive"
)

// Action is a single decoded operation carried by a transaction. Concrete
// action types live next to the subsystem that executes them; the transfer
// action is defined here because it has no executing subsystem in the core
// (settlement is the host's job).
type Action interface {
	ActionName() string
}

// Transfer moves funds between accounts. The core only classifies it;
// execution happens in the host's settlement layer.
type Transfer struct {
	To     primitive.Address
	Asset  string
	Amount string
}

func (Transfer) ActionName() string { return "transfer" }

// Transaction is an admitted, signature-checked transaction. Exactly one
// shared handle exists per transaction; the mempool stores pointers to it and
// never copies the payload.
type Transaction struct {
	Address         primitive.Address
	Nonce           primitive.Nonce
	ChainID         string
	VerificationKey []byte
	Actions         []Action

	payload []byte
	hash    primitive.TxHash
}

// New constructs a transaction and fixes its content hash from the raw
// payload bytes.
func New(
	addr primitive.Address,
	nonce primitive.Nonce,
	chainID string,
	verificationKey []byte,
	actions []Action,
	payload []byte,
) *Transaction {
	return &Transaction{
		Address:         addr,
		Nonce:           nonce,
		ChainID:         chainID,
		VerificationKey: verificationKey,
		Actions:         actions,
		payload:         payload,
		hash:            sha256.Sum256(payload),
	}
}

// Hash returns the sha256 digest of the transaction payload.
func (t *Transaction) Hash() primitive.TxHash {
	return t.hash
}

// Payload returns the raw transaction bytes.
func (t *Transaction) Payload() []byte {
	return t.payload
}
