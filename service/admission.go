package service

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/astriaorg/astria-sub003/domain/mempool"
	"github.com/astriaorg/astria-sub003/domain/orderbook"
	"github.com/astriaorg/astria-sub003/domain/primitive"
	"github.com/astriaorg/astria-sub003/domain/transaction"
	"github.com/astriaorg/astria-sub003/infra/journal"
	"github.com/astriaorg/astria-sub003/infra/logging"
)

// Submission failures raised before a transaction reaches the mempool.
var (
	ErrChainIDMismatch = errors.New("transaction chain id does not match this sequencer")
	ErrUnknownAction   = errors.New("transaction carries an unknown action")
)

// VerifyFunc checks the transaction signature. Admission delegates the
// cryptographic scheme to the host.
type VerifyFunc func(tx *transaction.Transaction) error

// Publisher is the fast-path match publication sink. The journal sequence
// travels with the payload so consumers can deduplicate redeliveries.
type Publisher interface {
	Publish(ctx context.Context, market string, seq uint64, payload []byte) error
}

// MatchJournal is the durable log every match is appended to before
// publication.
type MatchJournal interface {
	Append(ev orderbook.MatchEvent) (uint64, error)
}

// MatchOutbox tracks publish acknowledgement per journaled match.
type MatchOutbox interface {
	PutNew(seq uint64, payload []byte) error
	MarkAcked(seq uint64) error
	Delete(seq uint64) error
}

// Config wires an Admission service. Journal, Outbox, and Publisher are
// optional; without them matches are returned to the caller but not
// published.
type Config struct {
	ChainID   string
	Verify    VerifyFunc
	Pool      *mempool.Mempool
	Engine    *orderbook.MatchingEngine
	State     orderbook.State
	Oracle    mempool.NonceOracle
	Journal   MatchJournal
	Outbox    MatchOutbox
	Publisher Publisher
	Clock     clock.Clock
}

// Admission is the single write entry point of the sequencer core. It
// verifies, classifies, and admits transactions, dispatches the actions of
// immediately executable transactions to the matching engine, and hands the
// resulting matches to the publication pipeline.
type Admission struct {
	chainID   string
	verify    VerifyFunc
	pool      *mempool.Mempool
	engine    *orderbook.MatchingEngine
	state     orderbook.State
	oracle    mempool.NonceOracle
	journal   MatchJournal
	outbox    MatchOutbox
	publisher Publisher
	clock     clock.Clock
	log       *logrus.Entry
}

// Result reports what admission did with one transaction.
type Result struct {
	Hash        primitive.TxHash
	Destination mempool.Destination
	OrderIDs    []string
	Matches     []orderbook.MatchEvent
}

func New(cfg Config) *Admission {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Admission{
		chainID:   cfg.ChainID,
		verify:    cfg.Verify,
		pool:      cfg.Pool,
		engine:    cfg.Engine,
		state:     cfg.State,
		oracle:    cfg.Oracle,
		journal:   cfg.Journal,
		outbox:    cfg.Outbox,
		publisher: cfg.Publisher,
		clock:     cfg.Clock,
		log:       logging.Module("admission"),
	}
}

// SubmitTransaction runs the full admission pipeline. Transactions landing
// in the pending pool have their actions executed synchronously; parked
// transactions wait for promotion and execute when the host pops them.
// An action failure evicts the transaction again with a failed-execution
// reason.
func (s *Admission) SubmitTransaction(
	ctx context.Context,
	tx *transaction.Transaction,
) (*Result, error) {
	if s.verify != nil {
		if err := s.verify(tx); err != nil {
			return nil, errors.Wrap(err, "verifying transaction signature")
		}
	}
	if s.chainID != "" && tx.ChainID != s.chainID {
		return nil, errors.Wrapf(ErrChainIDMismatch, "got %q, want %q", tx.ChainID, s.chainID)
	}

	if reason, ok := s.pool.CheckRemoved(tx.Hash()); ok {
		return nil, errors.Errorf("transaction was recently removed: %s", reason)
	}

	nonce, err := s.oracle(ctx, tx.Address)
	if err != nil {
		return nil, errors.Wrap(err, "reading account nonce")
	}

	dest, err := s.pool.Add(tx, nonce)
	if err != nil {
		return nil, err
	}

	res := &Result{Hash: tx.Hash(), Destination: dest}
	s.log.WithFields(logrus.Fields{
		"tx_hash":     tx.Hash().String(),
		"address":     tx.Address.String(),
		"nonce":       tx.Nonce,
		"destination": dest.String(),
	}).Debug("transaction admitted")

	if dest != mempool.DestPending {
		return res, nil
	}

	if err := s.executeActions(ctx, tx, res); err != nil {
		s.pool.Remove(tx, mempool.RemovalFailedExecution)
		return nil, err
	}
	return res, nil
}

func (s *Admission) executeActions(
	ctx context.Context,
	tx *transaction.Transaction,
	res *Result,
) error {
	for _, action := range tx.Actions {
		switch a := action.(type) {
		case orderbook.CreateOrderAction:
			if err := s.createOrder(ctx, tx, a, res); err != nil {
				return err
			}
		case orderbook.CancelOrderAction:
			if err := s.engine.CancelOrder(s.state, tx.Address, a.OrderID); err != nil {
				return err
			}
		case orderbook.CreateMarketAction:
			if err := s.engine.CreateMarket(s.state, a.Market, a.Params); err != nil {
				return err
			}
		case orderbook.UpdateMarketAction:
			if err := s.engine.UpdateMarket(s.state, a.Market, a.Params); err != nil {
				return err
			}
		case transaction.Transfer:
			// Settlement executes transfers; admission only carries them.
			s.log.WithField("tx_hash", tx.Hash().String()).Debug("transfer deferred to settlement")
		default:
			return errors.Wrap(ErrUnknownAction, action.ActionName())
		}
	}
	return nil
}

func (s *Admission) createOrder(
	ctx context.Context,
	tx *transaction.Transaction,
	a orderbook.CreateOrderAction,
	res *Result,
) error {
	if params, ok := s.state.MarketParams(a.Market); ok && params.Paused {
		return errors.Wrap(orderbook.ErrMarketPaused, a.Market)
	}

	order := &orderbook.Order{
		ID:          uuid.NewString(),
		Market:      a.Market,
		Owner:       tx.Address,
		Side:        a.Side,
		Type:        a.Type,
		TimeInForce: a.TimeInForce,
		Price:       a.Price,
		Quantity:    a.Quantity,
		Remaining:   a.Quantity,
		CreatedAt:   s.clock.Now(),
	}

	// The order is stored first; the engine reconciles its final
	// disposition after matching.
	if err := s.state.PutOrder(order); err != nil {
		return errors.Wrap(err, "storing incoming order")
	}
	events, err := s.engine.ProcessOrder(s.state, order)
	if err != nil {
		return err
	}

	res.OrderIDs = append(res.OrderIDs, order.ID)
	res.Matches = append(res.Matches, events...)
	s.publishMatches(ctx, events)
	return nil
}

// publishMatches journals every match and attempts the fast-path kafka
// publish. A fast-path failure is not an admission failure; the broadcaster
// re-delivers anything left unacknowledged in the outbox.
func (s *Admission) publishMatches(ctx context.Context, events []orderbook.MatchEvent) {
	if s.journal == nil {
		return
	}
	for _, ev := range events {
		payload, err := journal.EncodeMatch(ev)
		if err != nil {
			s.log.WithError(err).WithField("match_id", ev.ID).Error("match encoding failed")
			continue
		}
		seq, err := s.journal.Append(ev)
		if err != nil {
			s.log.WithError(err).WithField("match_id", ev.ID).Error("match journaling failed")
			continue
		}
		if s.outbox != nil {
			if err := s.outbox.PutNew(seq, payload); err != nil {
				s.log.WithError(err).WithField("seq", seq).Error("outbox enqueue failed")
				continue
			}
		}
		if s.publisher == nil {
			continue
		}
		if err := s.publisher.Publish(ctx, ev.Market, seq, payload); err != nil {
			s.log.WithError(err).WithField("seq", seq).Warn("fast-path publish failed, broadcaster will retry")
			continue
		}
		if s.outbox != nil {
			if err := s.outbox.MarkAcked(seq); err == nil {
				_ = s.outbox.Delete(seq)
			}
		}
	}
}

// BuilderQueue returns the block-building order of the pending pool.
func (s *Admission) BuilderQueue(ctx context.Context) []mempool.BuilderEntry {
	return s.pool.BuilderQueue(ctx, s.oracle)
}

// PendingNonce returns the highest pending nonce of addr, when the account
// has pending transactions.
func (s *Admission) PendingNonce(addr primitive.Address) (primitive.Nonce, bool) {
	return s.pool.PendingNonce(addr)
}

// MarkIncluded removes an executed transaction and its invalidated
// successors after block inclusion.
func (s *Admission) MarkIncluded(tx *transaction.Transaction) []primitive.TxHash {
	hashes, _ := s.pool.Remove(tx, mempool.RemovalIncludedInBlock)
	return hashes
}
