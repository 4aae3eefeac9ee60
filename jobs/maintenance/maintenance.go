// Package maintenance runs the periodic mempool upkeep: evicting stale and
// expired transactions, and promoting parked transactions whose nonce gap
// has closed.
package maintenance

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/astriaorg/astria-sub003/domain/mempool"
	"github.com/astriaorg/astria-sub003/infra/logging"
)

const defaultInterval = time.Second

// MarketLister reports the registered markets. The sweep only counts them,
// so any state backend satisfies it.
type MarketLister interface {
	Markets() []string
}

type Sweeper struct {
	pool     *mempool.Mempool
	oracle   mempool.NonceOracle
	clock    clock.Clock
	interval time.Duration
	log      *logrus.Entry

	markets    MarketLister
	maxMarkets int
}

func New(pool *mempool.Mempool, oracle mempool.NonceOracle, clk clock.Clock, interval time.Duration) *Sweeper {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Sweeper{
		pool:     pool,
		oracle:   oracle,
		clock:    clk,
		interval: interval,
		log:      logging.Module("maintenance"),
	}
}

// WithMarketHint makes the sweep warn when the number of registered markets
// exceeds max. The bound is advisory and never blocks anything. A zero max
// disables the check.
func (s *Sweeper) WithMarketHint(lister MarketLister, max int) *Sweeper {
	s.markets = lister
	s.maxMarkets = max
	return s
}

func (s *Sweeper) Start(ctx context.Context) {
	s.log.WithField("interval", s.interval).Info("started")

	go func() {
		ticker := s.clock.Ticker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepOnce(ctx)
			}
		}
	}()
}

// SweepOnce performs one maintenance pass. Eviction runs before promotion so
// a parked transaction is never promoted into an account that is about to be
// cleared.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	removed := s.pool.CleanAccounts(ctx, s.oracle)
	for _, r := range removed {
		s.log.WithFields(logrus.Fields{
			"tx_hash": r.Hash.String(),
			"reason":  r.Reason.String(),
		}).Debug("evicted transaction")
	}

	promoted := s.pool.PromoteParked(ctx, s.oracle)
	for _, p := range promoted {
		s.log.WithFields(logrus.Fields{
			"tx_hash": p.Ttx.Hash().String(),
			"nonce":   p.Nonce,
		}).Debug("promoted parked transaction")
	}

	if len(removed) > 0 || len(promoted) > 0 {
		s.log.WithFields(logrus.Fields{
			"removed":  len(removed),
			"promoted": len(promoted),
		}).Info("maintenance pass")
	}

	if s.markets != nil && s.maxMarkets > 0 {
		if n := len(s.markets.Markets()); n > s.maxMarkets {
			s.log.WithFields(logrus.Fields{
				"markets": n,
				"max":     s.maxMarkets,
			}).Warn("market count exceeds configured bound")
		}
	}
}
