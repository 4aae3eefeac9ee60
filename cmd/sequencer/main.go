package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"

	"github.com/astriaorg/astria-sub003/api/httpserver"
	"github.com/astriaorg/astria-sub003/config"
	"github.com/astriaorg/astria-sub003/domain/mempool"
	"github.com/astriaorg/astria-sub003/domain/orderbook"
	"github.com/astriaorg/astria-sub003/infra/journal"
	"github.com/astriaorg/astria-sub003/infra/kafka"
	"github.com/astriaorg/astria-sub003/infra/logging"
	"github.com/astriaorg/astria-sub003/infra/pebblestate"
	"github.com/astriaorg/astria-sub003/jobs/broadcaster"
	"github.com/astriaorg/astria-sub003/jobs/maintenance"
	"github.com/astriaorg/astria-sub003/service"
	"github.com/astriaorg/astria-sub003/state"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file")
	flag.Parse()

	log := logging.Module("main")

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.WithError(err).Fatal("loading config failed")
	}
	logging.SetLevel(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ---------------- State ----------------

	var (
		st     orderbook.State
		oracle mempool.NonceOracle
	)
	switch cfg.State.Backend {
	case "pebble":
		store, err := pebblestate.Open(cfg.State.Dir)
		if err != nil {
			log.WithError(err).Fatal("opening pebble state failed")
		}
		defer store.Close()
		st = store
		oracle = store.AccountNonce
	default:
		mem := state.NewMemState()
		st = mem
		oracle = mem.AccountNonce
	}

	// ---------------- Journal + outbox ----------------

	jrnl, err := journal.Open(journal.Config{
		Dir:         cfg.Journal.Dir,
		SegmentSize: cfg.Journal.SegmentSize,
	})
	if err != nil {
		log.WithError(err).Fatal("opening journal failed")
	}
	defer jrnl.Close()

	outbox, err := journal.OpenOutbox(cfg.Journal.OutboxDir)
	if err != nil {
		log.WithError(err).Fatal("opening outbox failed")
	}
	defer outbox.Close()

	// ---------------- Publication ----------------

	var publisher service.Publisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		publisher = producer

		bcast, err := broadcaster.New(outbox, jrnl, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.WithError(err).Fatal("starting broadcaster failed")
		}
		defer bcast.Close()
		bcast.Start(ctx)
	}

	// ---------------- Domain ----------------

	clk := clock.New()
	pool := mempool.New(mempool.Options{
		TxTTL:            cfg.Mempool.TxTTL.Std(),
		ParkedPerAccount: cfg.Mempool.ParkedPerAccount,
		Clock:            clk,
	})
	engine := orderbook.NewMatchingEngine(clk)

	// ---------------- Service ----------------

	admission := service.New(service.Config{
		ChainID:   cfg.ChainID,
		Pool:      pool,
		Engine:    engine,
		State:     st,
		Oracle:    oracle,
		Journal:   jrnl,
		Outbox:    outbox,
		Publisher: publisher,
		Clock:     clk,
	})

	// ---------------- Jobs ----------------

	sweeper := maintenance.New(pool, oracle, clk, cfg.Mempool.SweepInterval.Std()).
		WithMarketHint(st, cfg.Orderbook.MaxMarkets)
	sweeper.Start(ctx)

	// ---------------- HTTP ----------------

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	httpserver.New(admission, st).InitRouter(router)

	srv := &http.Server{Addr: cfg.HTTP.Listen, Handler: router}
	go func() {
		log.WithField("listen", cfg.HTTP.Listen).Info("http server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown failed")
	}
	os.Exit(0)
}
