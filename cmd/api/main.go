package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-checkout-pipeline/internal/cart"
	"github.com/ariefcatur/go-checkout-pipeline/internal/checkout"
	"github.com/ariefcatur/go-checkout-pipeline/internal/config"
	"github.com/ariefcatur/go-checkout-pipeline/internal/event"
	"github.com/ariefcatur/go-checkout-pipeline/internal/httpx"
	"github.com/ariefcatur/go-checkout-pipeline/internal/inventory"
	"github.com/ariefcatur/go-checkout-pipeline/internal/kafkax"
	"github.com/ariefcatur/go-checkout-pipeline/internal/logx"
	"github.com/ariefcatur/go-checkout-pipeline/internal/metrics"
	"github.com/ariefcatur/go-checkout-pipeline/internal/order"
	"github.com/ariefcatur/go-checkout-pipeline/internal/outbox"
	"github.com/ariefcatur/go-checkout-pipeline/internal/payment"
	"github.com/ariefcatur/go-checkout-pipeline/internal/postgres"
	"github.com/ariefcatur/go-checkout-pipeline/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := logx.New(cfg.Dev)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		logger.Fatal("db schema", zap.Error(err))
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer func() { _ = rdb.Close() }()

	m := metrics.NewPipeline()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, event.TopicOrderPlaced, 1024, logger)
	prod.Start(ctx)

	ledger := &inventory.PGLedger{DB: db}
	orders := &order.PGStore{DB: db}
	intents := &payment.PGIntentStore{DB: db}
	ob := &outbox.PGStore{DB: db}
	carts := &cart.RedisStore{RDB: rdb, TTL: cfg.CartTTL}

	orchestrator := &payment.Orchestrator{
		Gateway:        payment.NewSimGateway(0, 50*time.Millisecond),
		Store:          intents,
		Attempts:       cfg.PaymentAttempts,
		AttemptTimeout: cfg.PaymentTimeout,
		Log:            logger,
		Metrics:        m,
	}
	coordinator := &checkout.Coordinator{
		Orders:         orders,
		Ledger:         ledger,
		Payments:       orchestrator,
		Outbox:         ob,
		ReservationTTL: cfg.ReservationTTL,
		Service:        cfg.ServiceName,
		Log:            logger,
		Metrics:        m,
	}
	sweeper := &inventory.Sweeper{
		Ledger:        ledger,
		Orders:        orders,
		Interval:      cfg.SweepInterval,
		CreatedMaxAge: cfg.CreatedOrderMaxAge,
		Log:           logger,
		Metrics:       m,
	}
	relay := &outbox.Relay{
		Store:    ob,
		Producer: prod,
		Interval: cfg.RelayInterval,
		Log:      logger,
		Metrics:  m,
	}

	router := httpx.NewRouter(logger)
	h := &httpx.Handler{
		Carts:       carts,
		Orders:      orders,
		Ledger:      ledger,
		Coordinator: coordinator,
		Redis:       rdb,
		Log:         logger,
	}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })

	if err := g.Wait(); err != nil {
		logger.Error("shutdown with error", zap.Error(err))
	}
	prod.WaitClosed()
	logger.Info("bye")
}
