package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/garments-tracker/internal/config"
	"github.com/ariefcatur/garments-tracker/internal/httpx"
	kafkax "github.com/ariefcatur/garments-tracker/internal/kafka"
	"github.com/ariefcatur/garments-tracker/internal/observability"
	"github.com/ariefcatur/garments-tracker/internal/orders"
	"github.com/ariefcatur/garments-tracker/internal/payments"
	"github.com/ariefcatur/garments-tracker/internal/postgres"
	"github.com/ariefcatur/garments-tracker/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", cfg.ServiceName))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}
	store := postgres.NewStore(db)

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := redisx.NewCache(rdb)
	if err := cache.Ping(ctx); err != nil {
		logger.Warn("redis unavailable, caches will miss", zap.Error(err))
	}

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger.Named("kafka"))
	prod.Start(ctx)
	events := &orders.BusPublisher{Producer: prod}

	// Payments
	var gateway payments.Gateway
	if cfg.StripeSecretKey != "" {
		sg, err := payments.NewStripeGateway(payments.StripeConfig{
			APIKey:   cfg.StripeSecretKey,
			Currency: cfg.Currency,
			Logger:   logger.Named("stripe"),
		})
		if err != nil {
			logger.Fatal("stripe gateway", zap.Error(err))
		}
		gateway = sg
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, card payments disabled")
	}

	engine, err := orders.NewEngine(orders.EngineDeps{
		Store:            store,
		Gateway:          gateway,
		Events:           events,
		Logger:           logger.Named("orders"),
		Service:          cfg.ServiceName,
		TrackTransitions: cfg.TrackTransitions,
	})
	if err != nil {
		logger.Fatal("order engine", zap.Error(err))
	}

	router := httpx.NewRouter(logger, cfg.RequestTimeout)
	(&httpx.OrdersHandler{Engine: engine, Cache: cache}).Register(router)
	(&httpx.PaymentsHandler{
		Engine:        engine,
		Gateway:       gateway,
		Cache:         cache,
		Events:        events,
		ParseWebhook:  payments.ParseWebhook,
		WebhookSecret: cfg.StripeWebhookSecret,
		ClientDomain:  cfg.ClientDomain,
		Currency:      cfg.Currency,
		Service:       cfg.ServiceName,
	}).Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	prod.Close() // stop accepting, flush the inbox, close the writer
	prod.WaitClosed()
}
