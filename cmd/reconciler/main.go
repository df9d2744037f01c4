package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/garments-tracker/internal/config"
	kafkax "github.com/ariefcatur/garments-tracker/internal/kafka"
	"github.com/ariefcatur/garments-tracker/internal/observability"
	"github.com/ariefcatur/garments-tracker/internal/orders"
	"github.com/ariefcatur/garments-tracker/internal/payments"
	"github.com/ariefcatur/garments-tracker/internal/postgres"
	"github.com/ariefcatur/garments-tracker/internal/reconciler"
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
	service := cfg.ServiceName + "-reconciler"
	logger = logger.With(zap.String("service", service))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Events about created orders go out the same way the API publishes them.
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger.Named("kafka"))
	prod.Start(ctx)

	gateway, err := payments.NewStripeGateway(payments.StripeConfig{
		APIKey:   cfg.StripeSecretKey,
		Currency: cfg.Currency,
		Logger:   logger.Named("stripe"),
	})
	if err != nil {
		logger.Fatal("stripe gateway", zap.Error(err))
	}

	engine, err := orders.NewEngine(orders.EngineDeps{
		Store:            postgres.NewStore(db),
		Gateway:          gateway,
		Events:           &orders.BusPublisher{Producer: prod},
		Logger:           logger.Named("orders"),
		Service:          service,
		TrackTransitions: cfg.TrackTransitions,
	})
	if err != nil {
		logger.Fatal("order engine", zap.Error(err))
	}

	svc := &reconciler.Service{
		Orders: engine,
		Dedup:  redisx.NewCache(rdb),
		Logger: logger,
	}
	cons := kafkax.NewConsumer(kafkax.ConsumerConfig{
		Brokers:  cfg.KafkaBrokers,
		Group:    cfg.ReconcilerGroup,
		Topic:    orders.TopicPaymentSessionComplete,
		Workers:  cfg.ReconcilerWorkers,
		Attempts: cfg.ReconcilerAttempts,
		Backoff:  cfg.ReconcilerBackoff,
		Logger:   logger.Named("consumer"),
	})

	var consumeErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("reconciler started",
			zap.String("group", cfg.ReconcilerGroup),
			zap.String("topic", orders.TopicPaymentSessionComplete),
			zap.Int("workers", cfg.ReconcilerWorkers))
		if err := cons.Start(ctx, svc.Handle); err != nil {
			consumeErr = err
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		logger.Info("shutting down consumer")
	case <-ctx.Done():
	}
	cancel()
	<-done
	prod.Close()
	prod.WaitClosed()
	if consumeErr != nil {
		// Non-zero so the supervisor restarts us from the last committed offset.
		_ = logger.Sync()
		os.Exit(1)
	}
}
