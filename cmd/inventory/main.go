package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-commerce-saga/internal/app"
	"github.com/ariefcatur/go-commerce-saga/internal/config"
	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"github.com/ariefcatur/go-commerce-saga/internal/inventory"
	kafkax "github.com/ariefcatur/go-commerce-saga/internal/kafka"
	"github.com/ariefcatur/go-commerce-saga/internal/saga"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if os.Getenv("SERVICE_NAME") == "" {
		cfg.ServiceName = "inventory-svc"
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "inventory-svc"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log, flush, err := app.Observability(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "observability: %v\n", err)
		os.Exit(1)
	}

	err = run(ctx, cfg, log)
	if err != nil {
		log.Error("inventory consumer exited", zap.Error(err))
	}
	flush()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer stores.Close()

	rc := app.OpenRedis(ctx, cfg, log)
	defer rc.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers)
	defer prod.Close()

	svc := &inventory.Service{
		Ledger: inventory.NewLedger(stores.Inventory, log),
		Dedup:  rc.Dedup,
		Log:    log,
	}

	d := saga.NewDispatcher(stores.DeadLetters, prod, cfg.HandlerMaxRetries, log)
	d.Handle(events.TopicOrderCreated, svc.HandleOrderCreated)
	d.Handle(events.TopicOrderConfirmed, svc.HandleOrderConfirmed)
	d.Handle(events.TopicOrderCancelled, svc.HandleOrderCancelled)

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, d.Topics(), cfg.ConsumerWorkers, log)
	log.Info("inventory consumer started",
		zap.String("group", cfg.ConsumerGroup),
		zap.Strings("topics", d.Topics()),
		zap.Int("workers", cfg.ConsumerWorkers),
	)
	return cons.Start(ctx, d.Dispatch)
}
