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
	kafkax "github.com/ariefcatur/go-commerce-saga/internal/kafka"
	"github.com/ariefcatur/go-commerce-saga/internal/notifications"
	"github.com/ariefcatur/go-commerce-saga/internal/saga"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if os.Getenv("SERVICE_NAME") == "" {
		cfg.ServiceName = "notification-svc"
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "notification-svc"
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
		log.Error("notifier exited", zap.Error(err))
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

	dispatcher := notifications.NewDispatcher(stores.Notifications, app.Senders(cfg, log), log)
	h := &notifications.Handlers{Dispatcher: dispatcher, Dedup: rc.Dedup, Log: log}

	d := saga.NewDispatcher(stores.DeadLetters, prod, cfg.HandlerMaxRetries, log)
	d.Handle(events.TopicOrderConfirmed, h.HandleOrderConfirmed)
	d.Handle(events.TopicPaymentProcessed, h.HandlePaymentProcessed)
	d.Handle(events.TopicOrderShipped, h.HandleOrderShipped)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	retryDone := make(chan struct{})
	go func() {
		defer close(retryDone)
		dispatcher.RunRetryLoop(ctx, cfg.NotifyRetryInterval)
	}()

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, d.Topics(), cfg.ConsumerWorkers, log)
	log.Info("notifier started",
		zap.String("group", cfg.ConsumerGroup),
		zap.Strings("topics", d.Topics()),
		zap.Duration("retry_interval", cfg.NotifyRetryInterval),
	)
	err = cons.Start(ctx, d.Dispatch)
	cancel()
	<-retryDone
	return err
}
