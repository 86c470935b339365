package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/app"
	"github.com/ariefcatur/go-commerce-saga/internal/config"
	"github.com/ariefcatur/go-commerce-saga/internal/httpx"
	"github.com/ariefcatur/go-commerce-saga/internal/inventory"
	kafkax "github.com/ariefcatur/go-commerce-saga/internal/kafka"
	"github.com/ariefcatur/go-commerce-saga/internal/notifications"
	"github.com/ariefcatur/go-commerce-saga/internal/orders"
	"github.com/ariefcatur/go-commerce-saga/internal/outbox"
	"github.com/ariefcatur/go-commerce-saga/internal/payments"
	"github.com/ariefcatur/go-commerce-saga/internal/saga"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log, flush, err := app.Observability(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "observability: %v\n", err)
		os.Exit(1)
	}

	err = run(ctx, cfg, log)
	if err != nil {
		log.Error("api exited", zap.Error(err))
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

	orderCfg := orders.ServiceConfig{Producer: cfg.ServiceName, StrictTransitions: cfg.OrderStrictTransitions}
	oh := &httpx.OrdersHandler{Log: log}
	if rc.Status != nil {
		orderCfg.Cache = rc.Status
		oh.Cache = rc.Status
	}
	oh.Orders = orders.NewService(stores.Orders, orderCfg, log)

	processor := payments.NewProcessor(stores.Payments, payments.NewSimulatedGateway(),
		payments.ProcessorConfig{GatewayTimeout: cfg.PaymentGatewayTimeout}, log)

	dispatcher := notifications.NewDispatcher(stores.Notifications, app.Senders(cfg, log), log)

	router := httpx.NewRouter(log,
		oh,
		&httpx.InventoryHandler{Ledger: inventory.NewLedger(stores.Inventory, log), Log: log},
		&httpx.PaymentsHandler{Payments: processor, Log: log},
		&httpx.NotificationsHandler{Dispatcher: dispatcher, Log: log},
		&httpx.AdminHandler{Saga: saga.NewDispatcher(stores.DeadLetters, prod, cfg.HandlerMaxRetries, log), Log: log},
	)

	relay := outbox.NewRelay(stores.Outbox, prod, cfg.OutboxInterval, cfg.OutboxBatch, log)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		relay.Run(ctx)
	}()

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	}
	log.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	<-relayDone
	return nil
}
