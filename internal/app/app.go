// Package app holds the start-up wiring shared by the binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-commerce-saga/internal/config"
	"github.com/ariefcatur/go-commerce-saga/internal/events"
	"github.com/ariefcatur/go-commerce-saga/internal/inventory"
	"github.com/ariefcatur/go-commerce-saga/internal/memstore"
	"github.com/ariefcatur/go-commerce-saga/internal/notifications"
	"github.com/ariefcatur/go-commerce-saga/internal/observability"
	"github.com/ariefcatur/go-commerce-saga/internal/orders"
	"github.com/ariefcatur/go-commerce-saga/internal/outbox"
	"github.com/ariefcatur/go-commerce-saga/internal/payments"
	"github.com/ariefcatur/go-commerce-saga/internal/postgres"
	"github.com/ariefcatur/go-commerce-saga/internal/redisx"
	"github.com/ariefcatur/go-commerce-saga/internal/saga"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Stores struct {
	Orders        orders.Store
	Inventory     inventory.Store
	Payments      payments.Store
	Notifications notifications.Store
	Outbox        outbox.Store
	DeadLetters   saga.DeadLetterStore

	close func()
}

func (s Stores) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStores selects the storage backend named by cfg.StoreDriver.
func OpenStores(ctx context.Context, cfg config.Config, log *zap.Logger) (Stores, error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory stores, state is lost on exit")
		db := memstore.New()
		return Stores{
			Orders:        db.Orders(),
			Inventory:     db.Inventory(),
			Payments:      db.Payments(),
			Notifications: db.Notifications(),
			Outbox:        db.Outbox(),
			DeadLetters:   db.DeadLetters(),
		}, nil
	case "postgres", "":
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, log)
		if err != nil {
			return Stores{}, err
		}
		return Stores{
			Orders:        &orders.Repo{DB: pool},
			Inventory:     &inventory.Repo{DB: pool},
			Payments:      &payments.Repo{DB: pool},
			Notifications: &notifications.Repo{DB: pool},
			Outbox:        &outbox.PGStore{DB: pool},
			DeadLetters:   &saga.PGDeadLetters{DB: pool},
			close:         pool.Close,
		}, nil
	}
	return Stores{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

// Redis is optional; every field is nil when REDIS_ADDR is empty.
type Redis struct {
	Client *redis.Client
	Dedup  events.Deduper
	Status *redisx.StatusCache
}

func (r Redis) Close() {
	if r.Client != nil {
		_ = r.Client.Close()
	}
}

// OpenRedis connects and pings once. A failed ping is logged and the cache
// layer is disabled rather than failing start-up.
func OpenRedis(ctx context.Context, cfg config.Config, log *zap.Logger) Redis {
	if cfg.RedisAddr == "" {
		return Redis{}
	}
	rdb := redisx.New(cfg.RedisAddr)
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		log.Warn("redis unavailable, running without cache", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		_ = rdb.Close()
		return Redis{}
	}
	return Redis{Client: rdb, Dedup: redisx.NewDedup(rdb), Status: redisx.NewStatusCache(rdb)}
}

// Observability builds the logger and tracer provider for a binary.
func Observability(ctx context.Context, cfg config.Config) (*zap.Logger, func(), error) {
	log, err := observability.NewLogger(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		return nil, nil, err
	}
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return log, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracer shutdown", zap.Error(err))
		}
		_ = log.Sync()
	}, nil
}

// Senders picks SMTP for email when SMTP_HOST is set and the log sender
// otherwise. SMS always goes to the log.
func Senders(cfg config.Config, log *zap.Logger) map[notifications.Channel]notifications.Sender {
	logSender := notifications.LogSender{Log: log}
	out := map[notifications.Channel]notifications.Sender{
		notifications.ChannelEmail: logSender,
		notifications.ChannelSMS:   logSender,
	}
	if cfg.SMTP.Host != "" {
		out[notifications.ChannelEmail] = notifications.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From)
	}
	return out
}
