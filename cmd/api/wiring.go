package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dejobratic/orderflow/internal/config"
	"github.com/dejobratic/orderflow/internal/database"
	"github.com/dejobratic/orderflow/internal/fulfillment"
	"github.com/dejobratic/orderflow/internal/httpclient"
	idemmemory "github.com/dejobratic/orderflow/internal/idempotency/memory"
	idempostgres "github.com/dejobratic/orderflow/internal/idempotency/postgres"
	"github.com/dejobratic/orderflow/internal/inventory"
	"github.com/dejobratic/orderflow/internal/kafka"
	"github.com/dejobratic/orderflow/internal/lock"
	"github.com/dejobratic/orderflow/internal/orders/adapters/memory"
	orderspostgres "github.com/dejobratic/orderflow/internal/orders/adapters/postgres"
	"github.com/dejobratic/orderflow/internal/orders/app/commands"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/dejobratic/orderflow/internal/payment"
	"github.com/redis/go-redis/v9"
)

type storage struct {
	orders      ports.OrderRepository
	outbox      ports.OutboxStore
	idempotency ports.IdempotencyStore
	ready       func(context.Context) error
	close       func()
}

// openStorage uses Postgres when a database URL is configured and keeps
// everything in memory otherwise.
func openStorage(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*storage, error) {
	if cfg.URL == "" {
		logger.Warn("DATABASE_URL not set, orders are kept in memory")
		repo := memory.NewRepository()
		return &storage{
			orders:      repo,
			outbox:      repo,
			idempotency: idemmemory.NewStore(),
			close:       func() {},
		}, nil
	}

	pool, err := database.NewPool(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}

	if cfg.AutoMigrate {
		version, err := database.RunMigrations(cfg.URL, cfg.MigrationsPath)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database schema migrated", "path", cfg.MigrationsPath, "version", version)
	}

	repo := orderspostgres.NewRepository(pool)
	return &storage{
		orders:      repo,
		outbox:      repo,
		idempotency: idempostgres.NewStore(pool),
		ready: func(ctx context.Context) error {
			return database.CheckHealth(ctx, pool)
		},
		close: pool.Close,
	}, nil
}

type coordinators struct {
	inventory   ports.InventoryCoordinator
	payment     ports.PaymentCoordinator
	fulfillment ports.FulfillmentCoordinator
	locker      ports.OrderLocker
	ready       func(context.Context) error
	close       func()
}

// newCoordinators picks a remote client for every downstream service with a
// configured URL. Without one, stock lives in Redis (or memory) and payment
// and shipping use the in-process stand-ins.
func newCoordinators(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*coordinators, error) {
	c := &coordinators{close: func() {}}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		c.ready = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		c.close = func() { _ = redisClient.Close() }
	}

	switch {
	case cfg.Downstream.InventoryURL != "":
		hc, err := httpclient.New("inventory", cfg.Downstream.InventoryURL, logger)
		if err != nil {
			return nil, err
		}
		c.inventory = inventory.NewClient(hc, logger)
	case redisClient != nil:
		c.inventory = inventory.NewRedisStore(redisClient, logger)
	default:
		c.inventory = memory.NewInventory(cfg.Orders.DefaultStock)
	}

	if redisClient != nil {
		c.locker = lock.NewRedis(redisClient, cfg.Lock.TTL, logger)
	} else {
		c.locker = lock.NewLocal()
	}

	if cfg.Downstream.PaymentURL != "" {
		hc, err := httpclient.New("payment", cfg.Downstream.PaymentURL, logger)
		if err != nil {
			return nil, err
		}
		c.payment = payment.NewClient(hc)
	} else {
		c.payment = memory.NewPayment()
	}

	var shipping fulfillment.ShippingService = memory.NewShipping()
	if cfg.Downstream.ShippingURL != "" {
		hc, err := httpclient.New("shipping", cfg.Downstream.ShippingURL, logger)
		if err != nil {
			return nil, err
		}
		shipping = fulfillment.NewClient(hc)
	}
	c.fulfillment = fulfillment.NewCoordinator(shipping)

	return c, nil
}

// newEventBus publishes to Kafka when brokers are configured.
func newEventBus(cfg config.KafkaConfig, logger *slog.Logger) (ports.EventBus, func()) {
	if len(cfg.Brokers) == 0 {
		logger.Warn("KAFKA_BROKERS not set, events are only logged")
		return kafka.NewLogEventBus(logger), func() {}
	}

	publisher := kafka.NewPublisher(kafka.NewWriter(cfg.Brokers, cfg.WriteTimeout))
	return publisher, func() {
		if err := publisher.Close(); err != nil {
			logger.Error("failed to close kafka writer", "error", err)
		}
	}
}

func policy(cfg config.OrdersConfig) commands.Policy {
	fees := make(map[domain.ShippingMethod]int64, len(cfg.ShippingFees))
	for method, cents := range cfg.ShippingFees {
		fees[domain.ShippingMethod(method)] = cents
	}
	return commands.Policy{
		Limits: domain.Limits{
			MaxItems:           cfg.MaxItems,
			MaxOrderValueCents: cfg.MaxOrderValueCents,
		},
		Pricing: domain.Pricing{
			TaxRateBasisPoints: cfg.TaxRateBasisPoints,
			ShippingFees:       fees,
		},
		CoordinatorTimeout: cfg.CoordinatorTimeout,
		ReturnWindow:       cfg.ReturnWindow,
		MaxPaymentAttempts: cfg.MaxPaymentAttempts,
		UnpaidTTL:          cfg.UnpaidTTL,
	}
}
