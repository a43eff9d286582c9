package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-orders/internal/auth"
	"ms-orders/internal/config"
	"ms-orders/internal/database/migrations"
	"ms-orders/internal/kafka"
	"ms-orders/internal/logger"
	"ms-orders/internal/order"
	"ms-orders/internal/order/db"
	"ms-orders/internal/order/order_api"
	rediswrap "ms-orders/internal/order/redis"
	"ms-orders/internal/payment"
	"ms-orders/internal/payment/services"
)

func connectPostgres(cfg config.DatabaseConfig, log *logger.Logger) *sql.DB {
	var (
		sqldb *sql.DB
		err   error
	)
	tries := cfg.ConnectTries
	if tries < 1 {
		tries = 1
	}

	for i := 0; i < tries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, tries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			if err = sqldb.Ping(); err == nil {
				break
			}
			sqldb.Close()
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < tries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", tries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
	log.Info("DATABASE", "PostgreSQL connection successful")
	return sqldb
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return client
}

func newGateway(cfg config.PaymentConfig, log *logger.Logger) (payment.Gateway, error) {
	switch cfg.Provider {
	case config.ProviderMidtrans:
		return services.NewMidtransService(cfg, log)
	case config.ProviderStripe:
		return services.NewStripeService(cfg, log)
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}

// newPublisher returns the Kafka producer, or a no-op publisher when Kafka is
// disabled. The closer is never nil.
func newPublisher(cfg config.KafkaConfig, log *logger.Logger) (order.Publisher, func()) {
	if !cfg.Enabled {
		log.Warn("KAFKA", "Kafka disabled, order lifecycle events will not be published")
		return order.NopPublisher{}, func() {}
	}

	topics := []string{cfg.Topics.OrderCreated, cfg.Topics.OrderPaid, cfg.Topics.OrderCanceled}
	if err := kafka.EnsureTopicsExist(cfg.Brokers, topics, log); err != nil {
		log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	} else {
		log.Info("KAFKA", "Required topics ensured successfully")
	}

	producer := kafka.NewProducer(cfg.Brokers, log)
	log.Info("KAFKA", fmt.Sprintf("Kafka producer initialized for %v", cfg.Brokers))
	return producer, func() {
		if err := producer.Close(); err != nil {
			log.Error("KAFKA", fmt.Sprintf("Failed to close producer: %v", err))
		}
	}
}

func main() {
	cfg := config.Load()

	minLevel := logger.INFO
	if cfg.Log.Debug {
		minLevel = logger.DEBUG
	}
	log, err := logger.New(logger.Options{Dir: cfg.Log.Dir, Prefix: "ms-orders", MinLevel: minLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		log = logger.NewLogger()
	}
	defer log.Close()

	log.Info("APP", "Starting order service")
	ctx := context.Background()

	sqldb := connectPostgres(cfg.Database, log)
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(sqldb, migrations.Options{MigrationsDir: cfg.Database.MigrationsDir}, log)
		if err := runner.Run(); err != nil {
			log.Fatal("MIGRATE", fmt.Sprintf("Migrations failed: %v", err))
		}
	}

	redisClient := connectRedis(ctx, cfg.Redis, log)
	defer redisClient.Close()

	publisher, closePublisher := newPublisher(cfg.Kafka, log)
	defer closePublisher()

	gateway, err := newGateway(cfg.Payment, log)
	if err != nil {
		log.Fatal("PAYMENT", fmt.Sprintf("Payment gateway init failed: %v", err))
	}
	log.Info("PAYMENT", fmt.Sprintf("Using %s payment gateway", gateway.Name()))

	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		log.Fatal("AUTH", fmt.Sprintf("Token verifier init failed: %v", err))
	}

	orderService := order.NewOrderService(
		db.New(bunDB),
		gateway,
		rediswrap.NewRedis(redisClient, log, cfg.Redis.PaymentLockTTL, cfg.Redis.NotificationTTL),
		publisher,
		log,
		order.ConfigFrom(cfg),
	)
	handler := order_api.NewHandler(orderService, log)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      order_api.NewRouter(handler, verifier, cfg.RateLimit),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Order service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	} else {
		log.Info("HTTP", "Order service shutdown complete")
	}
}
