package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	mongoadapter "github.com/concerthall/reservations/internal/adapters/mongo"
	"github.com/concerthall/reservations/internal/adapters/rabbit"
	redisadapter "github.com/concerthall/reservations/internal/adapters/redis"
	"github.com/concerthall/reservations/internal/booking"
	"github.com/concerthall/reservations/internal/catalog"
	"github.com/concerthall/reservations/internal/config"
	httphandler "github.com/concerthall/reservations/internal/http"
	"github.com/concerthall/reservations/internal/observability"
	"github.com/concerthall/reservations/internal/postgres"
	"github.com/concerthall/reservations/internal/provider"
	"github.com/concerthall/reservations/internal/ratelimit"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(context.Background(), pool); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}
	repo := postgres.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("reservations"), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)
	rl := ratelimit.New(redisCache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	var remote *provider.Client
	if cfg.Provider.Enabled {
		gate := redisadapter.NewProviderGate(redisClient)
		remote = provider.NewClient(cfg.Provider, gate, logger)
	}

	catalogSvc := catalog.NewService(repo, remoteOrNil(remote), logger)
	bookingSvc := booking.NewService(repo, bookingRemote(remote), catalogSvc, audit, rabbitPub, logger, cfg.HoldTTL)

	ready := func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return err
		}
		return redisClient.Ping(ctx).Err()
	}

	handlers := httphandler.NewHandlers(cfg, catalogSvc, bookingSvc, logger, ready)
	r := httphandler.SetupRouter(handlers, logger, repo, rl)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()
	logger.WithField("addr", cfg.HTTPAddr).Info("api listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}

// A nil *provider.Client stored in an interface is not a nil interface, so
// map disabled explicitly.
func remoteOrNil(c *provider.Client) catalog.Remote {
	if c == nil {
		return nil
	}
	return c
}

func bookingRemote(c *provider.Client) booking.Remote {
	if c == nil {
		return nil
	}
	return c
}
