package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/concerthall/reservations/internal/adapters/rabbit"
	"github.com/concerthall/reservations/internal/config"
	"github.com/concerthall/reservations/internal/observability"
	"github.com/concerthall/reservations/internal/postgres"
	"github.com/google/uuid"
)

const (
	pollInterval = 2 * time.Second
	batchSize    = 100
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
	repo := postgres.NewRepository(pool)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	publisher := NewOutboxPublisher(repo, rabbitPub, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go publisher.Run(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown outbox publisher")
}

type OutboxPublisher struct {
	repo      *postgres.Repository
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewOutboxPublisher(repo *postgres.Repository, rabbitPub *rabbit.Publisher, logger observability.Logger) *OutboxPublisher {
	return &OutboxPublisher{repo: repo, rabbitPub: rabbitPub, logger: logger}
}

func (p *OutboxPublisher) Run(ctx context.Context) {
	p.logger.Info("Outbox publisher started")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.drain(ctx); err != nil {
				p.logger.WithError(err).Error("outbox drain failed")
			}
		}
	}
}

// drain publishes staged records in order. The event type doubles as the
// routing key, matching the keys declared on the exchange.
func (p *OutboxPublisher) drain(ctx context.Context) error {
	for {
		records, err := p.repo.GetUnpublishedOutbox(ctx, batchSize)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		for _, rec := range records {
			msg := amqp.Publishing{
				MessageId:   uuid.NewString(),
				ContentType: "application/json",
				Body:        rec.Payload,
			}
			if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
				return err
			}
			if err := p.repo.MarkPublished(ctx, rec.ID, time.Now().UTC()); err != nil {
				return err
			}
		}
		if len(records) < batchSize {
			return nil
		}
	}
}
