package rabbit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const Exchange = "reservations.events"

// Routing keys for ticket lifecycle events and operator alerts.
const (
	KeyTicketReserved      = "ticket.reserved"
	KeyTicketPaid          = "ticket.paid"
	KeyTicketPaymentFailed = "ticket.payment_failed"
	KeyTicketCancelled     = "ticket.cancelled"
	KeyTicketExpired       = "ticket.expired"
	KeyInconsistency       = "reservation.inconsistency"
)

type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	return &Publisher{ch: ch}, nil
}

func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	return p.ch.PublishWithContext(ctx, Exchange, key, false, false, msg)
}

// PublishJSON marshals v and publishes it under the given routing key.
func (p *Publisher) PublishJSON(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.Publish(ctx, key, amqp.Publishing{
		MessageId:   uuid.NewString(),
		ContentType: "application/json",
		Body:        body,
	})
}
