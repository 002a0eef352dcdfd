// Package events publishes message lifecycle notifications to an AMQP
// exchange for downstream consumers (notifications, analytics). The
// messaging core never depends on a consumer being present.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hirewire/messaging/internal/logging"
)

// Routing keys for lifecycle notifications.
const (
	KeyMessageSent      = "message.sent"
	KeyMessageDelivered = "message.delivered"
	KeyMessageRead      = "message.read"
	KeyMessageDeleted   = "message.deleted"
)

// LifecycleEvent is the payload published per transition.
type LifecycleEvent struct {
	MessageID   int64  `json:"messageId"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	Status      string `json:"status"`
	OccurredAt  int64  `json:"occurredAt"`
}

// Publisher emits lifecycle events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event *LifecycleEvent) error
	Close() error
}

// AMQPPublisher publishes to a topic exchange over one channel.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, event *LifecycleEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
}

func (p *AMQPPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		return err
	}
	return p.conn.Close()
}

// FallbackPublisher logs and drops events. Used when no broker is
// configured or the broker is unreachable at startup.
type FallbackPublisher struct {
	logger logging.Logger
}

func NewFallbackPublisher(logger logging.Logger) *FallbackPublisher {
	return &FallbackPublisher{logger: logger}
}

func (p *FallbackPublisher) Publish(ctx context.Context, routingKey string, event *LifecycleEvent) error {
	p.logger.Debug(ctx, "event dropped, no broker", "routing_key", routingKey, "message_id", event.MessageID)
	return nil
}

func (p *FallbackPublisher) Close() error {
	return nil
}
