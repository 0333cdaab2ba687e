// Package events publishes account lifecycle events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/MGallo-Code/kiosk/internal/store"
)

// Exchange is the durable topic exchange for account events.
const Exchange = "kiosk.accounts"

// TypeAccountCreated is set on events published after signup verification.
const TypeAccountCreated = "account.created"

// Event is the JSON body of every published message.
type Event struct {
	Type       string     `json:"type"`
	AccountID  string     `json:"account_id"`
	Role       store.Role `json:"role"`
	Email      string     `json:"email"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// AccountCreated builds the event for a newly created account.
func AccountCreated(acct *store.Account, at time.Time) Event {
	return Event{
		Type:       TypeAccountCreated,
		AccountID:  acct.ID.String(),
		Role:       acct.Role,
		Email:      acct.Email,
		OccurredAt: at.UTC(),
	}
}

// RoutingKey is account.<role>.<verb>, e.g. account.seller.created.
func (e Event) RoutingKey() string {
	switch e.Type {
	case TypeAccountCreated:
		return "account." + string(e.Role) + ".created"
	}
	return "account." + string(e.Role) + ".unknown"
}

// Publisher sends account events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes to Exchange over one channel.
// amqp channels are not safe for concurrent publishes, so Publish serializes.
type AMQPPublisher struct {
	mu   sync.Mutex
	conn *amqp.Connection
	ch   channel
}

// DialAMQP connects, opens a channel and declares Exchange.
func DialAMQP(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", Exchange, err)
	}
	return &AMQPPublisher{conn: conn, ch: ch}, nil
}

// Publish sends e as a persistent JSON message.
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	msgID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generating message id: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, Exchange, e.RoutingKey(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msgID.String(),
		Timestamp:    e.OccurredAt,
		Type:         e.Type,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing %s: %w", e.RoutingKey(), err)
	}
	return nil
}

// Close closes the channel then the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	chErr := p.ch.Close()
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return err
		}
	}
	return chErr
}

// NopPublisher drops events. Used when AMQP_URL is unset.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, e Event) error {
	slog.DebugContext(ctx, "event suppressed, amqp not configured", "routing_key", e.RoutingKey())
	return nil
}

func (NopPublisher) Close() error { return nil }
