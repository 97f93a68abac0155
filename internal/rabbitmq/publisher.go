package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"convohub/internal/observability"
	"convohub/internal/telemetry"
)

// Publisher publishes audit and socket lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher builds a RabbitMQ publisher or a noop publisher when AMQP is disabled.
func NewPublisher(amqpURL, exchange string, log *zap.Logger) Publisher {
	if amqpURL == "" {
		log.Info("rabbitmq disabled, using noop", zap.String("reason", "empty amqp url"))
		return noopPublisher{reason: "empty amqp url", log: log}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		log.Warn("rabbitmq disabled, using noop", zap.Error(err))
		return noopPublisher{reason: err.Error(), log: log}
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Warn("rabbitmq disabled, using noop", zap.Error(err))
		_ = conn.Close()
		return noopPublisher{reason: err.Error(), log: log}
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		log.Warn("rabbitmq disabled, using noop", zap.Error(err))
		_ = ch.Close()
		_ = conn.Close()
		return noopPublisher{reason: err.Error(), log: log}
	}

	log.Info("rabbitmq connected", zap.String("exchange", exchange))
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange, log: log}
}

type amqpPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *zap.Logger
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ch, err := p.channel()
	if err != nil {
		p.log.Warn("rabbitmq channel unavailable", zap.String("routing_key", routingKey), zap.Error(err))
		return err
	}

	err = ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Headers:      headersOf(event),
		Body:         body,
	})
	if err != nil {
		p.log.Warn("rabbitmq publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
	return err
}

// channel reopens the channel after a channel-level error; a closed
// connection is not redialled.
func (p *amqpPublisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	if p.conn.IsClosed() {
		return nil, amqp.ErrClosed
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, err
	}
	p.log.Info("rabbitmq channel reopened", zap.String("exchange", p.exchange))
	p.ch = ch
	return ch, nil
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func headersOf(event any) amqp.Table {
	envelope, ok := event.(observability.EventEnvelope)
	if !ok || len(envelope.Headers) == 0 {
		return nil
	}
	table := amqp.Table{}
	for key, value := range envelope.Headers {
		table[key] = value
	}
	return table
}

type noopPublisher struct {
	reason string
	log    *zap.Logger
}

func (p noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	switch envelope := event.(type) {
	case telemetry.AuditEnvelope:
		p.log.Debug("rabbitmq noop publish", zap.String("routing_key", routingKey), zap.String("event_type", envelope.EventType), zap.String("request_id", envelope.RequestID))
	case observability.EventEnvelope:
		p.log.Debug("rabbitmq noop publish", zap.String("routing_key", routingKey), zap.String("event_name", envelope.EventName))
	default:
		p.log.Debug("rabbitmq noop publish", zap.String("routing_key", routingKey))
	}
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

func PublisherNoopReason(p Publisher) string {
	if publisher, ok := p.(noopPublisher); ok {
		return publisher.reason
	}
	return ""
}
