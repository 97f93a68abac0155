// Package events appends committed chat mutations to a Kafka topic.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"convohub/internal/models"
	"convohub/internal/observability"
)

// Writer is the part of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes domain events through a circuit breaker so a down broker
// costs one fast failure per event instead of a full write timeout.
type Producer struct {
	writer Writer
	cb     *gobreaker.CircuitBreaker
	log    *zap.Logger
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

func NewProducer(writer Writer, log *zap.Logger) *Producer {
	st := gobreaker.Settings{
		Name:        "kafka-events",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &Producer{writer: writer, cb: gobreaker.NewCircuitBreaker(st), log: log}
}

// Publish keys by chat so one chat's events stay ordered within a partition.
func (p *Producer) Publish(ctx context.Context, event models.DomainEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.Type, err)
	}
	key := event.ChatID
	if key == "" {
		key = event.ActorID
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}

	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		observability.IncEventPublishError("kafka")
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			p.log.Debug("event dropped, breaker open", zap.String("type", event.Type))
		} else {
			p.log.Warn("event publish failed", zap.String("type", event.Type), zap.Error(err))
		}
		return err
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// State reports the breaker state for logging.
func (p *Producer) State() gobreaker.State {
	return p.cb.State()
}

// Nop discards events when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, models.DomainEvent) error { return nil }
