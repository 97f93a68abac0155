package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"convohub/internal/models"
	"convohub/internal/services"
)

var (
	_ services.EventPublisher = (*Producer)(nil)
	_ services.EventPublisher = Nop{}
	_ Writer                  = (*kafka.Writer)(nil)
)

type fakeWriter struct {
	msgs  []kafka.Message
	err   error
	calls int
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.calls++
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishKeysByChat(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducer(w, zap.NewNop())
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), models.DomainEvent{ID: "e1", Type: "message.created", ChatID: "c1", ActorID: "u1", OccurredAt: at})

	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "c1", string(w.msgs[0].Key))
	assert.Equal(t, at, w.msgs[0].Time)
	assert.Equal(t, "message.created", string(w.msgs[0].Headers[0].Value))
	assert.Contains(t, string(w.msgs[0].Value), `"type":"message.created"`)
}

func TestPublishFallsBackToActorKey(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducer(w, zap.NewNop())

	require.NoError(t, p.Publish(context.Background(), models.DomainEvent{Type: "invite.sent", ActorID: "u9"}))
	assert.Equal(t, "u9", string(w.msgs[0].Key))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewProducer(w, zap.NewNop())

	for i := 0; i < 5; i++ {
		require.Error(t, p.Publish(context.Background(), models.DomainEvent{Type: "message.created", ChatID: "c1"}))
	}
	assert.Equal(t, gobreaker.StateOpen, p.State())

	err := p.Publish(context.Background(), models.DomainEvent{Type: "message.created", ChatID: "c1"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 5, w.calls)
}
