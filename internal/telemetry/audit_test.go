package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	keys   []string
	events []any
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, event any) error {
	p.keys = append(p.keys, routingKey)
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func TestAuditEmitterPublishesEnvelope(t *testing.T) {
	pub := &recordingPublisher{}
	emitter := NewAuditEmitter(pub, "audit.chat", "convohub", "test", zap.NewNop())
	emitter.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	emitter.Emit(context.Background(), "INFO", "message.edit", "edited m1", "req-1", "user-1")

	require.Len(t, pub.events, 1)
	assert.Equal(t, "audit.chat", pub.keys[0])
	env := pub.events[0].(AuditEnvelope)
	assert.Equal(t, "audit_log", env.EventType)
	assert.Equal(t, "2024-01-02T03:04:05Z", env.OccurredAt)
	assert.Equal(t, "user-1", env.UserID)
	assert.Equal(t, "message.edit", env.Payload.Action)
}

func TestAuditEmitterSwallowsPublishErrors(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("down")}
	emitter := NewAuditEmitter(pub, "audit.chat", "convohub", "test", zap.NewNop())

	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "WARN", "auth.denied", "forbidden", "req-2", "")
	})
}

func TestNilAuditEmitterIsSafe(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "INFO", "x", "y", "", "")
	})
}

func TestInitTracerWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "", "convohub")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
