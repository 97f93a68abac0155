// Package relay fans broadcast frames out to the other server nodes over
// Redis pub/sub.
package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"convohub/internal/observability"
	"convohub/internal/ws"
)

// Sink delivers a relayed frame to this node's connections.
type Sink interface {
	DeliverLocal(target ws.Target, frame []byte)
}

type message struct {
	Node   string    `json:"node"`
	Target ws.Target `json:"target"`
	Frame  []byte    `json:"frame,omitempty"`
}

// RedisRelay publishes every local broadcast on one channel and replays
// frames from other nodes into the local hub.
type RedisRelay struct {
	client  *redis.Client
	channel string
	nodeID  string
	log     *zap.Logger
}

func NewRedisRelay(client *redis.Client, prefix string, log *zap.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: fmt.Sprintf("%s:broadcast", prefix),
		nodeID:  uuid.NewString(),
		log:     log,
	}
}

// NodeID identifies this process on the channel.
func (r *RedisRelay) NodeID() string { return r.nodeID }

func (r *RedisRelay) Publish(ctx context.Context, target ws.Target, frame []byte) error {
	payload, err := encode(r.nodeID, target, frame)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Run subscribes until ctx is done.
func (r *RedisRelay) Run(ctx context.Context, sink Sink) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Info("relay subscribed", zap.String("channel", r.channel), zap.String("node_id", r.nodeID))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle([]byte(msg.Payload), sink)
		}
	}
}

func (r *RedisRelay) handle(payload []byte, sink Sink) {
	var m message
	if err := json.Unmarshal(payload, &m); err != nil {
		observability.IncEventPublishError("relay_decode")
		r.log.Warn("drop malformed relay frame", zap.Error(err))
		return
	}
	// Our own frames were already delivered locally.
	if m.Node == r.nodeID {
		return
	}
	sink.DeliverLocal(m.Target, m.Frame)
}

func encode(nodeID string, target ws.Target, frame []byte) ([]byte, error) {
	return json.Marshal(message{Node: nodeID, Target: target, Frame: frame})
}
