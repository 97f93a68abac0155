package relay

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"convohub/internal/ws"
)

type recordingSink struct {
	targets []ws.Target
	frames  [][]byte
}

func (s *recordingSink) DeliverLocal(target ws.Target, frame []byte) {
	s.targets = append(s.targets, target)
	s.frames = append(s.frames, frame)
}

func newTestRelay() *RedisRelay {
	return NewRedisRelay(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "test", zap.NewNop())
}

func TestHandleDeliversForeignFrames(t *testing.T) {
	r := newTestRelay()
	sink := &recordingSink{}
	target := ws.Target{Scope: ws.ScopeRoom, ChatID: "c1", ExceptConn: "conn-1"}

	payload, err := encode("other-node", target, []byte(`{"event":"new-message"}`))
	require.NoError(t, err)
	r.handle(payload, sink)

	require.Len(t, sink.targets, 1)
	assert.Equal(t, target, sink.targets[0])
	assert.JSONEq(t, `{"event":"new-message"}`, string(sink.frames[0]))
}

func TestHandleSkipsOwnFrames(t *testing.T) {
	r := newTestRelay()
	sink := &recordingSink{}

	payload, err := encode(r.NodeID(), ws.Target{Scope: ws.ScopeGlobal}, []byte(`{}`))
	require.NoError(t, err)
	r.handle(payload, sink)

	assert.Empty(t, sink.targets)
}

func TestHandleEvictionWithoutFrame(t *testing.T) {
	r := newTestRelay()
	sink := &recordingSink{}

	payload, err := encode("other-node", ws.Target{Scope: ws.ScopeEvict, ChatID: "c1", UserIDs: []string{"u2"}}, nil)
	require.NoError(t, err)
	r.handle(payload, sink)

	require.Len(t, sink.targets, 1)
	assert.Equal(t, ws.ScopeEvict, sink.targets[0].Scope)
	assert.Nil(t, sink.frames[0])
}

func TestHandleDropsMalformedPayload(t *testing.T) {
	r := newTestRelay()
	sink := &recordingSink{}

	r.handle([]byte("not json"), sink)

	assert.Empty(t, sink.targets)
}

func TestRelaySatisfiesHubInterface(t *testing.T) {
	var _ ws.Relay = newTestRelay()
	assert.Equal(t, "test:broadcast", newTestRelay().channel)
}
