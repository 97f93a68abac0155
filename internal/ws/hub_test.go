package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"convohub/internal/models"
)

type recordingRelay struct {
	mu      sync.Mutex
	targets []Target
}

func (r *recordingRelay) Publish(_ context.Context, target Target, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, target)
	return nil
}

func newTestHub() (*Hub, *Registry, *Rooms) {
	registry := NewRegistry()
	rooms := NewRooms()
	return NewHub(registry, rooms, zap.NewNop()), registry, rooms
}

func eventsOf(t *testing.T, c *fakeConn) []string {
	t.Helper()
	var out []string
	for _, frame := range c.received() {
		var env models.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		out = append(out, env.Event)
	}
	return out
}

func TestHubToRoomReachesEveryJoinedConnection(t *testing.T) {
	hub, registry, rooms := newTestHub()
	phone := newFakeConn("c1", "alice")
	laptop := newFakeConn("c2", "alice")
	bob := newFakeConn("c3", "bob")
	outsider := newFakeConn("c4", "carol")
	for _, c := range []*fakeConn{phone, laptop, bob, outsider} {
		registry.Add(c)
	}
	rooms.Join(phone, "chat-1")
	rooms.Join(laptop, "chat-1")
	rooms.Join(bob, "chat-1")

	hub.ToRoom("chat-1", models.MustEnvelope(models.EventNewMessage, models.MessageView{ID: "m1"}))

	assert.Equal(t, []string{models.EventNewMessage}, eventsOf(t, phone))
	assert.Equal(t, []string{models.EventNewMessage}, eventsOf(t, laptop))
	assert.Equal(t, []string{models.EventNewMessage}, eventsOf(t, bob))
	assert.Empty(t, outsider.received())
}

func TestHubToRoomExceptSkipsOneConnection(t *testing.T) {
	hub, _, rooms := newTestHub()
	typer := newFakeConn("c1", "alice")
	otherDevice := newFakeConn("c2", "alice")
	rooms.Join(typer, "chat-1")
	rooms.Join(otherDevice, "chat-1")

	hub.ToRoomExcept("chat-1", "c1", models.MustEnvelope(models.EventTypingStart, models.TypingEvent{ChatID: "chat-1"}))

	assert.Empty(t, typer.received())
	assert.Len(t, otherDevice.received(), 1)
}

func TestHubToUsersOutsideRoom(t *testing.T) {
	hub, registry, rooms := newTestHub()
	inRoom := newFakeConn("c1", "bob")
	elsewhere := newFakeConn("c2", "bob")
	registry.Add(inRoom)
	registry.Add(elsewhere)
	rooms.Join(inRoom, "chat-1")

	hub.ToUsersOutsideRoom("chat-1", []string{"bob"}, models.MustEnvelope(models.EventNewChat, models.NewChatEvent{}))

	assert.Empty(t, inRoom.received())
	assert.Equal(t, []string{models.EventNewChat}, eventsOf(t, elsewhere))
}

func TestHubGlobalExcludesUser(t *testing.T) {
	hub, registry, _ := newTestHub()
	alice := newFakeConn("c1", "alice")
	bob := newFakeConn("c2", "bob")
	registry.Add(alice)
	registry.Add(bob)

	hub.Global("alice", models.MustEnvelope(models.EventUserOnline, models.PresenceEvent{UserID: "alice"}))

	assert.Empty(t, alice.received())
	assert.Equal(t, []string{models.EventUserOnline}, eventsOf(t, bob))
}

func TestHubClosesSlowConsumer(t *testing.T) {
	hub, registry, _ := newTestHub()
	slow := newFakeConn("c1", "alice")
	slow.full = true
	fast := newFakeConn("c2", "alice")
	registry.Add(slow)
	registry.Add(fast)

	hub.ToUsers([]string{"alice"}, models.MustEnvelope(models.EventNewChat, models.NewChatEvent{}))

	assert.True(t, slow.isClosed())
	assert.False(t, fast.isClosed())
	assert.Len(t, fast.received(), 1)
}

func TestHubEvictFromRoom(t *testing.T) {
	hub, registry, rooms := newTestHub()
	relay := &recordingRelay{}
	hub.SetRelay(relay)
	c := newFakeConn("c1", "bob")
	registry.Add(c)
	rooms.Join(c, "chat-1")

	hub.EvictFromRoom("chat-1", "bob")

	assert.False(t, rooms.IsJoined("c1", "chat-1"))
	require.Len(t, relay.targets, 1)
	assert.Equal(t, ScopeEvict, relay.targets[0].Scope)
}

func TestHubForwardsToRelayAndDeliversRelayedFrames(t *testing.T) {
	hub, registry, rooms := newTestHub()
	relay := &recordingRelay{}
	hub.SetRelay(relay)
	c := newFakeConn("c1", "bob")
	registry.Add(c)
	rooms.Join(c, "chat-1")

	hub.ToRoom("chat-1", models.MustEnvelope(models.EventMessageEdited, models.MessageView{ID: "m1"}))
	require.Len(t, relay.targets, 1)
	assert.Equal(t, Target{Scope: ScopeRoom, ChatID: "chat-1"}, relay.targets[0])

	frame, err := json.Marshal(models.MustEnvelope(models.EventMessageDeleted, models.MessageView{ID: "m1"}))
	require.NoError(t, err)
	hub.DeliverLocal(relay.targets[0], frame)

	assert.Equal(t, []string{models.EventMessageEdited, models.EventMessageDeleted}, eventsOf(t, c))
}
