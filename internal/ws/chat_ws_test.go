package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"convohub/internal/apperr"
	"convohub/internal/models"
	"convohub/internal/repositories"
)

type stubVerifier struct{}

func (stubVerifier) Verify(token string) (string, error) {
	if strings.HasPrefix(token, "token-") {
		return strings.TrimPrefix(token, "token-"), nil
	}
	return "", errors.New("bad token")
}

type stubUsers struct{}

func (stubUsers) GetUser(_ context.Context, userID string) (models.User, error) {
	if userID == "ghost" {
		return models.User{}, repositories.ErrUserNotFound
	}
	return models.User{ID: userID, Name: strings.ToUpper(userID)}, nil
}

type stubMessages struct{}

func (stubMessages) Create(_ context.Context, userID string, in models.NewMessage) (models.MessageView, error) {
	if in.ChatID == "forbidden" {
		return models.MessageView{}, apperr.Forbidden("not a member of this chat")
	}
	return models.MessageView{ID: "m1", ChatID: in.ChatID, Sender: models.UserSummary{ID: userID}, Text: in.Text}, nil
}

func (stubMessages) MarkSeen(_ context.Context, _ string, messageID string) (models.MessageView, error) {
	return models.MessageView{ID: messageID}, nil
}

type presenceCall struct {
	userID string
	edge   bool
	online bool
}

type recordingPresence struct {
	mu    sync.Mutex
	calls []presenceCall
}

func (p *recordingPresence) Connected(_ context.Context, userID string, first bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, presenceCall{userID: userID, edge: first, online: true})
}

func (p *recordingPresence) Disconnected(_ context.Context, userID string, last bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, presenceCall{userID: userID, edge: last, online: false})
}

func (p *recordingPresence) snapshot() []presenceCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]presenceCall(nil), p.calls...)
}

type socketFixture struct {
	server   *httptest.Server
	registry *Registry
	presence *recordingPresence
}

func newSocketFixture(t *testing.T) *socketFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := NewRegistry()
	rooms := NewRooms()
	hub := NewHub(registry, rooms, zap.NewNop())
	presence := &recordingPresence{}
	handler := NewChatWebSocketHandler(stubVerifier{}, stubUsers{}, registry, rooms, hub, stubMessages{}, presence, ClientConfig{
		SendBuffer:      16,
		WriteWait:       time.Second,
		PongWait:        5 * time.Second,
		PingPeriod:      4 * time.Second,
		MaxMessageBytes: 4096,
	}, zap.NewNop())

	router := gin.New()
	router.GET("/ws", handler.Handle)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &socketFixture{server: server, registry: registry, presence: presence}
}

func (f *socketFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event, ref string, data any) {
	t.Helper()
	env := models.MustEnvelope(event, data)
	env.Ref = ref
	require.NoError(t, conn.WriteJSON(env))
}

func readEvent(t *testing.T, conn *websocket.Conn) models.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env models.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestHandleRejectsMissingOrInvalidToken(t *testing.T) {
	f := newSocketFixture(t)
	base := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"

	tests := []struct {
		name  string
		query string
	}{
		{name: "missing token", query: ""},
		{name: "invalid token", query: "?token=nope"},
		{name: "unknown user", query: "?token=token-ghost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(base+tt.query, nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
	assert.Empty(t, f.registry.OnlineUsers())
}

func TestJoinRoomAcknowledgesWithRef(t *testing.T) {
	f := newSocketFixture(t)
	conn := f.dial(t, "token-alice")

	sendEvent(t, conn, models.EventJoinRoom, "r1", models.RoomRequest{ChatID: "chat-1"})
	env := readEvent(t, conn)

	assert.Equal(t, models.EventRoomJoined, env.Event)
	assert.Equal(t, "r1", env.Ref)
	var room models.RoomEvent
	require.NoError(t, json.Unmarshal(env.Data, &room))
	assert.Equal(t, models.RoomEvent{ChatID: "chat-1", UserID: "alice"}, room)
}

func TestTypingIsRelayedToOthersOnly(t *testing.T) {
	f := newSocketFixture(t)
	alice := f.dial(t, "token-alice")
	bob := f.dial(t, "token-bob")

	sendEvent(t, bob, models.EventJoinRoom, "", models.RoomRequest{ChatID: "chat-1"})
	assert.Equal(t, models.EventRoomJoined, readEvent(t, bob).Event)
	sendEvent(t, alice, models.EventJoinRoom, "", models.RoomRequest{ChatID: "chat-1"})
	assert.Equal(t, models.EventRoomJoined, readEvent(t, alice).Event)
	assert.Equal(t, models.EventUserJoined, readEvent(t, bob).Event)

	sendEvent(t, alice, models.EventTypingStart, "", models.RoomRequest{ChatID: "chat-1"})
	env := readEvent(t, bob)
	assert.Equal(t, models.EventTypingStart, env.Event)
	var typing models.TypingEvent
	require.NoError(t, json.Unmarshal(env.Data, &typing))
	assert.Equal(t, "alice", typing.UserID)
	assert.Equal(t, "ALICE", typing.User.Name)

	// alice's next frame is the reply to this bad event, not her own typing echo
	sendEvent(t, alice, "bogus", "r2", nil)
	assert.Equal(t, models.EventError, readEvent(t, alice).Event)
}

func TestSendMessageOutsideRoomIsAcknowledgedDirectly(t *testing.T) {
	f := newSocketFixture(t)
	conn := f.dial(t, "token-alice")

	sendEvent(t, conn, models.EventSendMessage, "r1", models.NewMessage{ChatID: "chat-1", Text: "hi"})
	env := readEvent(t, conn)

	assert.Equal(t, models.EventNewMessage, env.Event)
	assert.Equal(t, "r1", env.Ref)
	var view models.MessageView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "hi", view.Text)
}

func TestFailuresAreReportedToTheSender(t *testing.T) {
	f := newSocketFixture(t)
	conn := f.dial(t, "token-alice")

	tests := []struct {
		name  string
		event string
		data  any
		kind  apperr.Kind
	}{
		{name: "unknown event", event: "bogus", data: map[string]string{}, kind: apperr.KindValidation},
		{name: "missing chat id", event: models.EventJoinRoom, data: models.RoomRequest{}, kind: apperr.KindValidation},
		{name: "forbidden send", event: models.EventSendMessage, data: models.NewMessage{ChatID: "forbidden", Text: "x"}, kind: apperr.KindForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sendEvent(t, conn, tt.event, tt.name, tt.data)
			env := readEvent(t, conn)
			require.Equal(t, models.EventError, env.Event)
			var ev models.ErrorEvent
			require.NoError(t, json.Unmarshal(env.Data, &ev))
			assert.Equal(t, string(tt.kind), ev.Kind)
			assert.Equal(t, tt.name, ev.Ref)
		})
	}
}

func TestPresenceEdgesFollowConnectionCount(t *testing.T) {
	f := newSocketFixture(t)
	first := f.dial(t, "token-alice")
	second := f.dial(t, "token-alice")

	require.Eventually(t, func() bool { return f.registry.Count("alice") == 2 }, time.Second, 10*time.Millisecond)

	_ = first.Close()
	require.Eventually(t, func() bool { return f.registry.Count("alice") == 1 }, time.Second, 10*time.Millisecond)
	_ = second.Close()
	require.Eventually(t, func() bool { return len(f.presence.snapshot()) == 4 }, time.Second, 10*time.Millisecond)

	assert.ElementsMatch(t, []presenceCall{
		{userID: "alice", edge: true, online: true},
		{userID: "alice", edge: false, online: true},
		{userID: "alice", edge: false, online: false},
		{userID: "alice", edge: true, online: false},
	}, f.presence.snapshot())
}
