package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"convohub/internal/apperr"
	"convohub/internal/models"
	"convohub/internal/observability"
	"convohub/internal/repositories"
)

const (
	wsKind       = "socket"
	wsRoutingKey = "ws_events.socket"
	eventTimeout = 10 * time.Second
)

// TokenVerifier resolves a bearer token to a principal id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// UserLookup loads the connecting principal.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
}

// MessageOps is the synchronous mutation path shared with REST.
type MessageOps interface {
	Create(ctx context.Context, userID string, in models.NewMessage) (models.MessageView, error)
	MarkSeen(ctx context.Context, userID, messageID string) (models.MessageView, error)
}

// Presence receives connection count edges.
type Presence interface {
	Connected(ctx context.Context, userID string, first bool)
	Disconnected(ctx context.Context, userID string, last bool)
}

// ChatWebSocketHandler admits authenticated socket sessions and dispatches
// their client events.
type ChatWebSocketHandler struct {
	verifier TokenVerifier
	users    UserLookup
	registry *Registry
	rooms    *Rooms
	hub      *Hub
	messages MessageOps
	presence Presence
	cfg      ClientConfig
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(
	verifier TokenVerifier,
	users UserLookup,
	registry *Registry,
	rooms *Rooms,
	hub *Hub,
	messages MessageOps,
	presence Presence,
	cfg ClientConfig,
	log *zap.Logger,
) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{
		verifier: verifier,
		users:    users,
		registry: registry,
		rooms:    rooms,
		hub:      hub,
		messages: messages,
		presence: presence,
		cfg:      cfg,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type session struct {
	client *Client
	user   models.UserSummary
}

// Handle verifies the credential before upgrading; a refused connection is
// never registered.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("convohub/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	token, ok := tokenFromRequest(c.Request)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": string(apperr.KindUnauthenticated), "message": "missing token"})
		return
	}
	userID, err := h.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": string(apperr.KindUnauthenticated), "message": "invalid token"})
		return
	}
	user, err := h.users.GetUser(ctx, userID)
	if errors.Is(err, repositories.ErrUserNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": string(apperr.KindUnauthenticated), "message": "unknown user"})
		return
	}
	if err != nil {
		h.log.Error("load socket user", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": string(apperr.KindInternal), "message": "internal server error"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	s := &session{client: newClient(conn, info, h.cfg), user: user.Summary()}

	first := h.registry.Add(s.client)
	observability.IncWSActive(wsKind)
	observability.IncWSEvent(wsKind, "ws_connect")
	h.publishLifecycle("ws_connect", info, "")

	go s.client.writePump()

	presenceCtx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	h.presence.Connected(presenceCtx, userID, first)
	cancel()

	go h.serve(s)
}

func (h *ChatWebSocketHandler) serve(s *session) {
	err := s.client.readPump(func(frame []byte) { h.dispatch(s, frame) })
	reason := ""
	if err != nil {
		reason = err.Error()
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			observability.IncWSEvent(wsKind, "ws_error")
			h.publishLifecycle("ws_error", s.client.info, reason)
		}
	}
	h.disconnect(s, reason)
}

func (h *ChatWebSocketHandler) disconnect(s *session, reason string) {
	for _, chatID := range h.rooms.LeaveAll(s.client) {
		h.hub.ToRoom(chatID, models.MustEnvelope(models.EventUserLeft, models.RoomEvent{ChatID: chatID, UserID: s.user.ID}))
	}
	last := h.registry.Remove(s.client)
	s.client.Close()

	observability.DecWSActive(wsKind)
	observability.IncWSEvent(wsKind, "ws_disconnect")
	h.publishLifecycle("ws_disconnect", s.client.info, reason)

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	h.presence.Disconnected(ctx, s.user.ID, last)
}

func (h *ChatWebSocketHandler) dispatch(s *session, frame []byte) {
	var env models.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		h.fail(s, "", apperr.Validation("malformed event"))
		return
	}
	observability.IncWSEvent(wsKind, env.Event)
	if !s.client.Allow() {
		h.fail(s, env.Ref, apperr.Validation("rate limited"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	var err error
	switch env.Event {
	case models.EventJoinRoom:
		err = h.joinRoom(s, env)
	case models.EventLeaveRoom:
		err = h.leaveRoom(s, env)
	case models.EventTypingStart, models.EventTypingStop:
		err = h.typing(s, env)
	case models.EventSendMessage:
		err = h.sendMessage(ctx, s, env)
	case models.EventSeen:
		err = h.markSeen(ctx, s, env)
	default:
		err = apperr.Validation("unknown event " + env.Event)
	}
	if err != nil {
		h.fail(s, env.Ref, err)
	}
}

func (h *ChatWebSocketHandler) joinRoom(s *session, env models.Envelope) error {
	chatID, err := roomOf(env)
	if err != nil {
		return err
	}
	if h.rooms.Join(s.client, chatID) {
		h.hub.ToRoomExcept(chatID, s.client.ID(), models.MustEnvelope(models.EventUserJoined, models.RoomEvent{ChatID: chatID, UserID: s.user.ID}))
	}
	ack := models.MustEnvelope(models.EventRoomJoined, models.RoomEvent{ChatID: chatID, UserID: s.user.ID})
	ack.Ref = env.Ref
	h.hub.SendTo(s.client, ack)
	return nil
}

func (h *ChatWebSocketHandler) leaveRoom(s *session, env models.Envelope) error {
	chatID, err := roomOf(env)
	if err != nil {
		return err
	}
	if h.rooms.Leave(s.client, chatID) {
		h.hub.ToRoom(chatID, models.MustEnvelope(models.EventUserLeft, models.RoomEvent{ChatID: chatID, UserID: s.user.ID}))
	}
	return nil
}

// typing is relayed to the room without the emitting connection and is
// never persisted.
func (h *ChatWebSocketHandler) typing(s *session, env models.Envelope) error {
	chatID, err := roomOf(env)
	if err != nil {
		return err
	}
	h.hub.ToRoomExcept(chatID, s.client.ID(), models.MustEnvelope(env.Event, models.TypingEvent{
		ChatID: chatID,
		UserID: s.user.ID,
		User:   s.user,
	}))
	return nil
}

func (h *ChatWebSocketHandler) sendMessage(ctx context.Context, s *session, env models.Envelope) error {
	var in models.NewMessage
	if err := decode(env, &in); err != nil {
		return err
	}
	view, err := h.messages.Create(ctx, s.user.ID, in)
	if err != nil {
		return err
	}
	// Room subscribers already got the broadcast.
	if !h.rooms.IsJoined(s.client.ID(), view.ChatID) {
		ack := models.MustEnvelope(models.EventNewMessage, view)
		ack.Ref = env.Ref
		h.hub.SendTo(s.client, ack)
	}
	return nil
}

func (h *ChatWebSocketHandler) markSeen(ctx context.Context, s *session, env models.Envelope) error {
	var req models.SeenRequest
	if err := decode(env, &req); err != nil {
		return err
	}
	if req.MessageID == "" {
		return apperr.Validation("messageId is required")
	}
	_, err := h.messages.MarkSeen(ctx, s.user.ID, req.MessageID)
	return err
}

// fail reports err to the originating connection only.
func (h *ChatWebSocketHandler) fail(s *session, ref string, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		h.log.Error("socket event failed", append(s.client.info.Fields(), zap.Error(err))...)
	}
	env := models.MustEnvelope(models.EventError, models.ErrorEvent{
		Kind:    string(kind),
		Reason:  apperr.ReasonOf(err),
		Message: apperr.MessageOf(err),
		Ref:     ref,
	})
	env.Ref = ref
	h.hub.SendTo(s.client, env)
}

func (h *ChatWebSocketHandler) publishLifecycle(event string, info ConnInfo, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Headers:   observability.BuildHeaders(info.RequestID, info.TraceID),
		Payload:   info.lifecyclePayload(event, reason, time.Now()),
	})
}

func roomOf(env models.Envelope) (string, error) {
	var req models.RoomRequest
	if err := decode(env, &req); err != nil {
		return "", err
	}
	chatID := strings.TrimSpace(req.ChatID)
	if chatID == "" {
		return "", apperr.Validation("chatId is required")
	}
	return chatID, nil
}

func decode(env models.Envelope, v any) error {
	if len(env.Data) == 0 {
		return apperr.Validation("missing payload")
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return apperr.Validation("invalid payload")
	}
	return nil
}
