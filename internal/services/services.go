// Package services holds the synchronous mutation paths shared by the REST
// handlers and the socket handler. Every mutation commits to the store first
// and broadcasts afterwards.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"convohub/internal/apperr"
	"convohub/internal/keylock"
	"convohub/internal/models"
	"convohub/internal/observability"
	"convohub/internal/repositories"
)

var tracer = otel.Tracer("convohub/services")

func startSpan(ctx context.Context, name, userID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("user.id", userID)))
}

// Notifier fans events out to live connections.
type Notifier interface {
	ToRoom(chatID string, env models.Envelope)
	ToUsers(userIDs []string, env models.Envelope)
	ToUsersOutsideRoom(chatID string, userIDs []string, env models.Envelope)
	EvictFromRoom(chatID, userID string)
}

// EventPublisher appends committed mutations to the domain event log.
type EventPublisher interface {
	Publish(ctx context.Context, event models.DomainEvent) error
}

// Auditor records security relevant actions.
type Auditor interface {
	Emit(ctx context.Context, level, action, text, requestID, userID string)
}

// Deps are the collaborators shared by every service.
type Deps struct {
	Store    repositories.Store
	Notifier Notifier
	Events   EventPublisher
	Audit    Auditor
	Log      *zap.Logger
	// Locks serialises write-then-broadcast per chat so subscribers see
	// events in commit order. Services sharing chats must share it.
	Locks *keylock.Locker
}

type base struct {
	store  repositories.Store
	notify Notifier
	events EventPublisher
	audit  Auditor
	log    *zap.Logger
	proj   *Projector
	locks  *keylock.Locker
	now    func() time.Time
	newID  func() string
}

func newBase(d Deps) base {
	b := base{
		store:  d.Store,
		notify: d.Notifier,
		events: d.Events,
		audit:  d.Audit,
		log:    d.Log,
		proj:   NewProjector(d.Store.Users, d.Store.Messages),
		locks:  d.Locks,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	if b.notify == nil {
		b.notify = nopNotifier{}
	}
	if b.events == nil {
		b.events = nopEvents{}
	}
	if b.audit == nil {
		b.audit = nopAudit{}
	}
	if b.locks == nil {
		b.locks = keylock.New()
	}
	if b.log == nil {
		b.log = zap.NewNop()
	}
	return b
}

// memberChat loads chatID and checks that userID belongs to it.
func (b base) memberChat(ctx context.Context, chatID, userID string) (models.Chat, error) {
	if chatID == "" {
		return models.Chat{}, apperr.Validation("chatId is required")
	}
	chat, err := b.store.Chats.GetChat(ctx, chatID)
	if errors.Is(err, repositories.ErrChatNotFound) {
		return models.Chat{}, apperr.NotFound("chat not found")
	}
	if err != nil {
		return models.Chat{}, b.internal("load chat", err, zap.String("chat_id", chatID))
	}
	if !chat.HasMember(userID) {
		b.audit.Emit(ctx, "WARN", "chat.forbidden", "non-member access to chat "+chatID, observability.RequestIDFromContext(ctx), userID)
		return models.Chat{}, apperr.Forbidden("you are not a member of this chat")
	}
	return chat, nil
}

// memberMessage loads messageID and checks that userID belongs to its chat.
func (b base) memberMessage(ctx context.Context, messageID, userID string) (models.Message, models.Chat, error) {
	if messageID == "" {
		return models.Message{}, models.Chat{}, apperr.Validation("messageId is required")
	}
	msg, err := b.store.Messages.GetMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, models.Chat{}, apperr.NotFound("message not found")
	}
	if err != nil {
		return models.Message{}, models.Chat{}, b.internal("load message", err, zap.String("message_id", messageID))
	}
	chat, err := b.memberChat(ctx, msg.ChatID, userID)
	if err != nil {
		return models.Message{}, models.Chat{}, err
	}
	return msg, chat, nil
}

func (b base) user(ctx context.Context, userID string) (models.User, error) {
	user, err := b.store.Users.GetUser(ctx, userID)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return models.User{}, apperr.NotFound("user not found")
	}
	if err != nil {
		return models.User{}, b.internal("load user", err, zap.String("user_id", userID))
	}
	return user, nil
}

// internal logs an unexpected store failure and hides it behind the internal kind.
func (b base) internal(op string, err error, fields ...zap.Field) error {
	b.log.Error(op, append(fields, zap.Error(err))...)
	return apperr.Internal(op, err)
}

// publish records a committed mutation. The write already happened, so a
// failed publish is only logged.
func (b base) publish(ctx context.Context, eventType, chatID, actorID string, payload any) {
	err := b.events.Publish(ctx, models.DomainEvent{
		ID:         b.newID(),
		Type:       eventType,
		ChatID:     chatID,
		ActorID:    actorID,
		OccurredAt: b.now(),
		Payload:    payload,
	})
	if err != nil {
		b.log.Warn("publish domain event", zap.String("type", eventType), zap.Error(err))
	}
}

func (b base) auditInfo(ctx context.Context, action, text, userID string) {
	b.audit.Emit(ctx, "INFO", action, text, observability.RequestIDFromContext(ctx), userID)
}

type nopNotifier struct{}

func (nopNotifier) ToRoom(string, models.Envelope)                       {}
func (nopNotifier) ToUsers([]string, models.Envelope)                    {}
func (nopNotifier) ToUsersOutsideRoom(string, []string, models.Envelope) {}
func (nopNotifier) EvictFromRoom(string, string)                         {}

type nopEvents struct{}

func (nopEvents) Publish(context.Context, models.DomainEvent) error { return nil }

type nopAudit struct{}

func (nopAudit) Emit(context.Context, string, string, string, string, string) {}
