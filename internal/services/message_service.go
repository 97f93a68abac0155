package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"convohub/internal/apperr"
	"convohub/internal/models"
	"convohub/internal/observability"
	"convohub/internal/repositories"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
	pinAttempts      = 3
)

// MessageService applies the message state machine: create, edit once,
// delete for me, delete for everyone, react and pin.
type MessageService struct {
	base
}

func NewMessageService(d Deps) *MessageService {
	return &MessageService{base: newBase(d)}
}

// Create stores a message from userID and broadcasts new-message to the
// room. The first message of a chat also reaches every member's personal
// channel with new-chat, since they may not know the chat exists yet.
func (s *MessageService) Create(ctx context.Context, userID string, in models.NewMessage) (models.MessageView, error) {
	ctx, span := startSpan(ctx, "message.create", userID)
	defer span.End()

	in.ChatID = strings.TrimSpace(in.ChatID)
	if in.Type == "" {
		in.Type = models.MessageTypeText
	}
	if !in.Type.Valid() {
		return models.MessageView{}, apperr.Validation("unsupported message type")
	}
	if in.Type != models.MessageTypeText && in.FileURL == "" {
		return models.MessageView{}, apperr.Validation("fileUrl is required for attachments")
	}
	text := strings.TrimSpace(in.Text)
	if text == "" && in.FileURL != "" {
		name := in.FileName
		if name == "" {
			name = "attachment"
		}
		text = "📎 " + name
	}
	if text == "" {
		return models.MessageView{}, apperr.Validation("message text is required")
	}

	chat, err := s.memberChat(ctx, in.ChatID, userID)
	if err != nil {
		return models.MessageView{}, err
	}
	if in.ReplyTo != "" {
		parent, err := s.store.Messages.GetMessage(ctx, in.ReplyTo)
		if errors.Is(err, repositories.ErrMessageNotFound) || (err == nil && parent.ChatID != chat.ID) {
			return models.MessageView{}, apperr.Validation("replyTo must reference a message in the same chat")
		}
		if err != nil {
			return models.MessageView{}, s.internal("load reply target", err, zap.String("message_id", in.ReplyTo))
		}
	}

	unlock := s.locks.Lock(chat.ID)
	defer unlock()

	prior, err := s.store.Messages.CountMessages(ctx, chat.ID)
	if err != nil {
		return models.MessageView{}, s.internal("count messages", err, zap.String("chat_id", chat.ID))
	}

	now := s.now()
	created, err := s.store.Messages.CreateMessage(ctx, models.Message{
		ID:         s.newID(),
		ChatID:     chat.ID,
		SenderID:   userID,
		Type:       in.Type,
		Text:       text,
		FileURL:    in.FileURL,
		FileName:   in.FileName,
		SeenBy:     []string{userID},
		DeletedFor: []string{},
		Reactions:  []models.Reaction{},
		ReplyTo:    in.ReplyTo,
		CreatedAt:  now,
	})
	if errors.Is(err, repositories.ErrChatNotFound) {
		return models.MessageView{}, apperr.NotFound("chat not found")
	}
	if err != nil {
		observability.IncMessageMutation("create", "error")
		return models.MessageView{}, s.internal("create message", err, zap.String("chat_id", chat.ID))
	}
	// The message is committed; a stale lastMessage pointer is repaired by the next send.
	if err := s.store.Chats.SetLastMessage(ctx, chat.ID, created.ID, now); err != nil {
		observability.IncMessageMutation("create", "last_message_error")
		s.log.Warn("set last message", zap.String("chat_id", chat.ID), zap.Error(err))
	}
	observability.IncMessageMutation("create", "ok")

	view, err := s.proj.Message(ctx, created)
	if err != nil {
		return models.MessageView{}, s.internal("project message", err, zap.String("message_id", created.ID))
	}
	s.notify.ToRoom(chat.ID, models.MustEnvelope(models.EventNewMessage, view))
	if prior == 0 {
		chat.LastMessage = created.ID
		chat.UpdatedAt = now
		chatView, err := s.proj.Chat(ctx, chat)
		if err != nil {
			s.log.Warn("project new chat", zap.String("chat_id", chat.ID), zap.Error(err))
		} else {
			s.notify.ToUsersOutsideRoom(chat.ID, chat.OtherMembers(userID), models.MustEnvelope(models.EventNewMessage, view))
			s.notify.ToUsers(chat.Members, models.MustEnvelope(models.EventNewChat, models.NewChatEvent{Chat: chatView, Message: &view}))
		}
	}
	unlock()

	s.publish(ctx, "message.created", chat.ID, userID, view)
	return view, nil
}

// History returns one page of chat history, oldest message first. Page 1
// is the most recent page.
func (s *MessageService) History(ctx context.Context, userID, chatID string, page, limit int) (models.MessagePage, error) {
	if _, err := s.memberChat(ctx, chatID, userID); err != nil {
		return models.MessagePage{}, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	msgs, total, err := s.store.Messages.ListMessages(ctx, chatID, userID, (page-1)*limit, limit)
	if err != nil {
		return models.MessagePage{}, s.internal("list messages", err, zap.String("chat_id", chatID))
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	views, err := s.proj.Messages(ctx, msgs)
	if err != nil {
		return models.MessagePage{}, s.internal("project messages", err, zap.String("chat_id", chatID))
	}
	return models.MessagePage{Messages: views, TotalMessages: total, Page: page, Limit: limit}, nil
}

// Pinned lists the chat's pinned messages visible to userID.
func (s *MessageService) Pinned(ctx context.Context, userID, chatID string) ([]models.MessageView, error) {
	if _, err := s.memberChat(ctx, chatID, userID); err != nil {
		return nil, err
	}
	msgs, err := s.store.Messages.ListPinned(ctx, chatID, userID)
	if err != nil {
		return nil, s.internal("list pinned", err, zap.String("chat_id", chatID))
	}
	views, err := s.proj.Messages(ctx, msgs)
	if err != nil {
		return nil, s.internal("project messages", err, zap.String("chat_id", chatID))
	}
	return views, nil
}

// MarkSeen adds userID to the message's seenBy set.
func (s *MessageService) MarkSeen(ctx context.Context, userID, messageID string) (models.MessageView, error) {
	msg, chat, err := s.memberMessage(ctx, messageID, userID)
	if err != nil {
		return models.MessageView{}, err
	}
	unlock := s.locks.Lock(chat.ID)
	defer unlock()

	already := contains(msg.SeenBy, userID)
	updated, err := s.store.Messages.AddSeen(ctx, messageID, userID)
	if err != nil {
		return models.MessageView{}, s.mutationErr("seen", messageID, err)
	}
	if !already {
		s.notify.ToRoom(chat.ID, models.MustEnvelope(models.EventSeen, models.SeenEvent{
			MessageID: updated.ID,
			ChatID:    chat.ID,
			UserID:    userID,
			SeenBy:    updated.SeenBy,
		}))
	}
	return s.view(ctx, updated)
}

// MarkAllSeen marks every message of the chat as seen by userID.
func (s *MessageService) MarkAllSeen(ctx context.Context, userID, chatID string) (int64, error) {
	chat, err := s.memberChat(ctx, chatID, userID)
	if err != nil {
		return 0, err
	}
	unlock := s.locks.Lock(chat.ID)
	defer unlock()

	updated, err := s.store.Messages.MarkAllSeen(ctx, chat.ID, userID)
	if err != nil {
		return 0, s.internal("mark all seen", err, zap.String("chat_id", chat.ID))
	}
	if updated > 0 {
		s.notify.ToRoom(chat.ID, models.MustEnvelope(models.EventMessagesSeen, models.ChatSeenEvent{
			ChatID:  chat.ID,
			UserID:  userID,
			Updated: updated,
		}))
	}
	return updated, nil
}

// Edit replaces the text of the sender's message. A message can be edited
// once; the store enforces it with a conditional write.
func (s *MessageService) Edit(ctx context.Context, userID, messageID, text string) (models.MessageView, error) {
	ctx, span := startSpan(ctx, "message.edit", userID)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return models.MessageView{}, apperr.Validation("message text is required")
	}
	msg, chat, err := s.memberMessage(ctx, messageID, userID)
	if err != nil {
		return models.MessageView{}, err
	}
	if msg.SenderID != userID {
		return models.MessageView{}, s.forbidden(ctx, "message.edit", "only the sender can edit this message", userID)
	}

	unlock := s.locks.Lock(chat.ID)
	defer unlock()

	updated, err := s.store.Messages.EditMessage(ctx, messageID, userID, text, s.now())
	if errors.Is(err, repositories.ErrNotApplied) {
		observability.IncMessageMutation("edit", "conflict")
		if updated.IsDeleted {
			return models.MessageView{}, apperr.Conflict("message has been deleted").WithReason("message_deleted")
		}
		return models.MessageView{}, apperr.Conflict("message has already been edited").WithReason("already_edited")
	}
	if err != nil {
		return models.MessageView{}, s.mutationErr("edit", messageID, err)
	}
	observability.IncMessageMutation("edit", "ok")

	view, err := s.view(ctx, updated)
	if err != nil {
		return models.MessageView{}, err
	}
	s.notify.ToRoom(chat.ID, models.MustEnvelope(models.EventMessageEdited, view))
	unlock()

	s.publish(ctx, "message.edited", chat.ID, userID, view)
	s.auditInfo(ctx, "message.edit", "edited message "+messageID, userID)
	return view, nil
}

// DeleteForMe hides the message from userID only. Nobody else is notified.
func (s *MessageService) DeleteForMe(ctx context.Context, userID, messageID string) error {
	_, _, err := s.memberMessage(ctx, messageID, userID)
	if err != nil {
		return err
	}
	if _, err := s.store.Messages.DeleteForUser(ctx, messageID, userID); err != nil {
		return s.mutationErr("delete for me", messageID, err)
	}
	observability.IncMessageMutation("delete_for_me", "ok")
	return nil
}

// DeleteForEveryone tombstones the sender's message. Repeating it on a
// deleted message succeeds without a second broadcast.
func (s *MessageService) DeleteForEveryone(ctx context.Context, userID, messageID string) (models.MessageView, error) {
	ctx, span := startSpan(ctx, "message.delete", userID)
	defer span.End()

	msg, chat, err := s.memberMessage(ctx, messageID, userID)
	if err != nil {
		return models.MessageView{}, err
	}
	if msg.SenderID != userID {
		return models.MessageView{}, s.forbidden(ctx, "message.delete", "only the sender can delete this message for everyone", userID)
	}

	unlock := s.locks.Lock(chat.ID)
	defer unlock()

	updated, err := s.store.Messages.DeleteForEveryone(ctx, messageID, userID, models.DeletedPlaceholder, s.now())
	if errors.Is(err, repositories.ErrNotApplied) {
		if !updated.IsDeleted {
			return models.MessageView{}, apperr.Forbidden("only the sender can delete this message for everyone")
		}
		observability.IncMessageMutation("delete_for_everyone", "noop")
		return s.view(ctx, updated)
	}
	if err != nil {
		return models.MessageView{}, s.mutationErr("delete for everyone", messageID, err)
	}
	observability.IncMessageMutation("delete_for_everyone", "ok")

	view, err := s.view(ctx, updated)
	if err != nil {
		return models.MessageView{}, err
	}
	s.notify.ToRoom(chat.ID, models.MustEnvelope(models.EventMessageDeleted, view))
	unlock()

	s.publish(ctx, "message.deleted", chat.ID, userID, view)
	s.auditInfo(ctx, "message.delete", "deleted message "+messageID+" for everyone", userID)
	return view, nil
}

// React sets userID's reaction, replacing any previous one.
func (s *MessageService) React(ctx context.Context, userID, messageID, emoji string) (models.MessageView, error) {
	ctx, span := startSpan(ctx, "message.react", userID)
	defer span.End()

	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return models.MessageView{}, apperr.Validation("emoji is required")
	}
	_, chat, err := s.memberMessage(ctx, messageID, userID)
	if err != nil {
		return models.MessageView{}, err
	}

	unlock := s.locks.Lock(chat.ID)
	defer unlock()

	updated, err := s.store.Messages.UpsertReaction(ctx, messageID, models.Reaction{UserID: userID, Emoji: emoji, ReactedAt: s.now()})
	if errors.Is(err, repositories.ErrNotApplied) {
		observability.IncMessageMutation("react", "conflict")
		return models.MessageView{}, apperr.Conflict("message has been deleted").WithReason("message_deleted")
	}
	if err != nil {
		return models.MessageView{}, s.mutationErr("react", messageID, err)
	}
	observability.IncMessageMutation("react", "ok")
	return s.broadcastReaction(ctx, chat.ID, userID, updated, unlock)
}

// Unreact removes userID's reaction if there is one.
func (s *MessageService) Unreact(ctx context.Context, userID, messageID string) (models.MessageView, error) {
	msg, chat, err := s.memberMessage(ctx, messageID, userID)
	if err != nil {
		return models.MessageView{}, err
	}
	if _, ok := msg.ReactionOf(userID); !ok {
		return s.view(ctx, msg)
	}

	unlock := s.locks.Lock(chat.ID)
	defer unlock()

	updated, err := s.store.Messages.RemoveReaction(ctx, messageID, userID)
	if err != nil {
		return models.MessageView{}, s.mutationErr("unreact", messageID, err)
	}
	observability.IncMessageMutation("unreact", "ok")
	return s.broadcastReaction(ctx, chat.ID, userID, updated, unlock)
}

// broadcastReaction releases the chat lock once the room is notified.
func (s *MessageService) broadcastReaction(ctx context.Context, chatID, userID string, msg models.Message, unlock func()) (models.MessageView, error) {
	view, err := s.view(ctx, msg)
	if err != nil {
		return models.MessageView{}, err
	}
	s.notify.ToRoom(chatID, models.MustEnvelope(models.EventMessageReacted, view))
	unlock()

	s.publish(ctx, "message.reacted", chatID, userID, view)
	return view, nil
}

// TogglePin flips the pinned state. Any member may pin.
func (s *MessageService) TogglePin(ctx context.Context, userID, messageID string) (models.MessageView, error) {
	ctx, span := startSpan(ctx, "message.pin", userID)
	defer span.End()

	msg, chat, err := s.memberMessage(ctx, messageID, userID)
	if err != nil {
		return models.MessageView{}, err
	}

	unlock := s.locks.Lock(chat.ID)
	defer unlock()

	for attempt := 0; attempt < pinAttempts; attempt++ {
		pin := !msg.IsPinned
		updated, err := s.store.Messages.SetPinned(ctx, messageID, pin, userID, s.now())
		if errors.Is(err, repositories.ErrNotApplied) {
			if pin && updated.IsDeleted {
				return models.MessageView{}, apperr.Conflict("message has been deleted").WithReason("message_deleted")
			}
			// Someone else flipped it first; retry against the fresh state.
			msg = updated
			continue
		}
		if err != nil {
			return models.MessageView{}, s.mutationErr("pin", messageID, err)
		}
		observability.IncMessageMutation("pin", "ok")

		view, err := s.view(ctx, updated)
		if err != nil {
			return models.MessageView{}, err
		}
		s.notify.ToRoom(chat.ID, models.MustEnvelope(models.EventMessagePinned, view))
		unlock()

		s.publish(ctx, "message.pinned", chat.ID, userID, view)
		return view, nil
	}
	observability.IncMessageMutation("pin", "conflict")
	return models.MessageView{}, apperr.Conflict("message pin state is changing, try again")
}

func (s *MessageService) view(ctx context.Context, msg models.Message) (models.MessageView, error) {
	view, err := s.proj.Message(ctx, msg)
	if err != nil {
		return models.MessageView{}, s.internal("project message", err, zap.String("message_id", msg.ID))
	}
	return view, nil
}

func (s *MessageService) mutationErr(op, messageID string, err error) error {
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return apperr.NotFound("message not found")
	}
	observability.IncMessageMutation(strings.ReplaceAll(op, " ", "_"), "error")
	return s.internal(op, err, zap.String("message_id", messageID))
}

func (s *MessageService) forbidden(ctx context.Context, action, msg, userID string) error {
	s.audit.Emit(ctx, "WARN", action, msg, observability.RequestIDFromContext(ctx), userID)
	return apperr.Forbidden(msg)
}

func contains(set []string, id string) bool {
	for _, v := range set {
		if v == id {
			return true
		}
	}
	return false
}
