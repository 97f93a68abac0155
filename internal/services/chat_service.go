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

// ChatService manages direct chats, groups and group membership.
type ChatService struct {
	base
}

func NewChatService(d Deps) *ChatService {
	return &ChatService{base: newBase(d)}
}

// LeaveResult tells the caller whether leaving emptied and deleted the group.
type LeaveResult struct {
	Chat    *models.ChatView `json:"chat,omitempty"`
	Deleted bool             `json:"deleted"`
}

// OneToOne returns the direct chat between userID and recipientID,
// creating it when absent. created reports whether it is new.
func (s *ChatService) OneToOne(ctx context.Context, userID, recipientID string) (models.ChatView, bool, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return models.ChatView{}, false, apperr.Validation("recipientId is required")
	}
	if recipientID == userID {
		return models.ChatView{}, false, apperr.Validation("cannot start a chat with yourself")
	}
	if _, err := s.user(ctx, recipientID); err != nil {
		return models.ChatView{}, false, err
	}

	now := s.now()
	chat, created, err := s.store.Chats.CreateOrGetDirect(ctx, models.Chat{
		ID:        s.newID(),
		Members:   []string{userID, recipientID},
		DirectKey: models.DirectKey(userID, recipientID),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return models.ChatView{}, false, s.internal("create direct chat", err, zap.String("user_id", userID), zap.String("recipient_id", recipientID))
	}
	view, err := s.chatView(ctx, chat)
	if err != nil {
		return models.ChatView{}, false, err
	}
	if created {
		s.publish(ctx, "chat.created", chat.ID, userID, view)
	}
	return view, created, nil
}

// CreateGroup creates a group administered by userID.
func (s *ChatService) CreateGroup(ctx context.Context, userID, name string, memberIDs []string) (models.ChatView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.ChatView{}, apperr.Validation("group name is required")
	}
	others := newIDSet()
	for _, id := range memberIDs {
		id = strings.TrimSpace(id)
		if id != userID {
			others.add(id)
		}
	}
	if len(others.list) == 0 {
		return models.ChatView{}, apperr.Validation("a group needs at least one other member")
	}
	found, err := s.store.Users.GetUsers(ctx, others.list)
	if err != nil {
		return models.ChatView{}, s.internal("load group members", err)
	}
	for _, id := range others.list {
		if _, ok := found[id]; !ok {
			return models.ChatView{}, apperr.NotFound("user not found: " + id)
		}
	}

	now := s.now()
	chat, err := s.store.Chats.CreateGroup(ctx, models.Chat{
		ID:        s.newID(),
		IsGroup:   true,
		Name:      name,
		Members:   append([]string{userID}, others.list...),
		AdminID:   userID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return models.ChatView{}, s.internal("create group", err, zap.String("user_id", userID))
	}
	view, err := s.chatView(ctx, chat)
	if err != nil {
		return models.ChatView{}, err
	}
	s.notify.ToUsers(chat.Members, models.MustEnvelope(models.EventChatCreated, models.NewChatEvent{Chat: view}))
	s.publish(ctx, "chat.created", chat.ID, userID, view)
	s.auditInfo(ctx, "group.create", "created group "+chat.ID, userID)
	return view, nil
}

// List returns userID's chats, most recently active first.
func (s *ChatService) List(ctx context.Context, userID string) ([]models.ChatView, error) {
	chats, err := s.store.Chats.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, s.internal("list chats", err, zap.String("user_id", userID))
	}
	views, err := s.proj.Chats(ctx, chats)
	if err != nil {
		return nil, s.internal("project chats", err, zap.String("user_id", userID))
	}
	return views, nil
}

func (s *ChatService) Get(ctx context.Context, userID, chatID string) (models.ChatView, error) {
	chat, err := s.memberChat(ctx, chatID, userID)
	if err != nil {
		return models.ChatView{}, err
	}
	return s.chatView(ctx, chat)
}

// AddMember lets the group admin add memberID.
func (s *ChatService) AddMember(ctx context.Context, actorID, chatID, memberID string) (models.ChatView, error) {
	chat, err := s.adminGroup(ctx, chatID, actorID)
	if err != nil {
		return models.ChatView{}, err
	}
	return s.addMember(ctx, chat, actorID, memberID)
}

// addMember skips the admin check; invites use it on behalf of any member.
func (s *ChatService) addMember(ctx context.Context, chat models.Chat, actorID, memberID string) (models.ChatView, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return models.ChatView{}, apperr.Validation("memberId is required")
	}
	if _, err := s.user(ctx, memberID); err != nil {
		return models.ChatView{}, err
	}
	if chat.HasMember(memberID) {
		return models.ChatView{}, apperr.Conflict("user is already a member of this chat")
	}

	unlock := s.locks.Lock(chat.ID)
	defer unlock()

	updated, err := s.store.Chats.AddMember(ctx, chat.ID, memberID, s.now())
	if errors.Is(err, repositories.ErrNotApplied) {
		return models.ChatView{}, apperr.Conflict("user is already a member of this chat")
	}
	if err != nil {
		return models.ChatView{}, s.chatErr("add member", chat.ID, err)
	}
	view, err := s.chatView(ctx, updated)
	if err != nil {
		return models.ChatView{}, err
	}
	env := models.MustEnvelope(models.EventMemberAdded, models.MembershipEvent{Chat: view, UserID: memberID, ActorID: actorID})
	s.notify.ToRoom(chat.ID, env)
	s.notify.ToUsersOutsideRoom(chat.ID, []string{memberID}, env)
	unlock()

	s.publish(ctx, "chat.member_added", chat.ID, actorID, map[string]string{"userId": memberID})
	s.auditInfo(ctx, "group.add_member", "added "+memberID+" to "+chat.ID, actorID)
	return view, nil
}

// RemoveMember lets the group admin remove another member.
func (s *ChatService) RemoveMember(ctx context.Context, actorID, chatID, memberID string) (models.ChatView, error) {
	chat, err := s.adminGroup(ctx, chatID, actorID)
	if err != nil {
		return models.ChatView{}, err
	}
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return models.ChatView{}, apperr.Validation("memberId is required")
	}
	if memberID == actorID {
		return models.ChatView{}, apperr.Validation("the admin cannot remove themselves, leave the group instead")
	}
	if !chat.HasMember(memberID) {
		return models.ChatView{}, apperr.NotFound("user is not a member of this chat")
	}

	unlock := s.locks.Lock(chat.ID)
	defer unlock()

	updated, err := s.store.Chats.RemoveMember(ctx, chat.ID, memberID, s.now())
	if errors.Is(err, repositories.ErrNotApplied) {
		return models.ChatView{}, apperr.Conflict("membership changed, reload the chat")
	}
	if err != nil {
		return models.ChatView{}, s.chatErr("remove member", chat.ID, err)
	}
	view, err := s.chatView(ctx, updated)
	if err != nil {
		return models.ChatView{}, err
	}
	env := models.MustEnvelope(models.EventMemberRemoved, models.MembershipEvent{Chat: view, UserID: memberID, ActorID: actorID})
	s.notify.ToRoom(chat.ID, env)
	s.notify.ToUsersOutsideRoom(chat.ID, []string{memberID}, env)
	s.notify.EvictFromRoom(chat.ID, memberID)
	unlock()

	s.publish(ctx, "chat.member_removed", chat.ID, actorID, map[string]string{"userId": memberID})
	s.auditInfo(ctx, "group.remove_member", "removed "+memberID+" from "+chat.ID, actorID)
	return view, nil
}

// Leave removes userID from a group. A leaving admin hands the group to the
// earliest remaining member; the last member leaving deletes it.
func (s *ChatService) Leave(ctx context.Context, userID, chatID string) (LeaveResult, error) {
	chat, err := s.memberChat(ctx, chatID, userID)
	if err != nil {
		return LeaveResult{}, err
	}
	if !chat.IsGroup {
		return LeaveResult{}, apperr.Validation("only groups can be left")
	}

	unlock := s.locks.Lock(chat.ID)
	defer unlock()

	updated, err := s.store.Chats.Leave(ctx, chat.ID, userID, s.now())
	if errors.Is(err, repositories.ErrNotApplied) {
		return LeaveResult{}, apperr.Forbidden("you are not a member of this chat")
	}
	if err != nil {
		return LeaveResult{}, s.chatErr("leave group", chat.ID, err)
	}

	if len(updated.Members) == 0 {
		if err := s.deleteChat(ctx, chat.ID); err != nil {
			return LeaveResult{}, err
		}
		s.notify.EvictFromRoom(chat.ID, userID)
		unlock()

		s.publish(ctx, "chat.deleted", chat.ID, userID, nil)
		return LeaveResult{Deleted: true}, nil
	}

	view, err := s.chatView(ctx, updated)
	if err != nil {
		return LeaveResult{}, err
	}
	left := models.MustEnvelope(models.EventMemberLeft, models.MembershipEvent{Chat: view, UserID: userID, ActorID: userID})
	s.notify.ToRoom(chat.ID, left)
	s.notify.ToUsersOutsideRoom(chat.ID, []string{userID}, left)
	s.notify.EvictFromRoom(chat.ID, userID)
	if chat.AdminID == userID && updated.AdminID != "" {
		transferred := models.MustEnvelope(models.EventAdminTransferred, models.MembershipEvent{Chat: view, UserID: updated.AdminID, ActorID: userID})
		s.notify.ToRoom(chat.ID, transferred)
		s.notify.ToUsersOutsideRoom(chat.ID, []string{updated.AdminID}, transferred)
	}
	unlock()

	s.publish(ctx, "chat.member_left", chat.ID, userID, map[string]string{"admin": updated.AdminID})
	return LeaveResult{Chat: &view}, nil
}

// TransferAdmin hands the admin role to another member.
func (s *ChatService) TransferAdmin(ctx context.Context, actorID, chatID, memberID string) (models.ChatView, error) {
	chat, err := s.adminGroup(ctx, chatID, actorID)
	if err != nil {
		return models.ChatView{}, err
	}
	memberID = strings.TrimSpace(memberID)
	if memberID == "" || memberID == actorID {
		return models.ChatView{}, apperr.Validation("choose another member as the new admin")
	}
	if !chat.HasMember(memberID) {
		return models.ChatView{}, apperr.Validation("the new admin must be a member of the group")
	}

	unlock := s.locks.Lock(chat.ID)
	defer unlock()

	updated, err := s.store.Chats.SetAdmin(ctx, chat.ID, actorID, memberID, s.now())
	if errors.Is(err, repositories.ErrNotApplied) {
		return models.ChatView{}, apperr.Conflict("group admin changed, reload the chat")
	}
	if err != nil {
		return models.ChatView{}, s.chatErr("transfer admin", chat.ID, err)
	}
	view, err := s.chatView(ctx, updated)
	if err != nil {
		return models.ChatView{}, err
	}
	env := models.MustEnvelope(models.EventAdminTransferred, models.MembershipEvent{Chat: view, UserID: memberID, ActorID: actorID})
	s.notify.ToRoom(chat.ID, env)
	s.notify.ToUsersOutsideRoom(chat.ID, []string{memberID}, env)
	unlock()

	s.publish(ctx, "chat.admin_transferred", chat.ID, actorID, map[string]string{"userId": memberID})
	s.auditInfo(ctx, "group.transfer_admin", "admin of "+chat.ID+" moved to "+memberID, actorID)
	return view, nil
}

// DeleteGroup removes the group and its messages. Admin only.
func (s *ChatService) DeleteGroup(ctx context.Context, actorID, chatID string) error {
	chat, err := s.adminGroup(ctx, chatID, actorID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(chat.ID)
	defer unlock()

	if err := s.deleteChat(ctx, chat.ID); err != nil {
		return err
	}
	env := models.MustEnvelope(models.EventGroupDeleted, models.GroupDeletedEvent{ChatID: chat.ID, ActorID: actorID})
	s.notify.ToRoom(chat.ID, env)
	s.notify.ToUsersOutsideRoom(chat.ID, chat.Members, env)
	for _, id := range chat.Members {
		s.notify.EvictFromRoom(chat.ID, id)
	}
	unlock()

	s.publish(ctx, "chat.deleted", chat.ID, actorID, nil)
	s.auditInfo(ctx, "group.delete", "deleted group "+chat.ID, actorID)
	return nil
}

// deleteChat removes the chat first so a failure never leaves a live chat
// with its history gone. Orphaned messages are unreachable once the chat is.
func (s *ChatService) deleteChat(ctx context.Context, chatID string) error {
	if err := s.store.Chats.DeleteChat(ctx, chatID); err != nil && !errors.Is(err, repositories.ErrChatNotFound) {
		return s.internal("delete chat", err, zap.String("chat_id", chatID))
	}
	if err := s.store.Messages.DeleteChatMessages(ctx, chatID); err != nil {
		s.log.Warn("delete chat messages", zap.String("chat_id", chatID), zap.Error(err))
	}
	return nil
}

func (s *ChatService) adminGroup(ctx context.Context, chatID, actorID string) (models.Chat, error) {
	chat, err := s.memberChat(ctx, chatID, actorID)
	if err != nil {
		return models.Chat{}, err
	}
	if !chat.IsGroup {
		return models.Chat{}, apperr.Validation("this operation applies to groups only")
	}
	if !chat.IsAdmin(actorID) {
		s.audit.Emit(ctx, "WARN", "group.forbidden", "non-admin change to "+chat.ID, observability.RequestIDFromContext(ctx), actorID)
		return models.Chat{}, apperr.Forbidden("only the group admin can do this")
	}
	return chat, nil
}

func (s *ChatService) chatView(ctx context.Context, chat models.Chat) (models.ChatView, error) {
	view, err := s.proj.Chat(ctx, chat)
	if err != nil {
		return models.ChatView{}, s.internal("project chat", err, zap.String("chat_id", chat.ID))
	}
	return view, nil
}

func (s *ChatService) chatErr(op, chatID string, err error) error {
	if errors.Is(err, repositories.ErrChatNotFound) {
		return apperr.NotFound("chat not found")
	}
	return s.internal(op, err, zap.String("chat_id", chatID))
}
