package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"convohub/internal/models"
	"convohub/internal/services"
)

type MessageServiceMock struct {
	mock.Mock
}

func (m *MessageServiceMock) Create(ctx context.Context, userID string, in models.NewMessage) (models.MessageView, error) {
	args := m.Called(ctx, userID, in)
	return messageView(args.Get(0)), args.Error(1)
}

func (m *MessageServiceMock) History(ctx context.Context, userID, chatID string, page, limit int) (models.MessagePage, error) {
	args := m.Called(ctx, userID, chatID, page, limit)
	var out models.MessagePage
	if val := args.Get(0); val != nil {
		out = val.(models.MessagePage)
	}
	return out, args.Error(1)
}

func (m *MessageServiceMock) Pinned(ctx context.Context, userID, chatID string) ([]models.MessageView, error) {
	args := m.Called(ctx, userID, chatID)
	var out []models.MessageView
	if val := args.Get(0); val != nil {
		out = val.([]models.MessageView)
	}
	return out, args.Error(1)
}

func (m *MessageServiceMock) MarkSeen(ctx context.Context, userID, messageID string) (models.MessageView, error) {
	args := m.Called(ctx, userID, messageID)
	return messageView(args.Get(0)), args.Error(1)
}

func (m *MessageServiceMock) MarkAllSeen(ctx context.Context, userID, chatID string) (int64, error) {
	args := m.Called(ctx, userID, chatID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageServiceMock) Edit(ctx context.Context, userID, messageID, text string) (models.MessageView, error) {
	args := m.Called(ctx, userID, messageID, text)
	return messageView(args.Get(0)), args.Error(1)
}

func (m *MessageServiceMock) DeleteForMe(ctx context.Context, userID, messageID string) error {
	args := m.Called(ctx, userID, messageID)
	return args.Error(0)
}

func (m *MessageServiceMock) DeleteForEveryone(ctx context.Context, userID, messageID string) (models.MessageView, error) {
	args := m.Called(ctx, userID, messageID)
	return messageView(args.Get(0)), args.Error(1)
}

func (m *MessageServiceMock) React(ctx context.Context, userID, messageID, emoji string) (models.MessageView, error) {
	args := m.Called(ctx, userID, messageID, emoji)
	return messageView(args.Get(0)), args.Error(1)
}

func (m *MessageServiceMock) Unreact(ctx context.Context, userID, messageID string) (models.MessageView, error) {
	args := m.Called(ctx, userID, messageID)
	return messageView(args.Get(0)), args.Error(1)
}

func (m *MessageServiceMock) TogglePin(ctx context.Context, userID, messageID string) (models.MessageView, error) {
	args := m.Called(ctx, userID, messageID)
	return messageView(args.Get(0)), args.Error(1)
}

type ChatServiceMock struct {
	mock.Mock
}

func (m *ChatServiceMock) OneToOne(ctx context.Context, userID, recipientID string) (models.ChatView, bool, error) {
	args := m.Called(ctx, userID, recipientID)
	return chatView(args.Get(0)), args.Bool(1), args.Error(2)
}

func (m *ChatServiceMock) CreateGroup(ctx context.Context, userID, name string, memberIDs []string) (models.ChatView, error) {
	args := m.Called(ctx, userID, name, memberIDs)
	return chatView(args.Get(0)), args.Error(1)
}

func (m *ChatServiceMock) List(ctx context.Context, userID string) ([]models.ChatView, error) {
	args := m.Called(ctx, userID)
	var out []models.ChatView
	if val := args.Get(0); val != nil {
		out = val.([]models.ChatView)
	}
	return out, args.Error(1)
}

func (m *ChatServiceMock) Get(ctx context.Context, userID, chatID string) (models.ChatView, error) {
	args := m.Called(ctx, userID, chatID)
	return chatView(args.Get(0)), args.Error(1)
}

func (m *ChatServiceMock) AddMember(ctx context.Context, actorID, chatID, memberID string) (models.ChatView, error) {
	args := m.Called(ctx, actorID, chatID, memberID)
	return chatView(args.Get(0)), args.Error(1)
}

func (m *ChatServiceMock) RemoveMember(ctx context.Context, actorID, chatID, memberID string) (models.ChatView, error) {
	args := m.Called(ctx, actorID, chatID, memberID)
	return chatView(args.Get(0)), args.Error(1)
}

func (m *ChatServiceMock) Leave(ctx context.Context, userID, chatID string) (services.LeaveResult, error) {
	args := m.Called(ctx, userID, chatID)
	var out services.LeaveResult
	if val := args.Get(0); val != nil {
		out = val.(services.LeaveResult)
	}
	return out, args.Error(1)
}

func (m *ChatServiceMock) TransferAdmin(ctx context.Context, actorID, chatID, memberID string) (models.ChatView, error) {
	args := m.Called(ctx, actorID, chatID, memberID)
	return chatView(args.Get(0)), args.Error(1)
}

func (m *ChatServiceMock) DeleteGroup(ctx context.Context, actorID, chatID string) error {
	args := m.Called(ctx, actorID, chatID)
	return args.Error(0)
}

type InviteServiceMock struct {
	mock.Mock
}

func (m *InviteServiceMock) Send(ctx context.Context, inviterID, email, chatID string) (services.InviteResult, error) {
	args := m.Called(ctx, inviterID, email, chatID)
	return inviteResult(args.Get(0)), args.Error(1)
}

func (m *InviteServiceMock) SendDirect(ctx context.Context, inviterID, email string) (services.InviteResult, error) {
	args := m.Called(ctx, inviterID, email)
	return inviteResult(args.Get(0)), args.Error(1)
}

func (m *InviteServiceMock) Verify(ctx context.Context, token string) (models.InviteView, error) {
	args := m.Called(ctx, token)
	var out models.InviteView
	if val := args.Get(0); val != nil {
		out = val.(models.InviteView)
	}
	return out, args.Error(1)
}

func (m *InviteServiceMock) Use(ctx context.Context, userID, token string) (*models.ChatView, error) {
	args := m.Called(ctx, userID, token)
	var out *models.ChatView
	if val := args.Get(0); val != nil {
		out = val.(*models.ChatView)
	}
	return out, args.Error(1)
}

type UserServiceMock struct {
	mock.Mock
}

func (m *UserServiceMock) List(ctx context.Context, userID string) ([]models.UserSummary, error) {
	args := m.Called(ctx, userID)
	var out []models.UserSummary
	if val := args.Get(0); val != nil {
		out = val.([]models.UserSummary)
	}
	return out, args.Error(1)
}

func (m *UserServiceMock) Profile(ctx context.Context, userID string) (models.UserSummary, error) {
	args := m.Called(ctx, userID)
	return userSummary(args.Get(0)), args.Error(1)
}

func (m *UserServiceMock) TouchLastSeen(ctx context.Context, userID string) (models.UserSummary, error) {
	args := m.Called(ctx, userID)
	return userSummary(args.Get(0)), args.Error(1)
}

func (m *UserServiceMock) SetOnlineStatus(ctx context.Context, userID string, online bool) (models.UserSummary, error) {
	args := m.Called(ctx, userID, online)
	return userSummary(args.Get(0)), args.Error(1)
}

func messageView(val any) models.MessageView {
	if val == nil {
		return models.MessageView{}
	}
	return val.(models.MessageView)
}

func chatView(val any) models.ChatView {
	if val == nil {
		return models.ChatView{}
	}
	return val.(models.ChatView)
}

func inviteResult(val any) services.InviteResult {
	if val == nil {
		return services.InviteResult{}
	}
	return val.(services.InviteResult)
}

func userSummary(val any) models.UserSummary {
	if val == nil {
		return models.UserSummary{}
	}
	return val.(models.UserSummary)
}
