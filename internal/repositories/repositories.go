package repositories

import (
	"context"
	"errors"
	"time"

	"convohub/internal/models"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrInviteNotFound  = errors.New("invite not found")
	// ErrNotApplied is returned when a conditional write matched no record in
	// the required state. Callers re-read to classify the conflict.
	ErrNotApplied = errors.New("conditional update not applied")
	ErrDuplicate  = errors.New("duplicate key")
)

// UserRepository abstracts account persistence.
type UserRepository interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
	// GetUsers returns the users that resolve; unknown ids are omitted.
	GetUsers(ctx context.Context, userIDs []string) (map[string]models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	ListUsersExcept(ctx context.Context, userID string) ([]models.User, error)
	SetOnline(ctx context.Context, userID string, online bool, lastSeen *time.Time) error
	TouchLastSeen(ctx context.Context, userID string, at time.Time) error
}

// ChatRepository abstracts chat and membership persistence. Membership writes
// are conditional and return ErrNotApplied when the precondition does not hold.
type ChatRepository interface {
	// CreateOrGetDirect returns the direct chat between a and b, creating it
	// when absent. created reports whether this call inserted it.
	CreateOrGetDirect(ctx context.Context, chat models.Chat) (result models.Chat, created bool, err error)
	CreateGroup(ctx context.Context, chat models.Chat) (models.Chat, error)
	GetChat(ctx context.Context, chatID string) (models.Chat, error)
	// ListChatsForUser returns the user's chats, most recently updated first.
	ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error)
	AddMember(ctx context.Context, chatID, userID string, at time.Time) (models.Chat, error)
	// RemoveMember removes a non-admin member.
	RemoveMember(ctx context.Context, chatID, userID string, at time.Time) (models.Chat, error)
	// Leave removes userID and, if they were admin, hands the group to the
	// earliest remaining member in the same write.
	Leave(ctx context.Context, chatID, userID string, at time.Time) (models.Chat, error)
	// SetAdmin moves the admin role from one member to another.
	SetAdmin(ctx context.Context, chatID, from, to string, at time.Time) (models.Chat, error)
	SetLastMessage(ctx context.Context, chatID, messageID string, at time.Time) error
	DeleteChat(ctx context.Context, chatID string) error
}

// MessageRepository abstracts message persistence. State transitions are
// conditional writes so concurrent callers cannot both succeed.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	GetMessages(ctx context.Context, messageIDs []string) (map[string]models.Message, error)
	CountMessages(ctx context.Context, chatID string) (int64, error)
	// ListMessages pages the chat newest first, skipping messages the viewer
	// deleted for themselves. total counts every message visible to the viewer.
	ListMessages(ctx context.Context, chatID, viewerID string, skip, limit int) (msgs []models.Message, total int64, err error)
	ListPinned(ctx context.Context, chatID, viewerID string) ([]models.Message, error)
	AddSeen(ctx context.Context, messageID, userID string) (models.Message, error)
	MarkAllSeen(ctx context.Context, chatID, userID string) (int64, error)
	// EditMessage applies only to an unedited, undeleted message of senderID.
	EditMessage(ctx context.Context, messageID, senderID, text string, at time.Time) (models.Message, error)
	DeleteForUser(ctx context.Context, messageID, userID string) (models.Message, error)
	// DeleteForEveryone applies only to an undeleted message of senderID.
	DeleteForEveryone(ctx context.Context, messageID, senderID, placeholder string, at time.Time) (models.Message, error)
	// UpsertReaction replaces the user's reaction on an undeleted message.
	UpsertReaction(ctx context.Context, messageID string, reaction models.Reaction) (models.Message, error)
	RemoveReaction(ctx context.Context, messageID, userID string) (models.Message, error)
	// SetPinned flips the pin only when the message is currently !pinned.
	SetPinned(ctx context.Context, messageID string, pinned bool, by string, at time.Time) (models.Message, error)
	DeleteChatMessages(ctx context.Context, chatID string) error
}

// InviteRepository abstracts invite persistence.
type InviteRepository interface {
	CreateInvite(ctx context.Context, invite models.Invite) (models.Invite, error)
	FindByToken(ctx context.Context, token string) (models.Invite, error)
	// FindActive returns an unused, unexpired invite for email and chatID.
	FindActive(ctx context.Context, email, chatID string, now time.Time) (models.Invite, error)
	// MarkUsed consumes the token if it is unused and unexpired at at.
	MarkUsed(ctx context.Context, token, userID string, at time.Time) (models.Invite, error)
}

// Store bundles the repositories of one backend.
type Store struct {
	Users    UserRepository
	Chats    ChatRepository
	Messages MessageRepository
	Invites  InviteRepository
	Close    func(ctx context.Context) error
}
