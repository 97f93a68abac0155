// Package memstore is a process-local implementation of every repository
// interface, used by tests and by store.driver=memory.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"convohub/internal/models"
	"convohub/internal/repositories"
)

// Store holds all collections behind one mutex so each method is atomic.
type Store struct {
	mu        sync.Mutex
	users     map[string]models.User
	chats     map[string]models.Chat
	direct    map[string]string
	messages  map[string]models.Message
	chatOrder map[string][]string
	invites   map[string]models.Invite
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:     make(map[string]models.User),
		chats:     make(map[string]models.Chat),
		direct:    make(map[string]string),
		messages:  make(map[string]models.Message),
		chatOrder: make(map[string][]string),
		invites:   make(map[string]models.Invite),
	}
}

// Repositories exposes the store through the repository bundle.
func (s *Store) Repositories() repositories.Store {
	return repositories.Store{
		Users:    s,
		Chats:    s,
		Messages: s,
		Invites:  s,
		Close:    func(context.Context) error { return nil },
	}
}

// Users

func (s *Store) CreateUser(_ context.Context, user models.User) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return models.User{}, repositories.ErrDuplicate
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return models.User{}, repositories.ErrDuplicate
		}
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *Store) GetUser(_ context.Context, userID string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return models.User{}, repositories.ErrUserNotFound
	}
	return u, nil
}

func (s *Store) GetUsers(_ context.Context, userIDs []string) (map[string]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.User, len(userIDs))
	for _, id := range userIDs {
		if u, ok := s.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (s *Store) FindByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return models.User{}, repositories.ErrUserNotFound
}

func (s *Store) ListUsersExcept(_ context.Context, userID string) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.User, 0, len(s.users))
	for id, u := range s.users {
		if id != userID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) SetOnline(_ context.Context, userID string, online bool, lastSeen *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repositories.ErrUserNotFound
	}
	u.IsOnline = online
	if lastSeen != nil {
		at := *lastSeen
		u.LastSeen = &at
	}
	s.users[userID] = u
	return nil
}

func (s *Store) TouchLastSeen(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repositories.ErrUserNotFound
	}
	u.LastSeen = &at
	s.users[userID] = u
	return nil
}

// Chats

func (s *Store) CreateOrGetDirect(_ context.Context, chat models.Chat) (models.Chat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.direct[chat.DirectKey]; ok {
		return cloneChat(s.chats[id]), false, nil
	}
	chat.Members = append([]string{}, chat.Members...)
	chat.UpdatedAt = chat.CreatedAt
	s.chats[chat.ID] = chat
	s.direct[chat.DirectKey] = chat.ID
	return cloneChat(chat), true, nil
}

func (s *Store) CreateGroup(_ context.Context, chat models.Chat) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chat.ID]; ok {
		return models.Chat{}, repositories.ErrDuplicate
	}
	chat.Members = append([]string{}, chat.Members...)
	chat.UpdatedAt = chat.CreatedAt
	s.chats[chat.ID] = chat
	return cloneChat(chat), nil
}

func (s *Store) GetChat(_ context.Context, chatID string) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return models.Chat{}, repositories.ErrChatNotFound
	}
	return cloneChat(c), nil
}

func (s *Store) ListChatsForUser(_ context.Context, userID string) ([]models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Chat, 0)
	for _, c := range s.chats {
		if c.HasMember(userID) {
			out = append(out, cloneChat(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) AddMember(_ context.Context, chatID, userID string, at time.Time) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return models.Chat{}, repositories.ErrChatNotFound
	}
	if c.HasMember(userID) {
		return models.Chat{}, repositories.ErrNotApplied
	}
	c.Members = append(append([]string{}, c.Members...), userID)
	c.UpdatedAt = at
	s.chats[chatID] = c
	return cloneChat(c), nil
}

func (s *Store) RemoveMember(_ context.Context, chatID, userID string, at time.Time) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return models.Chat{}, repositories.ErrChatNotFound
	}
	if !c.HasMember(userID) || c.AdminID == userID {
		return models.Chat{}, repositories.ErrNotApplied
	}
	c.Members = c.OtherMembers(userID)
	c.UpdatedAt = at
	s.chats[chatID] = c
	return cloneChat(c), nil
}

func (s *Store) Leave(_ context.Context, chatID, userID string, at time.Time) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return models.Chat{}, repositories.ErrChatNotFound
	}
	if !c.HasMember(userID) {
		return models.Chat{}, repositories.ErrNotApplied
	}
	c.Members = c.OtherMembers(userID)
	if c.AdminID == userID {
		c.AdminID = ""
		if len(c.Members) > 0 {
			c.AdminID = c.Members[0]
		}
	}
	c.UpdatedAt = at
	s.chats[chatID] = c
	return cloneChat(c), nil
}

func (s *Store) SetAdmin(_ context.Context, chatID, from, to string, at time.Time) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return models.Chat{}, repositories.ErrChatNotFound
	}
	if !c.IsGroup || c.AdminID != from || !c.HasMember(to) {
		return models.Chat{}, repositories.ErrNotApplied
	}
	c.AdminID = to
	c.UpdatedAt = at
	s.chats[chatID] = c
	return cloneChat(c), nil
}

func (s *Store) SetLastMessage(_ context.Context, chatID, messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return repositories.ErrChatNotFound
	}
	c.LastMessage = messageID
	c.UpdatedAt = at
	s.chats[chatID] = c
	return nil
}

func (s *Store) DeleteChat(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return repositories.ErrChatNotFound
	}
	delete(s.chats, chatID)
	if c.DirectKey != "" {
		delete(s.direct, c.DirectKey)
	}
	s.dropChatMessages(chatID)
	return nil
}

// Messages

func (s *Store) CreateMessage(_ context.Context, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[msg.ChatID]; !ok {
		return models.Message{}, repositories.ErrChatNotFound
	}
	if _, ok := s.messages[msg.ID]; ok {
		return models.Message{}, repositories.ErrDuplicate
	}
	msg = cloneMessage(msg)
	s.messages[msg.ID] = msg
	s.chatOrder[msg.ChatID] = append(s.chatOrder[msg.ChatID], msg.ID)
	return cloneMessage(msg), nil
}

func (s *Store) GetMessage(_ context.Context, messageID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return cloneMessage(m), nil
}

func (s *Store) GetMessages(_ context.Context, messageIDs []string) (map[string]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.Message, len(messageIDs))
	for _, id := range messageIDs {
		if m, ok := s.messages[id]; ok {
			out[id] = cloneMessage(m)
		}
	}
	return out, nil
}

func (s *Store) CountMessages(_ context.Context, chatID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.chatOrder[chatID])), nil
}

func (s *Store) ListMessages(_ context.Context, chatID, viewerID string, skip, limit int) ([]models.Message, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.chatOrder[chatID]
	visible := make([]models.Message, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		m := s.messages[ids[i]]
		if !m.HiddenFor(viewerID) {
			visible = append(visible, m)
		}
	}
	total := int64(len(visible))
	if skip >= len(visible) {
		return []models.Message{}, total, nil
	}
	end := skip + limit
	if end > len(visible) {
		end = len(visible)
	}
	out := make([]models.Message, 0, end-skip)
	for _, m := range visible[skip:end] {
		out = append(out, cloneMessage(m))
	}
	return out, total, nil
}

func (s *Store) ListPinned(_ context.Context, chatID, viewerID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, 0)
	for _, id := range s.chatOrder[chatID] {
		m := s.messages[id]
		if m.IsPinned && !m.HiddenFor(viewerID) {
			out = append(out, cloneMessage(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PinnedAt.After(*out[j].PinnedAt) })
	return out, nil
}

func (s *Store) AddSeen(_ context.Context, messageID, userID string) (models.Message, error) {
	return s.update(messageID, func(m *models.Message) bool {
		m.SeenBy = addToSet(m.SeenBy, userID)
		return true
	})
}

func (s *Store) MarkAllSeen(_ context.Context, chatID, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated int64
	for _, id := range s.chatOrder[chatID] {
		m := s.messages[id]
		if contains(m.SeenBy, userID) {
			continue
		}
		m.SeenBy = append(append([]string{}, m.SeenBy...), userID)
		s.messages[id] = m
		updated++
	}
	return updated, nil
}

func (s *Store) EditMessage(_ context.Context, messageID, senderID, text string, at time.Time) (models.Message, error) {
	return s.update(messageID, func(m *models.Message) bool {
		if m.SenderID != senderID || m.IsEdited || m.IsDeleted {
			return false
		}
		m.Text = text
		m.IsEdited = true
		m.EditedAt = &at
		return true
	})
}

func (s *Store) DeleteForUser(_ context.Context, messageID, userID string) (models.Message, error) {
	return s.update(messageID, func(m *models.Message) bool {
		m.DeletedFor = addToSet(m.DeletedFor, userID)
		return true
	})
}

func (s *Store) DeleteForEveryone(_ context.Context, messageID, senderID, placeholder string, at time.Time) (models.Message, error) {
	return s.update(messageID, func(m *models.Message) bool {
		if m.SenderID != senderID || m.IsDeleted {
			return false
		}
		m.IsDeleted = true
		m.DeletedAt = &at
		m.Text = placeholder
		m.FileURL = ""
		m.FileName = ""
		return true
	})
}

func (s *Store) UpsertReaction(_ context.Context, messageID string, reaction models.Reaction) (models.Message, error) {
	return s.update(messageID, func(m *models.Message) bool {
		if m.IsDeleted {
			return false
		}
		next := make([]models.Reaction, 0, len(m.Reactions)+1)
		for _, r := range m.Reactions {
			if r.UserID != reaction.UserID {
				next = append(next, r)
			}
		}
		m.Reactions = append(next, reaction)
		return true
	})
}

func (s *Store) RemoveReaction(_ context.Context, messageID, userID string) (models.Message, error) {
	return s.update(messageID, func(m *models.Message) bool {
		next := make([]models.Reaction, 0, len(m.Reactions))
		for _, r := range m.Reactions {
			if r.UserID != userID {
				next = append(next, r)
			}
		}
		m.Reactions = next
		return true
	})
}

func (s *Store) SetPinned(_ context.Context, messageID string, pinned bool, by string, at time.Time) (models.Message, error) {
	return s.update(messageID, func(m *models.Message) bool {
		if m.IsPinned == pinned || (pinned && m.IsDeleted) {
			return false
		}
		m.IsPinned = pinned
		if pinned {
			m.PinnedAt = &at
			m.PinnedBy = by
		} else {
			m.PinnedAt = nil
			m.PinnedBy = ""
		}
		return true
	})
}

func (s *Store) DeleteChatMessages(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropChatMessages(chatID)
	return nil
}

// update applies fn to a copy of the message and stores it when fn reports
// the precondition held. The fresh record is returned either way.
func (s *Store) update(messageID string, fn func(m *models.Message) bool) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	next := cloneMessage(m)
	if !fn(&next) {
		return cloneMessage(m), repositories.ErrNotApplied
	}
	s.messages[messageID] = next
	return cloneMessage(next), nil
}

func (s *Store) dropChatMessages(chatID string) {
	for _, id := range s.chatOrder[chatID] {
		delete(s.messages, id)
	}
	delete(s.chatOrder, chatID)
}

// Invites

func (s *Store) CreateInvite(_ context.Context, invite models.Invite) (models.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invites[invite.Token]; ok {
		return models.Invite{}, repositories.ErrDuplicate
	}
	s.invites[invite.Token] = invite
	return invite, nil
}

func (s *Store) FindByToken(_ context.Context, token string) (models.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[token]
	if !ok {
		return models.Invite{}, repositories.ErrInviteNotFound
	}
	return inv, nil
}

func (s *Store) FindActive(_ context.Context, email, chatID string, now time.Time) (models.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		best  models.Invite
		found bool
	)
	for _, inv := range s.invites {
		if !strings.EqualFold(inv.Email, email) || inv.ChatID != chatID || inv.State(now) != models.InviteValid {
			continue
		}
		if !found || inv.CreatedAt.After(best.CreatedAt) {
			best, found = inv, true
		}
	}
	if !found {
		return models.Invite{}, repositories.ErrInviteNotFound
	}
	return best, nil
}

func (s *Store) MarkUsed(_ context.Context, token, userID string, at time.Time) (models.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[token]
	if !ok {
		return models.Invite{}, repositories.ErrInviteNotFound
	}
	if inv.State(at) != models.InviteValid {
		return models.Invite{}, repositories.ErrNotApplied
	}
	inv.Used = true
	inv.UsedBy = userID
	inv.UsedAt = &at
	s.invites[token] = inv
	return inv, nil
}

func cloneChat(c models.Chat) models.Chat {
	c.Members = append([]string{}, c.Members...)
	return c
}

func cloneMessage(m models.Message) models.Message {
	m.SeenBy = append([]string{}, m.SeenBy...)
	m.DeletedFor = append([]string{}, m.DeletedFor...)
	m.Reactions = append([]models.Reaction{}, m.Reactions...)
	return m
}

func addToSet(set []string, id string) []string {
	if contains(set, id) {
		return set
	}
	return append(set, id)
}

func contains(set []string, id string) bool {
	for _, v := range set {
		if v == id {
			return true
		}
	}
	return false
}
