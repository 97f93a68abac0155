// Package reconcile is the client-side cache that merges fetched history with
// live socket events. Every update is applied by message or chat identity.
package reconcile

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"convohub/internal/models"
)

type Store struct {
	mu       sync.Mutex
	viewerID string
	messages map[string][]models.MessageView
	chats    []models.ChatView
}

// New creates an empty store for the signed-in viewer.
func New(viewerID string) *Store {
	return &Store{viewerID: viewerID, messages: map[string][]models.MessageView{}}
}

// SetMessages installs a fetched page. Live messages already cached that are
// newer than the page and absent from it survive the merge.
func (s *Store) SetMessages(chatID string, page []models.MessageView) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make([]models.MessageView, 0, len(page))
	seen := make(map[string]struct{}, len(page))
	for _, m := range page {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	var newest models.MessageView
	if len(merged) > 0 {
		newest = merged[len(merged)-1]
	}
	for _, m := range s.messages[chatID] {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		if len(merged) == 0 || m.CreatedAt.After(newest.CreatedAt) {
			merged = append(merged, m)
		}
	}
	sortMessages(merged)
	s.messages[chatID] = merged
}

// Add inserts a live message. A message whose identity is already cached is
// ignored, which absorbs the sender's REST copy racing the room broadcast.
func (s *Store) Add(msg models.MessageView) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[msg.ChatID]
	if indexOf(list, msg.ID) >= 0 {
		return false
	}
	i := sort.Search(len(list), func(i int) bool { return list[i].CreatedAt.After(msg.CreatedAt) })
	list = append(list, models.MessageView{})
	copy(list[i+1:], list[i:])
	list[i] = msg
	s.messages[msg.ChatID] = list
	s.touchChat(msg)
	return true
}

// Apply replaces a cached message by identity. Unknown identities are dropped;
// the next fetch brings them in.
func (s *Store) Apply(update models.MessageView) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[update.ChatID]
	i := indexOf(list, update.ID)
	if i < 0 {
		return false
	}
	list[i] = update
	return true
}

func (s *Store) applySeen(ev models.SeenEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[ev.ChatID]
	i := indexOf(list, ev.MessageID)
	if i < 0 {
		return false
	}
	list[i].SeenBy = append([]string(nil), ev.SeenBy...)
	return true
}

// applyChatSeen marks every message not sent by the reader as seen by them.
func (s *Store) applyChatSeen(ev models.ChatSeenEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	list := s.messages[ev.ChatID]
	for i := range list {
		if list[i].Sender.ID == ev.UserID || containsID(list[i].SeenBy, ev.UserID) {
			continue
		}
		list[i].SeenBy = append(list[i].SeenBy, ev.UserID)
		changed = true
	}
	return changed
}

// Messages returns a copy of the cached history, oldest first.
func (s *Store) Messages(chatID string) []models.MessageView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MessageView(nil), s.messages[chatID]...)
}

func (s *Store) SetChats(chats []models.ChatView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = append([]models.ChatView(nil), chats...)
}

func (s *Store) Chats() []models.ChatView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatView(nil), s.chats...)
}

func (s *Store) addChat(chat models.ChatView) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chatIndex(s.chats, chat.ID) >= 0 {
		return false
	}
	s.chats = append([]models.ChatView{chat}, s.chats...)
	return true
}

func (s *Store) replaceChat(chat models.ChatView) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := chatIndex(s.chats, chat.ID)
	if i < 0 {
		return false
	}
	s.chats[i] = chat
	return true
}

func (s *Store) removeChat(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := chatIndex(s.chats, chatID)
	if i < 0 {
		return false
	}
	s.chats = append(s.chats[:i], s.chats[i+1:]...)
	delete(s.messages, chatID)
	return true
}

// touchChat moves the chat of a new message to the top of the list.
func (s *Store) touchChat(msg models.MessageView) {
	i := chatIndex(s.chats, msg.ChatID)
	if i < 0 {
		return
	}
	chat := s.chats[i]
	last := msg
	chat.LastMessage = &last
	chat.UpdatedAt = msg.CreatedAt
	copy(s.chats[1:i+1], s.chats[:i])
	s.chats[0] = chat
}

// ApplyEnvelope routes a server event to the matching update. It reports
// whether the cache changed; events outside the catalogue are ignored.
func (s *Store) ApplyEnvelope(env models.Envelope) (bool, error) {
	switch env.Event {
	case models.EventNewMessage:
		var msg models.MessageView
		if err := decode(env, &msg); err != nil {
			return false, err
		}
		return s.Add(msg), nil
	case models.EventMessageEdited, models.EventMessageDeleted, models.EventMessageReacted, models.EventMessagePinned:
		var msg models.MessageView
		if err := decode(env, &msg); err != nil {
			return false, err
		}
		return s.Apply(msg), nil
	case models.EventSeen:
		var ev models.SeenEvent
		if err := decode(env, &ev); err != nil {
			return false, err
		}
		return s.applySeen(ev), nil
	case models.EventMessagesSeen:
		var ev models.ChatSeenEvent
		if err := decode(env, &ev); err != nil {
			return false, err
		}
		return s.applyChatSeen(ev), nil
	case models.EventChatCreated, models.EventNewChat:
		var ev models.NewChatEvent
		if err := decode(env, &ev); err != nil {
			return false, err
		}
		added := s.addChat(ev.Chat)
		if ev.Message != nil {
			return s.Add(*ev.Message) || added, nil
		}
		return added, nil
	case models.EventMemberAdded, models.EventMemberRemoved, models.EventMemberLeft, models.EventAdminTransferred:
		var ev models.MembershipEvent
		if err := decode(env, &ev); err != nil {
			return false, err
		}
		if ev.UserID == s.viewerID {
			switch env.Event {
			case models.EventMemberRemoved, models.EventMemberLeft:
				return s.removeChat(ev.Chat.ID), nil
			case models.EventMemberAdded:
				return s.addChat(ev.Chat), nil
			}
		}
		return s.replaceChat(ev.Chat), nil
	case models.EventGroupDeleted:
		var ev models.GroupDeletedEvent
		if err := decode(env, &ev); err != nil {
			return false, err
		}
		return s.removeChat(ev.ChatID), nil
	default:
		return false, nil
	}
}

func decode(env models.Envelope, v any) error {
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return nil
}

func sortMessages(list []models.MessageView) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
}

func indexOf(list []models.MessageView, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func chatIndex(list []models.ChatView, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
