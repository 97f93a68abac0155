package services

import (
	"context"
	"fmt"

	"convohub/internal/models"
	"convohub/internal/repositories"
)

// Projector resolves stored references into outbound projections. It is the
// only place where user and reply ids become embedded summaries.
type Projector struct {
	users    repositories.UserRepository
	messages repositories.MessageRepository
}

func NewProjector(users repositories.UserRepository, messages repositories.MessageRepository) *Projector {
	return &Projector{users: users, messages: messages}
}

func (p *Projector) Message(ctx context.Context, msg models.Message) (models.MessageView, error) {
	views, err := p.Messages(ctx, []models.Message{msg})
	if err != nil {
		return models.MessageView{}, err
	}
	return views[0], nil
}

// Messages projects msgs in order with two batched lookups.
func (p *Projector) Messages(ctx context.Context, msgs []models.Message) ([]models.MessageView, error) {
	replyIDs := make([]string, 0)
	for _, m := range msgs {
		if m.ReplyTo != "" {
			replyIDs = append(replyIDs, m.ReplyTo)
		}
	}
	replies := map[string]models.Message{}
	if len(replyIDs) > 0 {
		var err error
		replies, err = p.messages.GetMessages(ctx, replyIDs)
		if err != nil {
			return nil, fmt.Errorf("load reply targets: %w", err)
		}
	}

	ids := newIDSet()
	for _, m := range msgs {
		collectMessageUsers(ids, m)
	}
	for _, r := range replies {
		ids.add(r.SenderID)
	}
	users, err := p.lookup(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView(m, users, replies))
	}
	return out, nil
}

func (p *Projector) Chat(ctx context.Context, chat models.Chat) (models.ChatView, error) {
	views, err := p.Chats(ctx, []models.Chat{chat})
	if err != nil {
		return models.ChatView{}, err
	}
	return views[0], nil
}

func (p *Projector) Chats(ctx context.Context, chats []models.Chat) ([]models.ChatView, error) {
	lastIDs := make([]string, 0, len(chats))
	for _, c := range chats {
		if c.LastMessage != "" {
			lastIDs = append(lastIDs, c.LastMessage)
		}
	}
	last := map[string]models.Message{}
	if len(lastIDs) > 0 {
		var err error
		last, err = p.messages.GetMessages(ctx, lastIDs)
		if err != nil {
			return nil, fmt.Errorf("load last messages: %w", err)
		}
	}

	ids := newIDSet()
	for _, c := range chats {
		for _, id := range c.Members {
			ids.add(id)
		}
		ids.add(c.AdminID)
	}
	for _, m := range last {
		collectMessageUsers(ids, m)
	}
	users, err := p.lookup(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]models.ChatView, 0, len(chats))
	for _, c := range chats {
		view := models.ChatView{
			ID:        c.ID,
			IsGroup:   c.IsGroup,
			Name:      c.Name,
			Members:   make([]models.UserSummary, 0, len(c.Members)),
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		}
		for _, id := range c.Members {
			view.Members = append(view.Members, summaryOf(users, id))
		}
		if c.IsGroup && c.AdminID != "" {
			admin := summaryOf(users, c.AdminID)
			view.Admin = &admin
		}
		if m, ok := last[c.LastMessage]; ok {
			lv := messageView(m, users, nil)
			view.LastMessage = &lv
		}
		out = append(out, view)
	}
	return out, nil
}

func (p *Projector) lookup(ctx context.Context, ids *idSet) (map[string]models.User, error) {
	if len(ids.list) == 0 {
		return map[string]models.User{}, nil
	}
	users, err := p.users.GetUsers(ctx, ids.list)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return users, nil
}

func messageView(m models.Message, users map[string]models.User, replies map[string]models.Message) models.MessageView {
	view := models.MessageView{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Sender:    summaryOf(users, m.SenderID),
		Type:      m.Type,
		Text:      m.Text,
		FileURL:   m.FileURL,
		FileName:  m.FileName,
		SeenBy:    append([]string{}, m.SeenBy...),
		Reactions: make([]models.ReactionView, 0, len(m.Reactions)),
		IsEdited:  m.IsEdited,
		EditedAt:  m.EditedAt,
		IsDeleted: m.IsDeleted,
		DeletedAt: m.DeletedAt,
		IsPinned:  m.IsPinned,
		PinnedAt:  m.PinnedAt,
		CreatedAt: m.CreatedAt,
	}
	for _, r := range m.Reactions {
		view.Reactions = append(view.Reactions, models.ReactionView{
			User:      summaryOf(users, r.UserID),
			Emoji:     r.Emoji,
			ReactedAt: r.ReactedAt,
		})
	}
	if m.IsPinned && m.PinnedBy != "" {
		by := summaryOf(users, m.PinnedBy)
		view.PinnedBy = &by
	}
	if parent, ok := replies[m.ReplyTo]; ok && m.ReplyTo != "" {
		view.ReplyTo = &models.ReplyPreview{
			ID:        parent.ID,
			Sender:    summaryOf(users, parent.SenderID),
			Text:      parent.Text,
			Type:      parent.Type,
			IsDeleted: parent.IsDeleted,
		}
	}
	return view
}

func collectMessageUsers(ids *idSet, m models.Message) {
	ids.add(m.SenderID)
	ids.add(m.PinnedBy)
	for _, r := range m.Reactions {
		ids.add(r.UserID)
	}
}

func summaryOf(users map[string]models.User, id string) models.UserSummary {
	if u, ok := users[id]; ok {
		return u.Summary()
	}
	return models.UnknownUser(id)
}

type idSet struct {
	seen map[string]struct{}
	list []string
}

func newIDSet() *idSet {
	return &idSet{seen: map[string]struct{}{}}
}

func (s *idSet) add(id string) {
	if id == "" {
		return
	}
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = struct{}{}
	s.list = append(s.list, id)
}
