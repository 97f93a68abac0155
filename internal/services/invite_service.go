package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"convohub/internal/apperr"
	"convohub/internal/models"
	"convohub/internal/repositories"
)

const tokenBytes = 32

// Mailer delivers invitation emails.
type Mailer interface {
	SendInvite(ctx context.Context, to, link, inviterName string) error
}

// InviteConfig tunes invite issuing.
type InviteConfig struct {
	TTL         time.Duration
	FrontendURL string
}

// InviteResult is the outcome of sending an invite. An existing account is
// added straight to the chat instead of being mailed a token.
type InviteResult struct {
	Message       string             `json:"message"`
	AddedDirectly bool               `json:"addedDirectly"`
	Created       bool               `json:"-"`
	Invite        *models.InviteView `json:"invite,omitempty"`
	Chat          *models.ChatView   `json:"chat,omitempty"`
}

// InviteService issues, verifies and consumes single-use invite tokens.
type InviteService struct {
	base
	chats  *ChatService
	mailer Mailer
	cfg    InviteConfig
	token  func() (string, error)
}

func NewInviteService(d Deps, chats *ChatService, mailer Mailer, cfg InviteConfig) *InviteService {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	return &InviteService{base: newBase(d), chats: chats, mailer: mailer, cfg: cfg, token: newToken}
}

// Send invites email to chatID. The inviter must be a member.
func (s *InviteService) Send(ctx context.Context, inviterID, email, chatID string) (InviteResult, error) {
	email, err := normaliseEmail(email)
	if err != nil {
		return InviteResult{}, err
	}
	chat, err := s.memberChat(ctx, strings.TrimSpace(chatID), inviterID)
	if err != nil {
		return InviteResult{}, err
	}

	existing, err := s.store.Users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if chat.HasMember(existing.ID) {
			return InviteResult{}, apperr.Conflict("user is already a member of this chat")
		}
		view, err := s.chats.addMember(ctx, chat, inviterID, existing.ID)
		if err != nil {
			return InviteResult{}, err
		}
		return InviteResult{Message: "user already registered and added to chat", AddedDirectly: true, Chat: &view}, nil
	case !errors.Is(err, repositories.ErrUserNotFound):
		return InviteResult{}, s.internal("find user by email", err)
	}

	return s.issue(ctx, inviterID, email, chat.ID, s.cfg.FrontendURL+"/auth/signup?invite=")
}

// SendDirect invites email to the service without a chat.
func (s *InviteService) SendDirect(ctx context.Context, inviterID, email string) (InviteResult, error) {
	email, err := normaliseEmail(email)
	if err != nil {
		return InviteResult{}, err
	}
	_, err = s.store.Users.FindByEmail(ctx, email)
	if err == nil {
		return InviteResult{Message: "user already registered, you can start chatting"}, nil
	}
	if !errors.Is(err, repositories.ErrUserNotFound) {
		return InviteResult{}, s.internal("find user by email", err)
	}
	return s.issue(ctx, inviterID, email, "", s.cfg.FrontendURL+"/register?invite=")
}

// issue reuses a live invite for (email, chat) or creates one, then mails it.
func (s *InviteService) issue(ctx context.Context, inviterID, email, chatID, linkPrefix string) (InviteResult, error) {
	inviter, err := s.user(ctx, inviterID)
	if err != nil {
		return InviteResult{}, err
	}

	now := s.now()
	created := false
	invite, err := s.store.Invites.FindActive(ctx, email, chatID, now)
	if errors.Is(err, repositories.ErrInviteNotFound) {
		token, terr := s.token()
		if terr != nil {
			return InviteResult{}, s.internal("generate invite token", terr)
		}
		invite, err = s.store.Invites.CreateInvite(ctx, models.Invite{
			ID:        s.newID(),
			Email:     email,
			InvitedBy: inviterID,
			ChatID:    chatID,
			Token:     token,
			ExpiresAt: now.Add(s.cfg.TTL),
			CreatedAt: now,
		})
		created = true
	}
	if err != nil {
		return InviteResult{}, s.internal("store invite", err, zap.String("chat_id", chatID))
	}

	if err := s.mailer.SendInvite(ctx, email, linkPrefix+invite.Token, inviter.Name); err != nil {
		s.log.Error("send invite email", zap.String("invite_id", invite.ID), zap.Error(err))
		return InviteResult{}, apperr.Internal("failed to send invitation email", err)
	}
	s.auditInfo(ctx, "invite.send", "invited "+email, inviterID)

	view := inviteView(invite, inviter.Name)
	msg := "invitation sent"
	if !created {
		msg = "invitation already sent, email resent"
	}
	return InviteResult{Message: msg, Created: created, Invite: &view}, nil
}

// Verify reports whether token can still be used.
func (s *InviteService) Verify(ctx context.Context, token string) (models.InviteView, error) {
	invite, err := s.find(ctx, token)
	if err != nil {
		return models.InviteView{}, err
	}
	if err := stateErr(invite.State(s.now())); err != nil {
		return models.InviteView{}, err
	}
	name := models.UnknownUser(invite.InvitedBy).Name
	if inviter, err := s.store.Users.GetUser(ctx, invite.InvitedBy); err == nil {
		name = inviter.Name
	}
	return inviteView(invite, name), nil
}

// Use consumes token for userID and joins them to the invite's chat.
func (s *InviteService) Use(ctx context.Context, userID, token string) (*models.ChatView, error) {
	invite, err := s.find(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := stateErr(invite.State(now)); err != nil {
		return nil, err
	}

	var chat models.Chat
	if invite.ChatID != "" {
		chat, err = s.store.Chats.GetChat(ctx, invite.ChatID)
		if errors.Is(err, repositories.ErrChatNotFound) {
			return nil, apperr.NotFound("chat not found")
		}
		if err != nil {
			return nil, s.internal("load invite chat", err, zap.String("chat_id", invite.ChatID))
		}
	}

	used, err := s.store.Invites.MarkUsed(ctx, token, userID, now)
	if errors.Is(err, repositories.ErrNotApplied) {
		// Lost the race; report what the token looks like now.
		if current, ferr := s.find(ctx, token); ferr == nil {
			if serr := stateErr(current.State(now)); serr != nil {
				return nil, serr
			}
		}
		return nil, inviteUsed()
	}
	if errors.Is(err, repositories.ErrInviteNotFound) {
		return nil, inviteNotFound()
	}
	if err != nil {
		return nil, s.internal("mark invite used", err)
	}
	s.auditInfo(ctx, "invite.use", "used invite "+used.ID, userID)

	if invite.ChatID == "" {
		return nil, nil
	}
	if chat.HasMember(userID) {
		view, err := s.proj.Chat(ctx, chat)
		if err != nil {
			return nil, s.internal("project chat", err, zap.String("chat_id", chat.ID))
		}
		return &view, nil
	}
	view, err := s.chats.addMember(ctx, chat, invite.InvitedBy, userID)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

func (s *InviteService) find(ctx context.Context, token string) (models.Invite, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Invite{}, apperr.Validation("invite token is required")
	}
	invite, err := s.store.Invites.FindByToken(ctx, token)
	if errors.Is(err, repositories.ErrInviteNotFound) {
		return models.Invite{}, inviteNotFound()
	}
	if err != nil {
		return models.Invite{}, s.internal("find invite", err)
	}
	return invite, nil
}

func stateErr(state models.InviteState) error {
	switch state {
	case models.InviteUsed:
		return inviteUsed()
	case models.InviteExpired:
		return apperr.Conflict("invite has expired").WithReason("invite_expired")
	}
	return nil
}

func inviteUsed() error {
	return apperr.Conflict("invite has already been used").WithReason("invite_used")
}

func inviteNotFound() error {
	return apperr.NotFound("invite not found").WithReason("invite_not_found")
}

func inviteView(inv models.Invite, inviterName string) models.InviteView {
	return models.InviteView{
		Token:     inv.Token,
		Email:     inv.Email,
		InvitedBy: inviterName,
		ChatID:    inv.ChatID,
		ExpiresAt: inv.ExpiresAt,
	}
}

func normaliseEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperr.Validation("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Validation("valid email is required")
	}
	return email, nil
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
