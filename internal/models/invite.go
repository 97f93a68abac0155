package models

import "time"

// Invite is a single-use token letting an email address join, optionally, a chat.
// An empty ChatID marks a direct invite.
type Invite struct {
	ID        string     `db:"id" bson:"_id" json:"id"`
	Email     string     `db:"email" bson:"email" json:"email"`
	InvitedBy string     `db:"invited_by" bson:"invitedBy" json:"invitedBy"`
	ChatID    string     `db:"chat_id" bson:"chatId,omitempty" json:"chatId,omitempty"`
	Token     string     `db:"token" bson:"token" json:"token"`
	ExpiresAt time.Time  `db:"expires_at" bson:"expiresAt" json:"expiresAt"`
	Used      bool       `db:"used" bson:"used" json:"used"`
	UsedBy    string     `db:"used_by" bson:"usedBy,omitempty" json:"usedBy,omitempty"`
	UsedAt    *time.Time `db:"used_at" bson:"usedAt,omitempty" json:"usedAt,omitempty"`
	CreatedAt time.Time  `db:"created_at" bson:"createdAt" json:"createdAt"`
}

// InviteState is the validity of an invite at a point in time.
type InviteState int

const (
	InviteValid InviteState = iota
	InviteUsed
	InviteExpired
)

// State evaluates the invite at now. Used takes precedence over expired.
func (i Invite) State(now time.Time) InviteState {
	if i.Used {
		return InviteUsed
	}
	if !now.Before(i.ExpiresAt) {
		return InviteExpired
	}
	return InviteValid
}

// InviteView is what a prospective member sees when verifying a token.
type InviteView struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	InvitedBy string    `json:"invitedBy"`
	ChatID    string    `json:"chatId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}
