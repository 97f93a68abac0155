package models

import (
	"sort"
	"time"
)

// Chat is either a direct conversation between exactly two users or a named group.
type Chat struct {
	ID          string    `db:"id" bson:"_id" json:"id"`
	IsGroup     bool      `db:"is_group" bson:"isGroup" json:"isGroup"`
	Name        string    `db:"name" bson:"name,omitempty" json:"name,omitempty"`
	Members     []string  `db:"-" bson:"members" json:"members"`
	AdminID     string    `db:"admin_id" bson:"admin,omitempty" json:"admin,omitempty"`
	DirectKey   string    `db:"-" bson:"directKey,omitempty" json:"-"`
	LastMessage string    `db:"last_message_id" bson:"lastMessage,omitempty" json:"lastMessage,omitempty"`
	CreatedAt   time.Time `db:"created_at" bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" bson:"updatedAt" json:"updatedAt"`
}

// HasMember reports whether userID is a current member.
func (c Chat) HasMember(userID string) bool {
	for _, id := range c.Members {
		if id == userID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether userID administers the group.
func (c Chat) IsAdmin(userID string) bool {
	return c.IsGroup && c.AdminID != "" && c.AdminID == userID
}

// OtherMembers returns members except userID, keeping order.
func (c Chat) OtherMembers(userID string) []string {
	out := make([]string, 0, len(c.Members))
	for _, id := range c.Members {
		if id != userID {
			out = append(out, id)
		}
	}
	return out
}

// DirectKey builds the order-independent key identifying a direct chat between two users.
func DirectKey(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return pair[0] + ":" + pair[1]
}

// ChatView is the chat projection with resolved members, admin and last message.
type ChatView struct {
	ID          string        `json:"id"`
	IsGroup     bool          `json:"isGroup"`
	Name        string        `json:"name,omitempty"`
	Members     []UserSummary `json:"members"`
	Admin       *UserSummary  `json:"admin,omitempty"`
	LastMessage *MessageView  `json:"lastMessage,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}
