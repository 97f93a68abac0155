package models

import "time"

// MessageType classifies the message body.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

// DeletedPlaceholder replaces the text of a message deleted for everyone.
const DeletedPlaceholder = "This message was deleted"

// Reaction is a single user's reaction. A user holds at most one per message.
type Reaction struct {
	UserID    string    `db:"user_id" bson:"userId" json:"userId"`
	Emoji     string    `db:"emoji" bson:"emoji" json:"emoji"`
	ReactedAt time.Time `db:"reacted_at" bson:"reactedAt" json:"reactedAt"`
}

// Message is the stored record. SenderID is always a bare identity here;
// resolved sender data lives only in MessageView.
type Message struct {
	ID         string      `bson:"_id" json:"id"`
	ChatID     string      `bson:"chatId" json:"chatId"`
	SenderID   string      `bson:"senderId" json:"senderId"`
	Type       MessageType `bson:"type" json:"type"`
	Text       string      `bson:"text" json:"text"`
	FileURL    string      `bson:"fileUrl,omitempty" json:"fileUrl,omitempty"`
	FileName   string      `bson:"fileName,omitempty" json:"fileName,omitempty"`
	SeenBy     []string    `bson:"seenBy" json:"seenBy"`
	DeletedFor []string    `bson:"deletedFor" json:"deletedFor"`
	Reactions  []Reaction  `bson:"reactions" json:"reactions"`
	IsEdited   bool        `bson:"isEdited" json:"isEdited"`
	EditedAt   *time.Time  `bson:"editedAt,omitempty" json:"editedAt,omitempty"`
	IsDeleted  bool        `bson:"isDeleted" json:"isDeleted"`
	DeletedAt  *time.Time  `bson:"deletedAt,omitempty" json:"deletedAt,omitempty"`
	IsPinned   bool        `bson:"isPinned" json:"isPinned"`
	PinnedAt   *time.Time  `bson:"pinnedAt,omitempty" json:"pinnedAt,omitempty"`
	PinnedBy   string      `bson:"pinnedBy,omitempty" json:"pinnedBy,omitempty"`
	ReplyTo    string      `bson:"replyTo,omitempty" json:"replyTo,omitempty"`
	CreatedAt  time.Time   `bson:"createdAt" json:"createdAt"`
}

// HiddenFor reports whether userID removed the message from their own view.
func (m Message) HiddenFor(userID string) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

// ReactionOf returns userID's reaction, if any.
func (m Message) ReactionOf(userID string) (Reaction, bool) {
	for _, r := range m.Reactions {
		if r.UserID == userID {
			return r, true
		}
	}
	return Reaction{}, false
}

// NewMessage is the input of the create path shared by REST and socket.
type NewMessage struct {
	ChatID   string      `json:"chatId"`
	Text     string      `json:"text"`
	Type     MessageType `json:"type,omitempty"`
	FileURL  string      `json:"fileUrl,omitempty"`
	FileName string      `json:"fileName,omitempty"`
	ReplyTo  string      `json:"replyTo,omitempty"`
}

// ReactionView is a reaction with its author resolved.
type ReactionView struct {
	User      UserSummary `json:"user"`
	Emoji     string      `json:"emoji"`
	ReactedAt time.Time   `json:"reactedAt"`
}

// ReplyPreview is the quoted message rendered above a reply.
type ReplyPreview struct {
	ID        string      `json:"id"`
	Sender    UserSummary `json:"sender"`
	Text      string      `json:"text"`
	Type      MessageType `json:"type"`
	IsDeleted bool        `json:"isDeleted"`
}

// MessageView is the canonical projection delivered over REST and the socket.
type MessageView struct {
	ID        string         `json:"id"`
	ChatID    string         `json:"chatId"`
	Sender    UserSummary    `json:"sender"`
	Type      MessageType    `json:"type"`
	Text      string         `json:"text"`
	FileURL   string         `json:"fileUrl,omitempty"`
	FileName  string         `json:"fileName,omitempty"`
	SeenBy    []string       `json:"seenBy"`
	Reactions []ReactionView `json:"reactions"`
	IsEdited  bool           `json:"isEdited"`
	EditedAt  *time.Time     `json:"editedAt,omitempty"`
	IsDeleted bool           `json:"isDeleted"`
	DeletedAt *time.Time     `json:"deletedAt,omitempty"`
	IsPinned  bool           `json:"isPinned"`
	PinnedAt  *time.Time     `json:"pinnedAt,omitempty"`
	PinnedBy  *UserSummary   `json:"pinnedBy,omitempty"`
	ReplyTo   *ReplyPreview  `json:"replyTo,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// MessagePage is one page of chat history, ordered oldest first.
type MessagePage struct {
	Messages      []MessageView `json:"messages"`
	TotalMessages int64         `json:"totalMessages"`
	Page          int           `json:"page"`
	Limit         int           `json:"limit"`
}
