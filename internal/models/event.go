package models

import (
	"encoding/json"
	"time"
)

// Socket event names, client to server.
const (
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventSendMessage = "send-message"
	EventSeen        = "message-seen"
	EventTypingStart = "typing-start"
	EventTypingStop  = "typing-stop"
)

// Socket event names, server to client.
const (
	EventNewMessage       = "new-message"
	EventMessageEdited    = "message-edited"
	EventMessageDeleted   = "message-deleted"
	EventMessageReacted   = "message-reacted"
	EventMessagePinned    = "message-pinned"
	EventMessagesSeen     = "messages-seen"
	EventUserOnline       = "user-online"
	EventUserOffline      = "user-offline"
	EventUserJoined       = "user-joined"
	EventUserLeft         = "user-left"
	EventRoomJoined       = "room-joined"
	EventNewChat          = "new-chat"
	EventChatCreated      = "chat-created"
	EventMemberAdded      = "member-added"
	EventMemberRemoved    = "member-removed"
	EventMemberLeft       = "member-left"
	EventAdminTransferred = "admin-transferred"
	EventGroupDeleted     = "group-deleted"
	EventError            = "error"
)

// Envelope is the frame exchanged over the socket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ref   string          `json:"ref,omitempty"`
}

// NewEnvelope marshals data into an envelope for event.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// MustEnvelope is NewEnvelope for payload types that always marshal.
func MustEnvelope(event string, data any) Envelope {
	env, err := NewEnvelope(event, data)
	if err != nil {
		panic(err)
	}
	return env
}

// RoomRequest is the payload of join-room, leave-room and typing events.
type RoomRequest struct {
	ChatID string `json:"chatId"`
}

// SeenRequest is the payload of the client message-seen event.
type SeenRequest struct {
	MessageID string `json:"messageId"`
}

// SeenEvent tells a room that a user has seen a message.
type SeenEvent struct {
	MessageID string   `json:"messageId"`
	ChatID    string   `json:"chatId"`
	UserID    string   `json:"userId"`
	SeenBy    []string `json:"seenBy"`
}

// ChatSeenEvent tells a room that a user has seen every message of the chat.
type ChatSeenEvent struct {
	ChatID  string `json:"chatId"`
	UserID  string `json:"userId"`
	Updated int64  `json:"updated"`
}

// PresenceEvent carries user-online and user-offline.
type PresenceEvent struct {
	UserID   string      `json:"userId"`
	User     UserSummary `json:"user"`
	LastSeen *time.Time  `json:"lastSeen,omitempty"`
}

// TypingEvent carries typing-start and typing-stop.
type TypingEvent struct {
	ChatID string      `json:"chatId"`
	UserID string      `json:"userId"`
	User   UserSummary `json:"user"`
}

// RoomEvent carries informational room join/leave notices.
type RoomEvent struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// NewChatEvent notifies members about a chat they may not have joined yet.
type NewChatEvent struct {
	Chat    ChatView     `json:"chat"`
	Message *MessageView `json:"message,omitempty"`
}

// MembershipEvent carries member-added, member-removed, member-left and admin-transferred.
type MembershipEvent struct {
	Chat    ChatView `json:"chat"`
	UserID  string   `json:"userId"`
	ActorID string   `json:"actorId"`
}

// GroupDeletedEvent carries group-deleted.
type GroupDeletedEvent struct {
	ChatID  string `json:"chatId"`
	ActorID string `json:"actorId"`
}

// ErrorEvent is sent to the originating connection only.
type ErrorEvent struct {
	Kind    string `json:"kind"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"`
}

// DomainEvent is the committed-mutation record published to the event log.
type DomainEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	ChatID     string    `json:"chatId,omitempty"`
	ActorID    string    `json:"actorId"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload,omitempty"`
}
