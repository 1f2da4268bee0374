package model

import (
	"encoding/json"
	"time"
)

type EventKind string

const (
	// Connection lifecycle
	EventConnect EventKind = "connect"
	EventPing    EventKind = "ping"
	EventPong    EventKind = "pong"

	// Client -> server
	EventSubscribe   EventKind = "subscribe"
	EventUnsubscribe EventKind = "unsubscribe"

	// Messages
	EventMessageNew      EventKind = "message.new"
	EventMessageUpdate   EventKind = "message.update"
	EventMessageDelete   EventKind = "message.delete"
	EventMessageReaction EventKind = "message.reaction"
	EventMessageRead     EventKind = "message.read"

	// Typing
	EventTypingStart EventKind = "typing.start"
	EventTypingStop  EventKind = "typing.stop"

	// User status
	EventUserOnline  EventKind = "user.online"
	EventUserOffline EventKind = "user.offline"
	EventUserStatus  EventKind = "user.status"

	// Chat lifecycle
	EventChatNew         EventKind = "chat.new"
	EventChatUpdate      EventKind = "chat.update"
	EventChatDelete      EventKind = "chat.delete"
	EventChatMemberJoin  EventKind = "chat.member.join"
	EventChatMemberLeave EventKind = "chat.member.leave"

	EventNotification EventKind = "notification"
	EventError        EventKind = "error"
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event     EventKind       `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Decode unmarshals the envelope payload into dst.
func (e Envelope) Decode(dst any) error {
	return json.Unmarshal(e.Data, dst)
}

// NewEnvelope marshals data into a stamped envelope.
func NewEnvelope(kind EventKind, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: kind, Data: raw, Timestamp: time.Now().UTC()}, nil
}

type ConnectPayload struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	ChatCount int    `json:"chat_count"`
}

type SubscribePayload struct {
	ChatID string `json:"chat_id"`
}

// SendRequest is the body of the HTTP send endpoint; the response is
// the canonical Message with server-assigned identity and sequence.
type SendRequest struct {
	ChatID    string `json:"chat_id"`
	Content   string `json:"content"`
	ReplyToID int64  `json:"reply_to_id,omitempty"`
}

type MessageUpdatePayload struct {
	ID       int64     `json:"id"`
	ChatID   string    `json:"chat_id"`
	Seq      int64     `json:"seq"`
	Content  string    `json:"content"`
	IsEdited bool      `json:"is_edited"`
	EditedAt time.Time `json:"edited_at"`
}

type MessageDeletePayload struct {
	ID                 int64  `json:"id"`
	ChatID             string `json:"chat_id"`
	Seq                int64  `json:"seq"`
	DeletedForEveryone bool   `json:"deleted_for_everyone"`
}

type ReactionPayload struct {
	MessageID int64  `json:"message_id"`
	ChatID    string `json:"chat_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
	Action    string `json:"action"` // "add" or "remove"
}

type ReadPayload struct {
	ChatID    string    `json:"chat_id"`
	UserID    string    `json:"user_id"`
	MessageID int64     `json:"message_id"`
	Seq       int64     `json:"seq"`
	ReadAt    time.Time `json:"read_at"`
}

type TypingPayload struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}

type UserStatusPayload struct {
	UserID   string     `json:"user_id"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type MemberPayload struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
	Action string `json:"action"` // "join" or "leave"
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
