package model

import "time"

type ChatKind string

const (
	ChatPrivate   ChatKind = "private"
	ChatGroup     ChatKind = "group"
	ChatBroadcast ChatKind = "broadcast"
)

type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// MessageStatus is the delivery lifecycle of a message as seen by its sender.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

type Chat struct {
	ID            string    `json:"id"`
	Kind          ChatKind  `json:"kind"`
	Name          string    `json:"name,omitempty"`
	Members       []string  `json:"members,omitempty"`
	LastMessage   string    `json:"last_message,omitempty"`
	LastActivity  time.Time `json:"last_activity"`
	UnreadCount   int       `json:"unread_count"`
	OtherUserID   string    `json:"other_user_id,omitempty"` // counterpart for private chats
	OnlineStatus  bool      `json:"online,omitempty"`
	HasMorePages  bool      `json:"-"`
	PagePopulated bool      `json:"-"`
}

// Message identity is assigned server-side at acceptance; Seq defines the
// total order within a chat and is never reused or reordered.
type Message struct {
	ID        int64         `json:"id"`
	ChatID    string        `json:"chat_id"`
	SenderID  string        `json:"sender_id,omitempty"` // empty for system messages
	Content   string        `json:"content"`
	ReplyToID int64         `json:"reply_to_id,omitempty"`
	Seq       int64         `json:"seq"`
	Status    MessageStatus `json:"status,omitempty"`
	IsEdited  bool          `json:"is_edited,omitempty"`
	IsDeleted bool          `json:"is_deleted,omitempty"`
	IsPinned  bool          `json:"is_pinned,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

type ChatMember struct {
	ChatID      string     `json:"chat_id"`
	UserID      string     `json:"user_id"`
	Role        MemberRole `json:"role"`
	JoinedAt    time.Time  `json:"joined_at"`
	LastReadSeq int64      `json:"last_read_seq"`
}

type PresenceState struct {
	UserID   string    `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}
