// Package wire defines the JSON envelope and payload shapes exchanged with the
// messaging backend over the websocket. Both directions use `{type, payload}`;
// request/response operations additionally carry an `id` that the backend
// echoes in an `ack` frame.
package wire

import (
	"encoding/json"
	"strings"
)

// Inbound frame types pushed by the backend.
const (
	FrameNewMessage          = "newMessage"
	FrameMessageUpdated      = "messageUpdated"
	FrameMessageDeleted      = "messageDeleted"
	FrameMessageRead         = "messageRead"
	FrameMessageDelivered    = "messageDelivered"
	FrameConversationUpdated = "conversationUpdated"
	FrameUnreadCounts        = "unreadCountsUpdated"
	FrameUserTyping          = "userTyping"
	FrameUserStatusChanged   = "userStatusChanged"
	FrameAck                 = "ack"
)

// Outbound operation types.
const (
	OpSendMessage       = "sendMessage"
	OpEditMessage       = "editMessage"
	OpDeleteMessage     = "deleteMessage"
	OpTyping            = "typing"
	OpMarkAsRead        = "markAsRead"
	OpJoinConversation  = "joinConversation"
	OpLeaveConversation = "leaveConversation"
)

// Envelope is the frame unit for both directions.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload and wraps it. Marshal errors are impossible for
// the DTOs in this package, so they are swallowed.
func NewEnvelope(id, typ string, payload interface{}) *Envelope {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	return &Envelope{ID: id, Type: typ, Payload: raw}
}

// Ack is the backend's per-request acknowledgment, correlated by Envelope.ID.
type Ack struct {
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// User is the backend's user shape embedded in messages and participants.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
	Role      string `json:"role,omitempty"`
	Online    bool   `json:"online,omitempty"`
	LastSeen  int64  `json:"lastSeen,omitempty"` // unix millis
}

// DisplayName composes "First Last", tolerating absent parts.
// Returns "Unknown User" when both are empty.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		return "Unknown User"
	}
	return name
}

// Message is the wire shape of a chat message.
type Message struct {
	ID             string `json:"id"`
	TempID         string `json:"tempId,omitempty"`
	ConversationID string `json:"conversationId"`
	Sender         User   `json:"sender"`
	Kind           string `json:"kind,omitempty"` // text|image|audio|location
	Text           string `json:"text,omitempty"`
	MediaURL       string `json:"mediaUrl,omitempty"`
	Latitude       float64 `json:"latitude,omitempty"`
	Longitude      float64 `json:"longitude,omitempty"`
	ReplyToID      string `json:"replyToId,omitempty"`
	CreatedAt      int64  `json:"createdAt"` // unix millis
	Edited         bool   `json:"edited,omitempty"`
	EditedAt       int64  `json:"editedAt,omitempty"`
}

// Conversation is the wire shape of a conversation snapshot.
type Conversation struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"` // direct|group|channel
	Title        string   `json:"title,omitempty"`
	Participants []User   `json:"participants,omitempty"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
	UnreadCount  int      `json:"unreadCount,omitempty"`
	Pinned       bool     `json:"pinned,omitempty"`
	Archived     bool     `json:"archived,omitempty"`
	CreatedAt    int64    `json:"createdAt,omitempty"`
	UpdatedAt    int64    `json:"updatedAt,omitempty"`
	Description  string   `json:"description,omitempty"`
	EventID      string   `json:"eventId,omitempty"`
	BusinessID   string   `json:"businessId,omitempty"`
}

// MessageRead reports that a user has read a conversation.
type MessageRead struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// MessageDelivered reports delivery of one message.
type MessageDelivered struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// MessageDeleted reports removal of one message.
type MessageDeleted struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// Typing is both the inbound userTyping payload and the outbound typing op.
type Typing struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
	FirstName      string `json:"firstName,omitempty"`
	LastName       string `json:"lastName,omitempty"`
	Typing         bool   `json:"typing"`
}

// UserStatus carries presence changes for one or more users.
type UserStatus struct {
	Users []User `json:"users"`
}

// UnreadCounts is a bulk unread reconciliation, conversation id -> count.
type UnreadCounts struct {
	Counts map[string]int `json:"counts"`
}

// SendMessage is the outbound sendMessage payload. TempID is echoed back in
// the ack so the optimistic record can be reconciled.
type SendMessage struct {
	ConversationID string  `json:"conversationId"`
	TempID         string  `json:"tempId"`
	Kind           string  `json:"kind"`
	Text           string  `json:"text,omitempty"`
	MediaURL       string  `json:"mediaUrl,omitempty"`
	Latitude       float64 `json:"latitude,omitempty"`
	Longitude      float64 `json:"longitude,omitempty"`
	ReplyToID      string  `json:"replyToId,omitempty"`
}

// EditMessage is the outbound editMessage payload.
type EditMessage struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Text           string `json:"text"`
}

// DeleteMessage is the outbound deleteMessage payload.
type DeleteMessage struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// MarkAsRead is the outbound markAsRead payload.
type MarkAsRead struct {
	ConversationID string `json:"conversationId"`
}

// JoinLeave is the payload of joinConversation/leaveConversation.
type JoinLeave struct {
	ConversationID string `json:"conversationId"`
}
