package chatstore

import "time"

// Kind of a conversation.
type Kind string

const (
	KindDirect  Kind = "direct"
	KindGroup   Kind = "group"
	KindChannel Kind = "channel" // broadcast channel, e.g. a business or event feed
)

// ContentKind of a message payload.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentImage    ContentKind = "image"
	ContentAudio    ContentKind = "audio"
	ContentLocation ContentKind = "location"
)

// Status is the delivery lifecycle of a message. The ladder only moves
// forward: sending -> sent -> delivered -> read, with failed as the terminal
// branch out of sending.
type Status int

const (
	StatusSending Status = iota
	StatusSent
	StatusDelivered
	StatusRead
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Participant is a member of a conversation.
type Participant struct {
	ID          string
	DisplayName string
	AvatarURL   string
	Role        string
	Online      bool
	LastSeenAt  time.Time
}

// Message is one chat message as held by the store.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	Kind           ContentKind
	Text           string
	MediaURL       string
	Latitude       float64
	Longitude      float64
	ReplyToID      string
	Status         Status
	CreatedAt      time.Time
	Edited         bool
	EditedAt       time.Time
}

// Metadata links a conversation to the community context it belongs to.
type Metadata struct {
	Description string
	EventID     string
	BusinessID  string
}

// Conversation is one chat thread.
type Conversation struct {
	ID           string
	Kind         Kind
	Title        string
	Participants []Participant
	LastMessage  *Message
	UnreadCount  int
	Pinned       bool
	Archived     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Metadata     Metadata
}

// TypingUser is an ephemeral typing indicator entry.
type TypingUser struct {
	UserID      string
	DisplayName string
	Since       time.Time
}
