package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nbrly/chatsync/chatstore"
	"github.com/nbrly/chatsync/wire"
)

// Mapping between the backend's wire shapes and the store's domain records.
// Missing names compose to "Unknown User"; absent avatar/online default to
// empty/false.

func unmarshalPayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(raw, v)
}

func toDomainMessage(m *wire.Message) chatstore.Message {
	kind := chatstore.ContentKind(m.Kind)
	if kind == "" {
		kind = chatstore.ContentText
	}
	return chatstore.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.Sender.ID,
		SenderName:     m.Sender.DisplayName(),
		Kind:           kind,
		Text:           m.Text,
		MediaURL:       m.MediaURL,
		Latitude:       m.Latitude,
		Longitude:      m.Longitude,
		ReplyToID:      m.ReplyToID,
		Status:         chatstore.StatusSent,
		CreatedAt:      fromMillis(m.CreatedAt),
		Edited:         m.Edited,
		EditedAt:       fromMillis(m.EditedAt),
	}
}

func toDomainParticipant(u *wire.User) chatstore.Participant {
	return chatstore.Participant{
		ID:          u.ID,
		DisplayName: u.DisplayName(),
		AvatarURL:   u.Avatar,
		Role:        u.Role,
		Online:      u.Online,
		LastSeenAt:  fromMillis(u.LastSeen),
	}
}

func toDomainConversation(c *wire.Conversation) chatstore.Conversation {
	kind := chatstore.Kind(c.Kind)
	if kind == "" {
		kind = chatstore.KindDirect
	}

	conv := chatstore.Conversation{
		ID:          c.ID,
		Kind:        kind,
		Title:       c.Title,
		UnreadCount: c.UnreadCount,
		Pinned:      c.Pinned,
		Archived:    c.Archived,
		CreatedAt:   fromMillis(c.CreatedAt),
		UpdatedAt:   fromMillis(c.UpdatedAt),
		Metadata: chatstore.Metadata{
			Description: c.Description,
			EventID:     c.EventID,
			BusinessID:  c.BusinessID,
		},
	}
	for i := range c.Participants {
		conv.Participants = append(conv.Participants, toDomainParticipant(&c.Participants[i]))
	}
	if c.LastMessage != nil {
		lm := toDomainMessage(c.LastMessage)
		conv.LastMessage = &lm
	}
	return conv
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
