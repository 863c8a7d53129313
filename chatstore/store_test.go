package chatstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const self = "u-self"

func seedConversation(s *Store, id string) {
	s.UpsertConversation(Conversation{
		ID:   id,
		Kind: KindDirect,
		Participants: []Participant{
			{ID: self, DisplayName: "Me"},
			{ID: "u-2", DisplayName: "Alice Baker"},
		},
		UpdatedAt: time.Now(),
	})
}

func incoming(id, convID, sender string) Message {
	return Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       sender,
		SenderName:     "Alice Baker",
		Kind:           ContentText,
		Text:           "hi",
		Status:         StatusSent,
		CreatedAt:      time.Now(),
	}
}

func TestStatusMonotonic(t *testing.T) {
	s := New(self)
	seedConversation(s, "c1")

	_, _ = s.ApplyIncoming(incoming("m1", "c1", "u-2"))

	// sent -> delivered
	assert.True(t, s.MarkDelivered("c1", "m1"))
	m, ok := s.Message("c1", "m1")
	require.True(t, ok)
	assert.Equal(t, StatusDelivered, m.Status)

	// duplicate delivered receipt is a no-op
	assert.False(t, s.MarkDelivered("c1", "m1"))

	// delivered -> read
	changed := s.MarkRead("c1")
	assert.Equal(t, []string{"m1"}, changed)

	// read never regresses
	assert.False(t, s.MarkDelivered("c1", "m1"))
	assert.Empty(t, s.MarkRead("c1"))
	m, _ = s.Message("c1", "m1")
	assert.Equal(t, StatusRead, m.Status)
}

func TestMarkReadZeroesUnreadAndSkipsSelf(t *testing.T) {
	s := New(self)
	seedConversation(s, "c1")

	_, _ = s.ApplyIncoming(incoming("m1", "c1", "u-2"))
	_, _ = s.ApplyIncoming(incoming("m2", "c1", "u-2"))
	mine := incoming("m3", "c1", self)
	_, _ = s.ApplyIncoming(mine)

	c, _ := s.Conversation("c1")
	assert.Equal(t, 2, c.UnreadCount)

	changed := s.MarkRead("c1")
	assert.ElementsMatch(t, []string{"m1", "m2"}, changed)

	c, _ = s.Conversation("c1")
	assert.Equal(t, 0, c.UnreadCount)

	for _, m := range s.Messages("c1") {
		if m.SenderID == self {
			assert.NotEqual(t, StatusRead, m.Status, "own message must not be force-read")
		} else {
			assert.Equal(t, StatusRead, m.Status)
		}
	}
}

func TestPeerReadReceiptAdvancesOwnMessages(t *testing.T) {
	s := New(self)
	seedConversation(s, "c1")

	_, _ = s.ApplyIncoming(incoming("m1", "c1", self))
	_, _ = s.ApplyIncoming(incoming("m2", "c1", "u-2"))
	c, _ := s.Conversation("c1")
	require.Equal(t, 1, c.UnreadCount)

	changed := s.MarkPeerRead("c1")
	assert.Equal(t, []string{"m1"}, changed)

	m, _ := s.Message("c1", "m1")
	assert.Equal(t, StatusRead, m.Status)
	m, _ = s.Message("c1", "m2")
	assert.Equal(t, StatusSent, m.Status, "peer receipt must not touch inbound messages")

	c, _ = s.Conversation("c1")
	assert.Equal(t, 1, c.UnreadCount, "peer receipt must not touch the unread counter")

	// duplicate receipt changes nothing
	assert.Empty(t, s.MarkPeerRead("c1"))
}

func TestConfirmMessageReplacesInPlace(t *testing.T) {
	s := New(self)
	seedConversation(s, "c1")
	_, _ = s.ApplyIncoming(incoming("m1", "c1", "u-2"))

	s.AddLocalMessage(Message{
		ID:             "tmp-1",
		ConversationID: "c1",
		SenderID:       self,
		Text:           "hello",
		CreatedAt:      time.Now(),
	})
	_, _ = s.ApplyIncoming(incoming("m2", "c1", "u-2"))

	require.True(t, s.ConfirmMessage("tmp-1", Message{
		ID:             "srv-9",
		ConversationID: "c1",
		SenderID:       self,
		Text:           "hello",
		Status:         StatusSent,
		CreatedAt:      time.Now(),
	}))

	msgs := s.Messages("c1")
	require.Len(t, msgs, 3)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "srv-9", msgs[1].ID, "confirmed record keeps the optimistic position")
	assert.Equal(t, "m2", msgs[2].ID)
	assert.Equal(t, StatusSent, msgs[1].Status)

	// a second ack for the same temp id finds nothing
	assert.False(t, s.ConfirmMessage("tmp-1", Message{ID: "srv-9", ConversationID: "c1"}))
}

func TestConfirmAfterEarlierDelete(t *testing.T) {
	s := New(self)
	seedConversation(s, "c1")
	_, _ = s.ApplyIncoming(incoming("m1", "c1", "u-2"))
	s.AddLocalMessage(Message{ID: "tmp-1", ConversationID: "c1", SenderID: self, Text: "x"})

	// deleting a message before the pending one shifts its index
	require.True(t, s.RemoveMessage("c1", "m1"))
	require.True(t, s.ConfirmMessage("tmp-1", Message{
		ID: "srv-1", ConversationID: "c1", SenderID: self, Text: "x", Status: StatusSent,
	}))

	msgs := s.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-1", msgs[0].ID)
}

func TestFailMessageKeepsRecordVisible(t *testing.T) {
	s := New(self)
	seedConversation(s, "c1")
	s.AddLocalMessage(Message{ID: "tmp-1", ConversationID: "c1", SenderID: self, Text: "x"})

	require.True(t, s.FailMessage("tmp-1"))
	m, ok := s.Message("c1", "tmp-1")
	require.True(t, ok, "failed message stays visible for retry")
	assert.Equal(t, StatusFailed, m.Status)

	// settled request: the late ack is ignored
	assert.False(t, s.ConfirmMessage("tmp-1", Message{ID: "srv-1", ConversationID: "c1"}))
}

func TestApplyIncomingUnreadAndSuppression(t *testing.T) {
	s := New(self)
	seedConversation(s, "c1")

	applied, suppressed := s.ApplyIncoming(incoming("m1", "c1", "u-2"))
	assert.True(t, applied)
	assert.False(t, suppressed)
	c, _ := s.Conversation("c1")
	assert.Equal(t, 1, c.UnreadCount)

	// duplicate push is a no-op
	applied, _ = s.ApplyIncoming(incoming("m1", "c1", "u-2"))
	assert.False(t, applied)
	c, _ = s.Conversation("c1")
	assert.Equal(t, 1, c.UnreadCount)

	// active conversation suppresses the increment
	s.SetActiveConversation("c1")
	applied, suppressed = s.ApplyIncoming(incoming("m2", "c1", "u-2"))
	assert.True(t, applied)
	assert.True(t, suppressed)
	c, _ = s.Conversation("c1")
	assert.Equal(t, 1, c.UnreadCount)

	// own message from another device never counts unread
	applied, suppressed = s.ApplyIncoming(incoming("m3", "c2", self))
	assert.True(t, applied)
	assert.False(t, suppressed)
}

func TestStopTypingIdempotent(t *testing.T) {
	s := New(self)

	u := TypingUser{UserID: "u-2", DisplayName: "Alice Baker", Since: time.Now()}
	assert.True(t, s.SetTyping("c1", u, true))
	require.Len(t, s.TypingUsers("c1"), 1)

	assert.True(t, s.SetTyping("c1", u, false))
	assert.Empty(t, s.TypingUsers("c1"))

	// second stop leaves the set unchanged
	assert.False(t, s.SetTyping("c1", u, false))
	assert.Empty(t, s.TypingUsers("c1"))
}

func TestTypingRefreshSupersedes(t *testing.T) {
	s := New(self)

	t0 := time.Now()
	s.SetTyping("c1", TypingUser{UserID: "u-2", Since: t0}, true)
	s.SetTyping("c1", TypingUser{UserID: "u-2", Since: t0.Add(time.Second)}, true)

	users := s.TypingUsers("c1")
	require.Len(t, users, 1)
	assert.Equal(t, t0.Add(time.Second), users[0].Since)
}

func TestConversationOrdering(t *testing.T) {
	s := New(self)
	base := time.Now()

	s.UpsertConversation(Conversation{ID: "old", UpdatedAt: base.Add(-2 * time.Hour)})
	s.UpsertConversation(Conversation{ID: "new", UpdatedAt: base})
	s.UpsertConversation(Conversation{ID: "pinned-old", Pinned: true, UpdatedAt: base.Add(-3 * time.Hour)})
	s.UpsertConversation(Conversation{ID: "pinned-new", Pinned: true, UpdatedAt: base.Add(-time.Hour)})

	ids := func() []string {
		var out []string
		for _, c := range s.Conversations() {
			out = append(out, c.ID)
		}
		return out
	}
	assert.Equal(t, []string{"pinned-new", "pinned-old", "new", "old"}, ids())

	// any update preserves the invariant on the next read
	s.UpsertConversation(Conversation{ID: "old", UpdatedAt: base.Add(time.Hour)})
	assert.Equal(t, []string{"pinned-new", "pinned-old", "old", "new"}, ids())
}

func TestSnapshotsAreDefensive(t *testing.T) {
	s := New(self)
	seedConversation(s, "c1")
	_, _ = s.ApplyIncoming(incoming("m1", "c1", "u-2"))

	convs := s.Conversations()
	convs[0].Title = "mutated"
	convs[0].Participants[0].DisplayName = "mutated"

	c, _ := s.Conversation("c1")
	assert.NotEqual(t, "mutated", c.Title)
	assert.NotEqual(t, "mutated", c.Participants[0].DisplayName)

	msgs := s.Messages("c1")
	msgs[0].Text = "mutated"
	m, _ := s.Message("c1", "m1")
	assert.Equal(t, "hi", m.Text)
}

func TestRemoveMessageTotality(t *testing.T) {
	s := New(self)
	seedConversation(s, "c1")

	// deleting an absent id is a no-op, not an error
	assert.False(t, s.RemoveMessage("c1", "nope"))
	assert.False(t, s.RemoveMessage("no-conv", "nope"))

	_, _ = s.ApplyIncoming(incoming("m1", "c1", "u-2"))
	_, _ = s.ApplyIncoming(incoming("m2", "c1", "u-2"))
	assert.True(t, s.RemoveMessage("c1", "m2"))

	// lastMessage falls back to the remaining tail
	c, _ := s.Conversation("c1")
	require.NotNil(t, c.LastMessage)
	assert.Equal(t, "m1", c.LastMessage.ID)
}

func TestSetUserStatus(t *testing.T) {
	s := New(self)
	seedConversation(s, "c1")
	seedConversation(s, "c2")

	seen := time.Now()
	affected := s.SetUserStatus("u-2", true, seen)
	assert.ElementsMatch(t, []string{"c1", "c2"}, affected)

	c, _ := s.Conversation("c1")
	for _, p := range c.Participants {
		if p.ID == "u-2" {
			assert.True(t, p.Online)
			assert.Equal(t, seen, p.LastSeenAt)
		}
	}

	assert.Empty(t, s.SetUserStatus("u-unknown", true, seen))
}

func TestUnreadNeverNegative(t *testing.T) {
	s := New(self)
	s.UpsertConversation(Conversation{ID: "c1", UnreadCount: -3})
	c, _ := s.Conversation("c1")
	assert.Equal(t, 0, c.UnreadCount)

	s.SetUnreadCounts(map[string]int{"c1": -1, "missing": 5})
	c, _ = s.Conversation("c1")
	assert.Equal(t, 0, c.UnreadCount)
}

func TestOwnsMessage(t *testing.T) {
	s := New(self)
	seedConversation(s, "c1")
	_, _ = s.ApplyIncoming(incoming("m1", "c1", "u-2"))
	_, _ = s.ApplyIncoming(incoming("m2", "c1", self))

	assert.False(t, s.OwnsMessage("c1", "m1"))
	assert.True(t, s.OwnsMessage("c1", "m2"))
	assert.False(t, s.OwnsMessage("c1", "missing"))
}
