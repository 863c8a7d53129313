// Package chatstore holds the authoritative client-side view of conversations
// and messages. It is mutated only by the frame router and by the client's own
// write methods; every read accessor returns a defensive snapshot.
package chatstore

import (
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
)

// position locates an optimistic (not yet acknowledged) message so the server
// acknowledgment can replace it in place without scanning the list.
type position struct {
	convID string
	index  int
}

// Store is the in-memory conversation/message cache.
//
// All writes funnel through either the frame router (one goroutine) or the
// client's public write methods; the RWMutex exists for the concurrent UI
// readers, not to order writers.
type Store struct {
	mu sync.RWMutex

	selfID string

	convs   map[string]*Conversation
	msgs    map[string][]*Message
	pending map[string]position             // temp message id -> list position
	typing  map[string]map[string]TypingUser // conv id -> user id -> entry

	activeConv string
}

func New(selfID string) *Store {
	return &Store{
		selfID:  selfID,
		convs:   make(map[string]*Conversation),
		msgs:    make(map[string][]*Message),
		pending: make(map[string]position),
		typing:  make(map[string]map[string]TypingUser),
	}
}

// SelfID returns the local user id.
func (s *Store) SelfID() string {
	return s.selfID
}

// SetActiveConversation records which conversation the user is viewing.
// Inbound messages for the active conversation do not increment its unread
// counter. Empty id means no conversation is active.
func (s *Store) SetActiveConversation(convID string) {
	s.mu.Lock()
	s.activeConv = convID
	s.mu.Unlock()
}

// ActiveConversation returns the currently viewed conversation id, if any.
func (s *Store) ActiveConversation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeConv
}

// UpsertConversation merges a server conversation snapshot. Reports whether
// the conversation was newly created.
func (s *Store) UpsertConversation(c Conversation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}

	cp := copyConversation(&c)
	_, exists := s.convs[c.ID]
	s.convs[c.ID] = cp
	return !exists
}

// Conversations returns a sorted snapshot: pinned first, then most recently
// updated first.
func (s *Store) Conversations() []Conversation {
	s.mu.RLock()
	out := make([]Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, *copyConversation(c))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Conversation returns a snapshot of one conversation.
func (s *Store) Conversation(convID string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[convID]
	if !ok {
		return Conversation{}, false
	}
	return *copyConversation(c), true
}

// Messages returns a snapshot of the conversation's messages in arrival order.
func (s *Store) Messages(convID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.msgs[convID]
	out := make([]Message, len(list))
	for i, m := range list {
		out[i] = *m
	}
	return out
}

// Message returns a snapshot of one message.
func (s *Store) Message(convID, msgID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m := s.findLocked(convID, msgID); m != nil {
		return *m, true
	}
	return Message{}, false
}

// AddLocalMessage inserts an optimistic message with status `sending` and
// indexes its position for later reconciliation. The caller supplies the
// temporary id.
func (s *Store) AddLocalMessage(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.Status = StatusSending
	m := msg
	list := s.msgs[m.ConversationID]
	s.pending[m.ID] = position{convID: m.ConversationID, index: len(list)}
	s.msgs[m.ConversationID] = append(list, &m)
	s.touchConversation(m.ConversationID, &m)
}

// ConfirmMessage replaces the optimistic record identified by tempID with the
// server-confirmed message, at the same list position. Reports whether a
// pending record was found; a late ack after timeout finds nothing and is a
// no-op.
func (s *Store) ConfirmMessage(tempID string, confirmed Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.pending[tempID]
	if !ok {
		return false
	}
	delete(s.pending, tempID)

	if confirmed.Status < StatusSent {
		confirmed.Status = StatusSent
	}
	m := confirmed
	list := s.msgs[pos.convID]
	if pos.index >= len(list) || list[pos.index].ID != tempID {
		// Index drifted, should not happen while pending bookkeeping is right.
		glog.Errorf("ConfirmMessage(): stale position for temp id %s", tempID)
		return false
	}
	list[pos.index] = &m

	if c, ok := s.convs[pos.convID]; ok {
		if c.LastMessage != nil && c.LastMessage.ID == tempID {
			lm := m
			c.LastMessage = &lm
		}
	}
	return true
}

// FailMessage marks the optimistic record as failed. The message stays in the
// list so the UI can offer a retry; the pending index entry is dropped because
// the request is settled.
func (s *Store) FailMessage(tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.pending[tempID]
	if !ok {
		return false
	}
	delete(s.pending, tempID)

	list := s.msgs[pos.convID]
	if pos.index < len(list) && list[pos.index].ID == tempID {
		list[pos.index].Status = StatusFailed
		return true
	}
	return false
}

// ApplyIncoming appends a pushed message. Reports (applied, suppressed):
// applied is false for a duplicate id; suppressed is true when the
// conversation is active so the caller should issue markAsRead instead of
// counting it unread.
func (s *Store) ApplyIncoming(msg Message) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.msgs[msg.ConversationID]
	for _, m := range list {
		if m.ID == msg.ID {
			return false, false
		}
	}

	if msg.Status < StatusSent {
		msg.Status = StatusSent
	}
	m := msg
	s.msgs[m.ConversationID] = append(list, &m)
	s.touchConversation(m.ConversationID, &m)

	if m.SenderID == s.selfID {
		return true, false
	}

	suppressed := s.activeConv == m.ConversationID
	if !suppressed {
		if c, ok := s.convs[m.ConversationID]; ok {
			c.UnreadCount++
		}
	}
	return true, suppressed
}

// UpdateMessage applies an edit in place. Missing targets are a no-op.
func (s *Store) UpdateMessage(convID, msgID, text string, editedAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findLocked(convID, msgID)
	if m == nil {
		return false
	}
	m.Text = text
	m.Edited = true
	m.EditedAt = editedAt

	if c, ok := s.convs[convID]; ok && c.LastMessage != nil && c.LastMessage.ID == msgID {
		lm := *m
		c.LastMessage = &lm
	}
	return true
}

// RemoveMessage deletes a message by id. Deleting an absent id is a no-op.
func (s *Store) RemoveMessage(convID, msgID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.msgs[convID]
	idx := -1
	for i, m := range list {
		if m.ID == msgID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	s.msgs[convID] = append(list[:idx], list[idx+1:]...)

	// Optimistic records behind the removed one shift left by one.
	for tempID, pos := range s.pending {
		if pos.convID == convID && pos.index > idx {
			s.pending[tempID] = position{convID: convID, index: pos.index - 1}
		}
	}

	if c, ok := s.convs[convID]; ok && c.LastMessage != nil && c.LastMessage.ID == msgID {
		c.LastMessage = nil
		if rest := s.msgs[convID]; len(rest) > 0 {
			lm := *rest[len(rest)-1]
			c.LastMessage = &lm
		}
	}
	return true
}

// MarkDelivered advances one message from sent to delivered. Any other
// starting state makes it a no-op, so duplicate or out-of-order receipts are
// harmless.
func (s *Store) MarkDelivered(convID, msgID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findLocked(convID, msgID)
	if m == nil || m.Status != StatusSent {
		return false
	}
	m.Status = StatusDelivered
	s.syncLastMessageLocked(convID, m)
	return true
}

// MarkRead advances every non-self message in the conversation to read and
// zeroes the unread counter. Returns the ids of messages whose status changed.
func (s *Store) MarkRead(convID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	for _, m := range s.msgs[convID] {
		if m.SenderID == s.selfID {
			continue
		}
		if m.Status >= StatusSent && m.Status < StatusRead {
			m.Status = StatusRead
			s.syncLastMessageLocked(convID, m)
			changed = append(changed, m.ID)
		}
	}
	if c, ok := s.convs[convID]; ok {
		c.UnreadCount = 0
	}
	return changed
}

// MarkPeerRead applies a peer's read receipt: every message the local user
// sent advances to read. The unread counter tracks inbound messages and is
// untouched. Returns the ids of messages whose status changed.
func (s *Store) MarkPeerRead(convID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	for _, m := range s.msgs[convID] {
		if m.SenderID != s.selfID {
			continue
		}
		if m.Status >= StatusSent && m.Status < StatusRead {
			m.Status = StatusRead
			s.syncLastMessageLocked(convID, m)
			changed = append(changed, m.ID)
		}
	}
	return changed
}

// SetUnreadCounts applies a bulk unread reconciliation from the backend.
func (s *Store) SetUnreadCounts(counts map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for convID, n := range counts {
		if n < 0 {
			n = 0
		}
		if c, ok := s.convs[convID]; ok {
			c.UnreadCount = n
		}
	}
}

// SetTyping inserts, refreshes or removes a typing entry. Reports whether the
// set changed (removing an absent entry does not).
func (s *Store) SetTyping(convID string, user TypingUser, typing bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.typing[convID]
	if typing {
		if set == nil {
			set = make(map[string]TypingUser)
			s.typing[convID] = set
		}
		set[user.UserID] = user
		return true
	}

	if set == nil {
		return false
	}
	if _, ok := set[user.UserID]; !ok {
		return false
	}
	delete(set, user.UserID)
	if len(set) == 0 {
		delete(s.typing, convID)
	}
	return true
}

// TypingUsers returns the users currently typing in the conversation, oldest
// signal first.
func (s *Store) TypingUsers(convID string) []TypingUser {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.typing[convID]
	out := make([]TypingUser, 0, len(set))
	for _, u := range set {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Since.Equal(out[j].Since) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Since.Before(out[j].Since)
	})
	return out
}

// SetUserStatus updates online/last-seen for a user across all conversations
// they participate in. Returns the ids of affected conversations.
func (s *Store) SetUserStatus(userID string, online bool, lastSeen time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected []string
	for id, c := range s.convs {
		for i := range c.Participants {
			if c.Participants[i].ID != userID {
				continue
			}
			c.Participants[i].Online = online
			if !lastSeen.IsZero() {
				c.Participants[i].LastSeenAt = lastSeen
			}
			affected = append(affected, id)
			break
		}
	}
	return affected
}

// OwnsMessage reports whether the local user is the sender, the client-side
// guard for edit/delete.
func (s *Store) OwnsMessage(convID, msgID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.msgs[convID] {
		if m.ID == msgID {
			return m.SenderID == s.selfID
		}
	}
	return false
}

// findLocked returns the live message record, caller holds the lock.
func (s *Store) findLocked(convID, msgID string) *Message {
	for _, m := range s.msgs[convID] {
		if m.ID == msgID {
			return m
		}
	}
	return nil
}

// touchConversation updates lastMessage/updatedAt, creating a minimal
// placeholder conversation if the id is unknown yet (the authoritative
// snapshot arrives with the next conversationUpdated frame).
func (s *Store) touchConversation(convID string, m *Message) {
	c, ok := s.convs[convID]
	if !ok {
		c = &Conversation{ID: convID, Kind: KindDirect, CreatedAt: m.CreatedAt}
		s.convs[convID] = c
	}
	lm := *m
	c.LastMessage = &lm
	if m.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = m.CreatedAt
	}
}

// syncLastMessageLocked refreshes the lastMessage copy after a status change.
func (s *Store) syncLastMessageLocked(convID string, m *Message) {
	if c, ok := s.convs[convID]; ok && c.LastMessage != nil && c.LastMessage.ID == m.ID {
		lm := *m
		c.LastMessage = &lm
	}
}

func copyConversation(c *Conversation) *Conversation {
	cp := *c
	if c.Participants != nil {
		cp.Participants = make([]Participant, len(c.Participants))
		copy(cp.Participants, c.Participants)
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	return &cp
}
