package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang/glog"

	"github.com/nbrly/chatsync/chatstore"
	"github.com/nbrly/chatsync/emitter"
	"github.com/nbrly/chatsync/wire"
)

// router is a pure dispatch table from inbound frame type to store mutation
// plus event emission. It runs on the single frame-consumption goroutine, so
// no two frames are processed concurrently; ordering within a conversation
// follows from that.
type router struct {
	c        *Client
	handlers map[string]func(json.RawMessage)
}

func newRouter(c *Client) *router {
	r := &router{c: c}
	r.handlers = map[string]func(json.RawMessage){
		wire.FrameAck:                 r.onAck,
		wire.FrameNewMessage:          r.onNewMessage,
		wire.FrameMessageUpdated:      r.onMessageUpdated,
		wire.FrameMessageDeleted:      r.onMessageDeleted,
		wire.FrameMessageRead:         r.onMessageRead,
		wire.FrameMessageDelivered:    r.onMessageDelivered,
		wire.FrameConversationUpdated: r.onConversationUpdated,
		wire.FrameUnreadCounts:        r.onUnreadCounts,
		wire.FrameUserTyping:          r.onUserTyping,
		wire.FrameUserStatusChanged:   r.onUserStatusChanged,
	}
	return r
}

// route dispatches one frame. Unknown types are logged and ignored, never
// fatal.
func (r *router) route(env *wire.Envelope) {
	h, ok := r.handlers[env.Type]
	if !ok {
		glog.Errorf("route(): unknown frame type `%s`, ignored", env.Type)
		return
	}
	h(env.Payload)
}

func (r *router) onAck(raw json.RawMessage) {
	var ack wire.Ack
	if err := unmarshalPayload(raw, &ack); err != nil {
		glog.Errorf("onAck(): malformed ack: %v", err)
		return
	}
	r.c.outbox.HandleAck(&ack)
}

func (r *router) onNewMessage(raw json.RawMessage) {
	var wm wire.Message
	if err := unmarshalPayload(raw, &wm); err != nil {
		glog.Errorf("onNewMessage(): malformed payload: %v", err)
		return
	}

	m := toDomainMessage(&wm)
	applied, suppressed := r.c.store.ApplyIncoming(m)
	if !applied {
		glog.V(5).Infof("onNewMessage(): duplicate message %s", m.ID)
		return
	}

	if m2, ok := r.c.store.Message(m.ConversationID, m.ID); ok {
		m = m2
	}
	r.c.events.Emit(emitter.EventMessageAdded, m)
	r.c.emitConversation(m.ConversationID)

	if suppressed {
		// The user is looking at this conversation; confirm the read to the
		// backend instead of counting it unread.
		convID := m.ConversationID
		r.c.wg.Add(1)
		go func() {
			defer r.c.wg.Done()
			if err := r.c.MarkAsRead(context.Background(), convID); err != nil {
				glog.V(5).Infof("onNewMessage(): auto markAsRead failed: %v", err)
			}
		}()
	}
}

func (r *router) onMessageUpdated(raw json.RawMessage) {
	var wm wire.Message
	if err := unmarshalPayload(raw, &wm); err != nil {
		glog.Errorf("onMessageUpdated(): malformed payload: %v", err)
		return
	}

	editedAt := fromMillis(wm.EditedAt)
	if editedAt.IsZero() {
		editedAt = time.Now()
	}
	if r.c.store.UpdateMessage(wm.ConversationID, wm.ID, wm.Text, editedAt) {
		if m, ok := r.c.store.Message(wm.ConversationID, wm.ID); ok {
			r.c.events.Emit(emitter.EventMessageEdited, m)
		}
	}
}

func (r *router) onMessageDeleted(raw json.RawMessage) {
	var p wire.MessageDeleted
	if err := unmarshalPayload(raw, &p); err != nil {
		glog.Errorf("onMessageDeleted(): malformed payload: %v", err)
		return
	}

	if r.c.store.RemoveMessage(p.ConversationID, p.MessageID) {
		r.c.events.Emit(emitter.EventMessageDeleted,
			MessageDeletedEvent{ConversationID: p.ConversationID, MessageID: p.MessageID})
		r.c.emitConversation(p.ConversationID)
	}
}

func (r *router) onMessageRead(raw json.RawMessage) {
	var p wire.MessageRead
	if err := unmarshalPayload(raw, &p); err != nil {
		glog.Errorf("onMessageRead(): malformed payload: %v", err)
		return
	}

	// A receipt from the local user on another device syncs the local read
	// state; a peer's receipt advances the local user's sent messages.
	var changed []string
	if p.UserID == r.c.store.SelfID() {
		changed = r.c.store.MarkRead(p.ConversationID)
	} else {
		changed = r.c.store.MarkPeerRead(p.ConversationID)
	}
	for _, id := range changed {
		if m, ok := r.c.store.Message(p.ConversationID, id); ok {
			r.c.events.Emit(emitter.EventMessageStatusChanged, m)
		}
	}
	r.c.emitConversation(p.ConversationID)
}

func (r *router) onMessageDelivered(raw json.RawMessage) {
	var p wire.MessageDelivered
	if err := unmarshalPayload(raw, &p); err != nil {
		glog.Errorf("onMessageDelivered(): malformed payload: %v", err)
		return
	}

	if r.c.store.MarkDelivered(p.ConversationID, p.MessageID) {
		if m, ok := r.c.store.Message(p.ConversationID, p.MessageID); ok {
			r.c.events.Emit(emitter.EventMessageStatusChanged, m)
		}
	}
}

func (r *router) onConversationUpdated(raw json.RawMessage) {
	var wc wire.Conversation
	if err := unmarshalPayload(raw, &wc); err != nil {
		glog.Errorf("onConversationUpdated(): malformed payload: %v", err)
		return
	}

	conv := toDomainConversation(&wc)
	created := r.c.store.UpsertConversation(conv)
	if snap, ok := r.c.store.Conversation(conv.ID); ok {
		conv = snap
	}
	if created {
		r.c.events.Emit(emitter.EventConversationCreated, conv)
	} else {
		r.c.events.Emit(emitter.EventConversationUpdated, conv)
	}
}

func (r *router) onUnreadCounts(raw json.RawMessage) {
	var p wire.UnreadCounts
	if err := unmarshalPayload(raw, &p); err != nil {
		glog.Errorf("onUnreadCounts(): malformed payload: %v", err)
		return
	}

	r.c.store.SetUnreadCounts(p.Counts)
	for convID := range p.Counts {
		r.c.emitConversation(convID)
	}
}

func (r *router) onUserTyping(raw json.RawMessage) {
	var p wire.Typing
	if err := unmarshalPayload(raw, &p); err != nil {
		glog.Errorf("onUserTyping(): malformed payload: %v", err)
		return
	}

	u := wire.User{ID: p.UserID, FirstName: p.FirstName, LastName: p.LastName}
	entry := chatstore.TypingUser{
		UserID:      p.UserID,
		DisplayName: u.DisplayName(),
		Since:       time.Now(),
	}
	if r.c.store.SetTyping(p.ConversationID, entry, p.Typing) {
		r.c.events.Emit(emitter.EventTypingStatusChanged, TypingEvent{
			ConversationID: p.ConversationID,
			Users:          r.c.store.TypingUsers(p.ConversationID),
		})
	}
}

func (r *router) onUserStatusChanged(raw json.RawMessage) {
	var p wire.UserStatus
	if err := unmarshalPayload(raw, &p); err != nil {
		glog.Errorf("onUserStatusChanged(): malformed payload: %v", err)
		return
	}

	for i := range p.Users {
		u := &p.Users[i]
		for _, convID := range r.c.store.SetUserStatus(u.ID, u.Online, fromMillis(u.LastSeen)) {
			r.c.emitConversation(convID)
		}
	}
}
