// Package client assembles the messaging synchronization engine: transport,
// reconnection supervision, outbound queueing, frame routing, the
// conversation/message store and the event fan-out behind one explicitly
// constructed component with a start/stop lifecycle.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/nbrly/chatsync/auth"
	"github.com/nbrly/chatsync/chatstore"
	"github.com/nbrly/chatsync/emitter"
	"github.com/nbrly/chatsync/outbox"
	"github.com/nbrly/chatsync/wire"
	"github.com/nbrly/chatsync/ws"
)

// DefaultTypingIdle is how long after the last StartTyping call the engine
// auto-signals stop.
const DefaultTypingIdle = 2 * time.Second

// ErrNotMessageOwner rejects edit/delete of another user's message without a
// network call. The backend is the real authority and may reject too.
var ErrNotMessageOwner = errors.New("client: not the message owner")

// Config configures a Client.
type Config struct {
	// URL of the messaging websocket endpoint.
	URL string

	// SelfID is the local user id; SelfName its display name for optimistic
	// inserts.
	SelfID   string
	SelfName string

	// Tokens yields the bearer credential.
	Tokens auth.TokenSource

	// RequestTimeout bounds the wait for per-request acknowledgments.
	// Defaults to outbox.DefaultTimeout.
	RequestTimeout time.Duration

	// ReconnectBaseDelay and ReconnectMaxAttempts tune the supervisor.
	ReconnectBaseDelay   time.Duration
	ReconnectMaxAttempts int

	// TypingIdle is the auto-stop delay for typing signals. Defaults to
	// DefaultTypingIdle.
	TypingIdle time.Duration

	// NewDriver overrides the transport driver, used by tests.
	NewDriver func() ws.Driver
}

// Outgoing is the content of a message to send.
type Outgoing struct {
	Kind      chatstore.ContentKind
	Text      string
	MediaURL  string
	Latitude  float64
	Longitude float64
	ReplyToID string
}

// DisconnectedEvent is the payload of the disconnected event.
type DisconnectedEvent struct {
	Reason string
}

// MessageDeletedEvent is the payload of the messageDeleted event.
type MessageDeletedEvent struct {
	ConversationID string
	MessageID      string
}

// TypingEvent is the payload of the typingStatusChanged event.
type TypingEvent struct {
	ConversationID string
	Users          []chatstore.TypingUser
}

// Client is one messaging sync engine instance. Construct with New, then
// Start; multiple isolated instances may coexist in one process.
type Client struct {
	cfg Config

	store  *chatstore.Store
	events *emitter.Emitter
	conn   *ws.Conn
	super  *ws.Supervisor
	outbox *outbox.Outbox
	router *router

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	typingMu     sync.Mutex
	typingActive map[string]bool
	typingTimers map[string]*time.Timer
}

func New(cfg Config) *Client {
	if cfg.TypingIdle <= 0 {
		cfg.TypingIdle = DefaultTypingIdle
	}

	c := &Client{
		cfg:          cfg,
		store:        chatstore.New(cfg.SelfID),
		events:       emitter.New(),
		typingActive: make(map[string]bool),
		typingTimers: make(map[string]*time.Timer),
	}

	c.conn = ws.NewConn(ws.ConnConfig{
		URL:       cfg.URL,
		Tokens:    cfg.Tokens,
		NewDriver: cfg.NewDriver,
	})
	c.outbox = outbox.New(c.conn, cfg.RequestTimeout)
	c.super = ws.NewSupervisor(c.conn, ws.SupervisorConfig{
		BaseDelay:   cfg.ReconnectBaseDelay,
		MaxAttempts: cfg.ReconnectMaxAttempts,
	}, ws.Hooks{
		Connected: func() {
			c.outbox.Flush()
			c.events.Emit(emitter.EventConnected, nil)
		},
		Disconnected: func(reason string) {
			c.events.Emit(emitter.EventDisconnected, DisconnectedEvent{Reason: reason})
		},
		ReconnectFailed: func() {
			c.events.Emit(emitter.EventReconnectFailed, nil)
		},
	})
	c.router = newRouter(c)
	return c
}

// Start connects and begins processing frames. The initial connect error,
// notably ws.AuthenticationError, is returned to the caller.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("client: already started")
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	if err := c.super.Start(c.ctx); err != nil {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		c.cancel()
		return err
	}

	c.wg.Add(1)
	go c.readLoop()
	return nil
}

// Stop disconnects and rejects everything still queued. Idempotent.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	c.cancel()
	c.super.Stop()
	c.outbox.Close()

	c.typingMu.Lock()
	for id, t := range c.typingTimers {
		t.Stop()
		delete(c.typingTimers, id)
	}
	c.typingActive = make(map[string]bool)
	c.typingMu.Unlock()

	c.wg.Wait()
	glog.Infof("Stop(): client stopped")
}

// ForceReconnect starts a fresh reconnection round after reconnect_failed.
func (c *Client) ForceReconnect() {
	c.super.ForceReconnect()
}

// Subscribe registers a handler for a named event (see package emitter) and
// returns an unsubscribe function.
func (c *Client) Subscribe(event string, fn emitter.Handler) func() {
	return c.events.Subscribe(event, fn)
}

// ConnectionState reports the transport state.
func (c *Client) ConnectionState() ws.State {
	return c.conn.State()
}

// Conversations returns the sorted conversation snapshot: pinned first, then
// most recently updated first.
func (c *Client) Conversations() []chatstore.Conversation {
	return c.store.Conversations()
}

// Messages returns the conversation's messages in arrival order.
func (c *Client) Messages(convID string) []chatstore.Message {
	return c.store.Messages(convID)
}

// TypingUsers returns who is currently typing in the conversation.
func (c *Client) TypingUsers(convID string) []chatstore.TypingUser {
	return c.store.TypingUsers(convID)
}

// SetActiveConversation tells the engine which conversation the UI is
// showing; inbound messages for it are auto-marked read instead of counted
// unread. Empty id clears it.
func (c *Client) SetActiveConversation(convID string) {
	c.store.SetActiveConversation(convID)
}

// SendMessage inserts the message optimistically with status sending and
// transmits it, queueing while offline. It returns the server-confirmed
// message, or the optimistic record plus an error when the send failed or ctx
// ended first. The engine settles the outcome in the store either way.
func (c *Client) SendMessage(ctx context.Context, convID string, out Outgoing) (chatstore.Message, error) {
	// Sending a message beats the typing idle timer.
	c.StopTyping(convID)

	if out.Kind == "" {
		out.Kind = chatstore.ContentText
	}

	tempID := "tmp-" + newID()
	optimistic := chatstore.Message{
		ID:             tempID,
		ConversationID: convID,
		SenderID:       c.cfg.SelfID,
		SenderName:     c.cfg.SelfName,
		Kind:           out.Kind,
		Text:           out.Text,
		MediaURL:       out.MediaURL,
		Latitude:       out.Latitude,
		Longitude:      out.Longitude,
		ReplyToID:      out.ReplyToID,
		Status:         chatstore.StatusSending,
		CreatedAt:      time.Now(),
	}
	c.store.AddLocalMessage(optimistic)
	c.events.Emit(emitter.EventMessageAdded, optimistic)
	c.emitConversation(convID)

	env := wire.NewEnvelope(newID(), wire.OpSendMessage, wire.SendMessage{
		ConversationID: convID,
		TempID:         tempID,
		Kind:           string(out.Kind),
		Text:           out.Text,
		MediaURL:       out.MediaURL,
		Latitude:       out.Latitude,
		Longitude:      out.Longitude,
		ReplyToID:      out.ReplyToID,
	})

	type sendOutcome struct {
		msg chatstore.Message
		err error
	}
	outcomeC := make(chan sendOutcome, 1)

	// The outcome is settled in the store even if the caller stops waiting:
	// UI abandonment must never desynchronize the cache from server truth.
	resC := c.outbox.Submit(env)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res := <-resC
		msg, err := c.finishSend(convID, tempID, res)
		outcomeC <- sendOutcome{msg: msg, err: err}
	}()

	select {
	case oc := <-outcomeC:
		return oc.msg, oc.err
	case <-ctx.Done():
		return optimistic, ctx.Err()
	}
}

// finishSend reconciles the optimistic record with the request outcome.
func (c *Client) finishSend(convID, tempID string, res outbox.Result) (chatstore.Message, error) {
	if res.Err != nil {
		if c.store.FailMessage(tempID) {
			if m, ok := c.store.Message(convID, tempID); ok {
				c.events.Emit(emitter.EventMessageStatusChanged, m)
			}
		}
		m, _ := c.store.Message(convID, tempID)
		return m, res.Err
	}

	var wm wire.Message
	if err := unmarshalPayload(res.Ack.Payload, &wm); err != nil {
		glog.Errorf("finishSend(): bad ack payload: %v", err)
		c.store.FailMessage(tempID)
		m, _ := c.store.Message(convID, tempID)
		return m, fmt.Errorf("client: bad sendMessage ack: %v", err)
	}

	confirmed := toDomainMessage(&wm)
	if !c.store.ConfirmMessage(tempID, confirmed) {
		// Timed out locally before the ack; the record is already failed.
		m, _ := c.store.Message(convID, tempID)
		return m, fmt.Errorf("client: late ack for %s ignored", tempID)
	}
	if m, ok := c.store.Message(convID, confirmed.ID); ok {
		confirmed = m
	}
	c.events.Emit(emitter.EventMessageStatusChanged, confirmed)
	c.emitConversation(convID)
	return confirmed, nil
}

// EditMessage edits one of the local user's own messages.
func (c *Client) EditMessage(ctx context.Context, convID, msgID, text string) error {
	if !c.store.OwnsMessage(convID, msgID) {
		return ErrNotMessageOwner
	}

	_, err := c.request(ctx, wire.OpEditMessage, wire.EditMessage{
		ConversationID: convID,
		MessageID:      msgID,
		Text:           text,
	}, func(ack *wire.Ack) {
		if c.store.UpdateMessage(convID, msgID, text, time.Now()) {
			if m, ok := c.store.Message(convID, msgID); ok {
				c.events.Emit(emitter.EventMessageEdited, m)
			}
		}
	})
	return err
}

// DeleteMessage deletes one of the local user's own messages.
func (c *Client) DeleteMessage(ctx context.Context, convID, msgID string) error {
	if !c.store.OwnsMessage(convID, msgID) {
		return ErrNotMessageOwner
	}

	_, err := c.request(ctx, wire.OpDeleteMessage, wire.DeleteMessage{
		ConversationID: convID,
		MessageID:      msgID,
	}, func(ack *wire.Ack) {
		if c.store.RemoveMessage(convID, msgID) {
			c.events.Emit(emitter.EventMessageDeleted,
				MessageDeletedEvent{ConversationID: convID, MessageID: msgID})
		}
	})
	return err
}

// MarkAsRead zeroes the conversation's unread counter locally and notifies
// the backend, queueing while offline.
func (c *Client) MarkAsRead(ctx context.Context, convID string) error {
	c.applyLocalRead(convID)

	_, err := c.request(ctx, wire.OpMarkAsRead, wire.MarkAsRead{ConversationID: convID}, nil)
	return err
}

// StartTyping signals typing=true and (re)arms the idle auto-stop timer.
func (c *Client) StartTyping(convID string) {
	c.typingMu.Lock()
	first := !c.typingActive[convID]
	c.typingActive[convID] = true
	if t, ok := c.typingTimers[convID]; ok {
		t.Stop()
	}
	c.typingTimers[convID] = time.AfterFunc(c.cfg.TypingIdle, func() {
		c.StopTyping(convID)
	})
	c.typingMu.Unlock()

	if first {
		c.fireAndForget(wire.OpTyping, wire.Typing{ConversationID: convID, Typing: true})
	}
}

// StopTyping signals typing=false. Idempotent: a second call, or the idle
// timer losing the race against stop-on-send, is a no-op.
func (c *Client) StopTyping(convID string) {
	c.typingMu.Lock()
	active := c.typingActive[convID]
	delete(c.typingActive, convID)
	if t, ok := c.typingTimers[convID]; ok {
		t.Stop()
		delete(c.typingTimers, convID)
	}
	c.typingMu.Unlock()

	if active {
		c.fireAndForget(wire.OpTyping, wire.Typing{ConversationID: convID, Typing: false})
	}
}

// JoinConversation subscribes the session to a conversation's push stream.
func (c *Client) JoinConversation(ctx context.Context, convID string) error {
	_, err := c.request(ctx, wire.OpJoinConversation, wire.JoinLeave{ConversationID: convID}, nil)
	return err
}

// LeaveConversation unsubscribes the session from a conversation.
func (c *Client) LeaveConversation(ctx context.Context, convID string) error {
	_, err := c.request(ctx, wire.OpLeaveConversation, wire.JoinLeave{ConversationID: convID}, nil)
	return err
}

// applyLocalRead performs the local half of markAsRead and emits the
// resulting mutations.
func (c *Client) applyLocalRead(convID string) {
	changed := c.store.MarkRead(convID)
	for _, id := range changed {
		if m, ok := c.store.Message(convID, id); ok {
			c.events.Emit(emitter.EventMessageStatusChanged, m)
		}
	}
	c.emitConversation(convID)
}

// request submits one op and waits for its definitive outcome. onAck runs
// engine-side even when the caller's ctx ends first.
func (c *Client) request(ctx context.Context, op string, payload interface{},
	onAck func(ack *wire.Ack)) (*wire.Ack, error) {

	env := wire.NewEnvelope(newID(), op, payload)
	resC := c.outbox.Submit(env)

	outcomeC := make(chan outbox.Result, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res := <-resC
		if res.Err == nil && onAck != nil {
			onAck(res.Ack)
		} else if res.Err != nil {
			glog.V(5).Infof("request(): %s failed: %v", op, res.Err)
		}
		outcomeC <- res
	}()

	select {
	case res := <-outcomeC:
		return res.Ack, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fireAndForget submits an op whose failure is only logged (typing signals).
func (c *Client) fireAndForget(op string, payload interface{}) {
	resC := c.outbox.Submit(wire.NewEnvelope(newID(), op, payload))
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if res := <-resC; res.Err != nil {
			glog.V(5).Infof("fireAndForget(): %s failed: %v", op, res.Err)
		}
	}()
}

func (c *Client) emitConversation(convID string) {
	if conv, ok := c.store.Conversation(convID); ok {
		c.events.Emit(emitter.EventConversationUpdated, conv)
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case env := <-c.conn.Frames():
			c.router.route(env)
		}
	}
}

func newID() string {
	return strings.ReplaceAll(uuid.New(), "-", "")
}
