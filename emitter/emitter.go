// Package emitter is a small observer-list pub/sub used to fan out store
// mutations to UI subscribers. A panicking subscriber never breaks delivery to
// the others.
package emitter

import (
	"sync"

	"github.com/golang/glog"
)

// Event names exposed to subscribers.
const (
	EventMessageAdded         = "messageAdded"
	EventMessageEdited        = "messageEdited"
	EventMessageDeleted       = "messageDeleted"
	EventMessageStatusChanged = "messageStatusChanged"
	EventConversationCreated  = "conversationCreated"
	EventConversationUpdated  = "conversationUpdated"
	EventTypingStatusChanged  = "typingStatusChanged"
	EventConnected            = "connected"
	EventDisconnected         = "disconnected"
	EventReconnectFailed      = "reconnect_failed"
)

// Handler receives the event payload. Payloads are snapshots owned by the
// subscriber; mutating them never affects the store.
type Handler func(payload interface{})

type subscriber struct {
	id int
	fn Handler
}

// Emitter fans out named events to registered handlers in subscription order.
// The zero value is not usable; call New.
type Emitter struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscriber
}

func New() *Emitter {
	return &Emitter{subs: make(map[string][]subscriber)}
}

// Subscribe registers fn for the named event and returns an unsubscribe
// function. Unsubscribing twice is a no-op.
func (e *Emitter) Subscribe(event string, fn Handler) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs[event] = append(e.subs[event], subscriber{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		slice := e.subs[event]
		for i, s := range slice {
			if s.id == id {
				e.subs[event] = append(slice[:i:i], slice[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers payload to every subscriber of event, synchronously, in
// subscription order.
func (e *Emitter) Emit(event string, payload interface{}) {
	e.mu.RLock()
	// Copy so handlers may subscribe/unsubscribe from within a callback.
	slice := make([]subscriber, len(e.subs[event]))
	copy(slice, e.subs[event])
	e.mu.RUnlock()

	for _, s := range slice {
		deliver(event, s, payload)
	}
}

func deliver(event string, s subscriber, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("Emit(): subscriber %d for `%s` panicked: %v", s.id, event, r)
		}
	}()
	s.fn(payload)
}
