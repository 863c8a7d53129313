package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nbrly/chatsync/auth"
	"github.com/nbrly/chatsync/chatstore"
	"github.com/nbrly/chatsync/wire"
	"github.com/nbrly/chatsync/ws"
)

const (
	selfID   = "u-self"
	selfName = "Casey Self"
)

// fakeTransport plays the backend: it hands out a fresh in-memory driver per
// connection attempt, records everything the engine transmits and lets tests
// push frames and cut the connection.
type fakeTransport struct {
	mu       sync.Mutex
	dialErrs []error // consumed one per dial, nil means success
	dials    int
	cur      *fakeWireDriver
	sent     []*wire.Envelope
}

func newFakeTransport(dialErrs ...error) *fakeTransport {
	return &fakeTransport{dialErrs: dialErrs}
}

func (f *fakeTransport) factory() ws.Driver {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if f.dials < len(f.dialErrs) {
		err = f.dialErrs[f.dials]
	}
	f.dials++
	return &fakeWireDriver{
		t:       f,
		dialErr: err,
		frames:  make(chan *wire.Envelope, 32),
	}
}

// push delivers one frame as if the backend sent it.
func (f *fakeTransport) push(env *wire.Envelope) {
	f.mu.Lock()
	d := f.cur
	f.mu.Unlock()
	if d == nil {
		panic("fakeTransport: push without a live connection")
	}
	d.frames <- env
}

func (f *fakeTransport) pushFrame(typ string, payload interface{}) {
	f.push(wire.NewEnvelope("", typ, payload))
}

// ack answers the request identified by envID.
func (f *fakeTransport) ack(envID string, ok bool, errStr string, payload interface{}) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	f.pushFrame(wire.FrameAck, wire.Ack{ID: envID, OK: ok, Error: errStr, Payload: raw})
}

// dropCurrent cuts the live connection with the given reason.
func (f *fakeTransport) dropCurrent(reason string) {
	f.mu.Lock()
	d := f.cur
	f.mu.Unlock()
	if d != nil {
		d.drop(reason)
	}
}

func (f *fakeTransport) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, env := range f.sent {
		out = append(out, env.Type)
	}
	return out
}

func (f *fakeTransport) sentOfType(typ string) []*wire.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*wire.Envelope
	for _, env := range f.sent {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

// waitSent blocks until the n-th envelope of the given type was transmitted.
func (f *fakeTransport) waitSent(t *testing.T, typ string, n int) *wire.Envelope {
	t.Helper()
	var env *wire.Envelope
	require.Eventuallyf(t, func() bool {
		envs := f.sentOfType(typ)
		if len(envs) >= n {
			env = envs[n-1]
			return true
		}
		return false
	}, 3*time.Second, 5*time.Millisecond, "op %s #%d never transmitted", typ, n)
	return env
}

type fakeWireDriver struct {
	t       *fakeTransport
	dialErr error
	frames  chan *wire.Envelope

	mu      sync.Mutex
	closing bool
	reason  string
}

func (d *fakeWireDriver) Dial(ctx context.Context, url string, header http.Header) error {
	if d.dialErr != nil {
		return d.dialErr
	}
	d.t.mu.Lock()
	d.t.cur = d
	d.t.mu.Unlock()
	return nil
}

func (d *fakeWireDriver) Send(env *wire.Envelope) error {
	d.mu.Lock()
	closing := d.closing
	d.mu.Unlock()
	if closing {
		return errors.New("fake: connection closed")
	}
	d.t.mu.Lock()
	d.t.sent = append(d.t.sent, env)
	d.t.mu.Unlock()
	return nil
}

func (d *fakeWireDriver) Frames() <-chan *wire.Envelope { return d.frames }

func (d *fakeWireDriver) Close() error {
	d.drop("closed by client")
	return nil
}

func (d *fakeWireDriver) CloseReason() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reason
}

func (d *fakeWireDriver) drop(reason string) {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return
	}
	d.closing = true
	d.reason = reason
	d.mu.Unlock()
	close(d.frames)
}

// newTestClient builds and starts a client against the fake transport.
func newTestClient(t *testing.T, f *fakeTransport, mutate func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		URL:                  "ws://example.invalid/ws",
		SelfID:               selfID,
		SelfName:             selfName,
		Tokens:               auth.StaticTokenSource("tok"),
		RequestTimeout:       2 * time.Second,
		ReconnectBaseDelay:   10 * time.Millisecond,
		ReconnectMaxAttempts: 5,
		NewDriver:            f.factory,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c := New(cfg)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	return c
}

func findConv(c *Client, convID string) (chatstore.Conversation, bool) {
	for _, conv := range c.Conversations() {
		if conv.ID == convID {
			return conv, true
		}
	}
	return chatstore.Conversation{}, false
}

func serverMessage(id, convID, senderID, firstName, text string) wire.Message {
	return wire.Message{
		ID:             id,
		ConversationID: convID,
		Sender:         wire.User{ID: senderID, FirstName: firstName, LastName: "Baker"},
		Kind:           "text",
		Text:           text,
		CreatedAt:      time.Now().UnixMilli(),
	}
}
