package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/nbrly/chatsync/wire"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// websocket max message size to read.
	readLimit = 65536

	handshakeTimeout = 10 * time.Second
)

// gorillaDriver runs one websocket connection with a read pump and a ping
// ticker. Writes are serialized by the mutex as required by gorilla.
type gorillaDriver struct {
	mu sync.Mutex

	conn    *websocket.Conn
	frames  chan *wire.Envelope
	done    chan struct{}
	reason  string
	closing bool
}

// NewGorillaDriver returns a Driver backed by gorilla/websocket.
func NewGorillaDriver() Driver {
	return &gorillaDriver{
		frames: make(chan *wire.Envelope, 16),
		done:   make(chan struct{}),
	}
}

func (d *gorillaDriver) Dial(ctx context.Context, url string, header http.Header) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("ws: dial %s: status %d: %v", url, resp.StatusCode, err)
		}
		return fmt.Errorf("ws: dial %s: %v", url, err)
	}

	d.conn = conn
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go d.readLoop()
	go d.pingLoop()
	return nil
}

func (d *gorillaDriver) Send(env *wire.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ws: marshal envelope: %v", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return fmt.Errorf("ws: connection closed")
	}
	_ = d.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return d.conn.WriteMessage(websocket.TextMessage, data)
}

func (d *gorillaDriver) Frames() <-chan *wire.Envelope {
	return d.frames
}

func (d *gorillaDriver) Close() error {
	return d.teardown("closed by client", true)
}

func (d *gorillaDriver) CloseReason() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reason
}

// teardown runs at most once; later calls are no-ops. The frames channel is
// closed by readLoop, the sole sender, once the dying conn unblocks its read.
func (d *gorillaDriver) teardown(reason string, sendClose bool) error {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return nil
	}
	d.closing = true
	d.reason = reason
	close(d.done)
	if sendClose && d.conn != nil {
		_ = d.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = d.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	}
	d.mu.Unlock()

	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

func (d *gorillaDriver) readLoop() {
	defer close(d.frames)

	for {
		msgType, data, err := d.conn.ReadMessage()
		if err != nil {
			glog.V(5).Infof("readLoop(): read error: %v", err)
			_ = d.teardown(fmt.Sprintf("read error: %v", err), false)
			return
		}
		if msgType != websocket.TextMessage {
			glog.Errorf("readLoop(): unexpected message type: %d", msgType)
			continue
		}

		glog.V(5).Infof("readLoop(): incoming frame: %s", string(data))

		env := &wire.Envelope{}
		if err := json.Unmarshal(data, env); err != nil {
			// Malformed frames are dropped, never fatal.
			glog.Errorf("readLoop(): malformed frame: %s, err: %v", string(data), err)
			continue
		}

		select {
		case d.frames <- env:
		case <-d.done:
			return
		}
	}
}

func (d *gorillaDriver) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.mu.Lock()
			if d.closing {
				d.mu.Unlock()
				return
			}
			_ = d.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := d.conn.WriteMessage(websocket.PingMessage, nil)
			d.mu.Unlock()
			if err != nil {
				glog.Errorf("pingLoop(): error write ping message: %v", err)
				_ = d.teardown(fmt.Sprintf("ping error: %v", err), false)
				return
			}
		}
	}
}
