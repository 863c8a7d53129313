package ws

import (
	"context"
	"net/http"
	"sync"

	"github.com/golang/glog"

	"github.com/nbrly/chatsync/auth"
	"github.com/nbrly/chatsync/wire"
)

// ConnConfig configures a Conn.
type ConnConfig struct {
	// URL of the messaging websocket endpoint, e.g. wss://host/ws.
	URL string

	// Tokens yields the bearer credential used on every dial.
	Tokens auth.TokenSource

	// NewDriver builds a fresh driver per connection attempt.
	// Defaults to NewGorillaDriver.
	NewDriver func() Driver
}

// Conn is the authenticated transport connection. It survives reconnects: the
// frame stream and drop notifications stay on stable channels while the
// underlying driver is replaced.
type Conn struct {
	cfg ConnConfig

	mu     sync.Mutex
	state  State
	driver Driver
	manual bool

	frames chan *wire.Envelope
	drops  chan string
}

func NewConn(cfg ConnConfig) *Conn {
	if cfg.NewDriver == nil {
		cfg.NewDriver = NewGorillaDriver
	}
	return &Conn{
		cfg:    cfg,
		frames: make(chan *wire.Envelope, 16),
		drops:  make(chan string, 4),
	}
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Frames returns the inbound frame stream. It never closes; consumers exit
// via their own context.
func (c *Conn) Frames() <-chan *wire.Envelope {
	return c.frames
}

// Drops notifies about non-manual disconnects, with the reason.
func (c *Conn) Drops() <-chan string {
	return c.drops
}

// Connect performs one connection attempt. A concurrent call while already
// connecting or connected is a no-op. Returns AuthenticationError when no
// credential is available.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.manual = false
	c.mu.Unlock()
	c.setStateMetric(StateConnecting)

	token, err := c.cfg.Tokens.Token()
	if err != nil {
		c.resetDisconnected()
		return &AuthenticationError{Err: err}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	drv := c.cfg.NewDriver()
	if err := drv.Dial(ctx, c.cfg.URL, header); err != nil {
		c.resetDisconnected()
		return err
	}

	c.mu.Lock()
	c.driver = drv
	c.state = StateConnected
	c.mu.Unlock()
	c.setStateMetric(StateConnected)
	glog.Infof("Connect(): connected to %s", c.cfg.URL)

	go c.pump(drv)
	return nil
}

// Send transmits one envelope, or fails with NotConnectedError.
func (c *Conn) Send(env *wire.Envelope) error {
	c.mu.Lock()
	drv := c.driver
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || drv == nil {
		return &NotConnectedError{Op: env.Type}
	}
	if err := drv.Send(env); err != nil {
		// The connection is dying; the drop will surface via Drops().
		glog.V(5).Infof("Send(): send failed, treating as disconnected: %v", err)
		return &NotConnectedError{Op: env.Type}
	}
	framesSent.WithLabelValues(env.Type).Inc()
	return nil
}

// Close disconnects manually. No reconnection follows and no drop is
// reported. Idempotent.
func (c *Conn) Close() {
	c.mu.Lock()
	c.manual = true
	drv := c.driver
	c.driver = nil
	c.state = StateDisconnected
	c.mu.Unlock()
	c.setStateMetric(StateDisconnected)

	if drv != nil {
		_ = drv.Close()
	}
}

// pump copies driver frames onto the stable stream and reports the drop when
// the driver dies on its own.
func (c *Conn) pump(drv Driver) {
	for env := range drv.Frames() {
		framesReceived.WithLabelValues(env.Type).Inc()
		c.frames <- env
	}

	c.mu.Lock()
	manual := c.manual
	if c.driver == drv {
		c.driver = nil
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if !manual {
		c.setStateMetric(StateDisconnected)
		reason := drv.CloseReason()
		glog.Warningf("pump(): connection lost: %s", reason)
		c.drops <- reason
	}
}

func (c *Conn) resetDisconnected() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	c.setStateMetric(StateDisconnected)
}

func (c *Conn) setStateMetric(s State) {
	connectionState.Set(float64(s))
}
