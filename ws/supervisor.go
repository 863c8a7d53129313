package ws

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxAttempts = 5
)

// SupervisorConfig tunes the reconnection policy.
type SupervisorConfig struct {
	// BaseDelay is the delay before the first retry; attempt n waits
	// BaseDelay * 2^(n-1).
	BaseDelay time.Duration

	// MaxAttempts caps one reconnection round. Exceeding it stops automatic
	// retries until ForceReconnect.
	MaxAttempts int
}

// Hooks are the supervisor's upward notifications. Nil hooks are skipped.
type Hooks struct {
	Connected       func()
	Disconnected    func(reason string)
	ReconnectFailed func()
}

// Supervisor watches a Conn for non-manual drops and re-establishes the
// connection with exponential backoff. Pending operations are not its
// concern; the outbound queue guarantees no loss across reconnects.
type Supervisor struct {
	conn  *Conn
	cfg   SupervisorConfig
	hooks Hooks

	forceC chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSupervisor(conn *Conn, cfg SupervisorConfig, hooks Hooks) *Supervisor {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Supervisor{
		conn:   conn,
		cfg:    cfg,
		hooks:  hooks,
		forceC: make(chan struct{}, 1),
	}
}

// Start connects once and begins watching for drops. The initial connect
// error (notably AuthenticationError) is returned to the caller instead of
// being retried away.
func (s *Supervisor) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.conn.Connect(s.ctx); err != nil {
		s.cancel()
		return err
	}
	if s.hooks.Connected != nil {
		s.hooks.Connected()
	}

	s.wg.Add(1)
	go s.watch()
	return nil
}

// Stop closes the connection manually and stops the watcher.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.conn.Close()
	s.wg.Wait()
}

// ForceReconnect requests an immediate reconnection round, typically after
// reconnect_failed was surfaced to the user.
func (s *Supervisor) ForceReconnect() {
	select {
	case s.forceC <- struct{}{}:
	default:
	}
}

func (s *Supervisor) watch() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case reason := <-s.conn.Drops():
			if s.hooks.Disconnected != nil {
				s.hooks.Disconnected(reason)
			}
			s.retryLoop()
		case <-s.forceC:
			if s.conn.State() == StateDisconnected {
				s.retryLoop()
			}
		}
	}
}

// retryLoop runs reconnection rounds until connected, the context ends, or a
// round is exhausted and no ForceReconnect arrives.
func (s *Supervisor) retryLoop() {
	for {
		if s.reconnect() {
			return
		}
		glog.Errorf("retryLoop(): gave up after %d attempts", s.cfg.MaxAttempts)
		reconnectExhausted.Inc()
		if s.hooks.ReconnectFailed != nil {
			s.hooks.ReconnectFailed()
		}

		select {
		case <-s.ctx.Done():
			return
		case <-s.forceC:
			glog.Infof("retryLoop(): forced reconnect")
		}
	}
}

// reconnect runs one backoff round. True means connected (or shut down);
// false means the attempt cap was exceeded.
func (s *Supervisor) reconnect() bool {
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		delay := s.cfg.BaseDelay << uint(attempt-1)
		glog.Infof("reconnect(): attempt %d/%d in %v", attempt, s.cfg.MaxAttempts, delay)

		select {
		case <-s.ctx.Done():
			return true
		case <-time.After(delay):
		}

		reconnectAttempts.Inc()
		if err := s.conn.Connect(s.ctx); err != nil {
			glog.Errorf("reconnect(): attempt %d failed: %v", attempt, err)
			continue
		}
		if s.hooks.Connected != nil {
			s.hooks.Connected()
		}
		return true
	}
	return false
}
