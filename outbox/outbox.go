// Package outbox buffers outbound domain operations while the transport is
// down and correlates sent envelopes with their server acknowledgments. Every
// submitted operation resolves definitively: acked, rejected, timed out, or
// failed by shutdown — never silently dropped.
package outbox

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nbrly/chatsync/wire"
	"github.com/nbrly/chatsync/ws"
)

// DefaultTimeout bounds the wait for a server acknowledgment of a sent
// envelope. Queued (not yet transmitted) entries do not age out; the clock
// starts at transmission.
const DefaultTimeout = 10 * time.Second

var queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "chatsync_outbox_depth",
	Help: "Operations buffered while the transport is down.",
})

func init() {
	prometheus.MustRegister(queueDepth)
}

// RequestTimeoutError means the backend did not acknowledge a sent envelope
// in time.
type RequestTimeoutError struct {
	Op string
	ID string
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("outbox: request %s (%s) timed out", e.ID, e.Op)
}

// RejectedError carries the backend's per-request failure message.
type RejectedError struct {
	Op     string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("outbox: %s rejected: %s", e.Op, e.Reason)
}

// ErrClosed resolves operations still pending when the outbox shuts down.
var ErrClosed = errors.New("outbox: closed")

// Result is the definitive outcome of one submitted operation.
type Result struct {
	Ack *wire.Ack
	Err error
}

// Sender transmits one envelope immediately or fails with
// ws.NotConnectedError. Satisfied by *ws.Conn.
type Sender interface {
	Send(env *wire.Envelope) error
}

type entry struct {
	env   *wire.Envelope
	done  chan Result
	timer *time.Timer
}

// Outbox is the FIFO outbound queue.
type Outbox struct {
	sender  Sender
	timeout time.Duration

	mu      sync.Mutex
	queue   []*entry          // buffered, submission order
	waiting map[string]*entry // sent, awaiting ack, by envelope id
	closed  bool
}

func New(sender Sender, timeout time.Duration) *Outbox {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Outbox{
		sender:  sender,
		timeout: timeout,
		waiting: make(map[string]*entry),
	}
}

// Submit attempts immediate transmission, buffering the envelope when the
// transport is down. The returned channel receives exactly one Result.
func (o *Outbox) Submit(env *wire.Envelope) <-chan Result {
	e := &entry{env: env, done: make(chan Result, 1)}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		e.done <- Result{Err: ErrClosed}
		return e.done
	}

	// Anything already queued keeps FIFO order ahead of us.
	if len(o.queue) > 0 || !o.transmitLocked(e) {
		o.enqueueLocked(e)
	}
	return e.done
}

// Flush drains the buffer in submission order. Called on the supervisor's
// connected transition.
func (o *Outbox) Flush() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for len(o.queue) > 0 {
		e := o.queue[0]
		o.queue = o.queue[1:]
		queueDepth.Set(float64(len(o.queue)))

		if !o.transmitLocked(e) {
			// Transport dropped again mid-flush; put e back at the head so
			// the next flush keeps submission order.
			o.queue = append([]*entry{e}, o.queue...)
			queueDepth.Set(float64(len(o.queue)))
			return
		}
	}
}

// HandleAck resolves the matching in-flight operation. Unknown ids (late acks
// after timeout) are logged and dropped.
func (o *Outbox) HandleAck(ack *wire.Ack) {
	o.mu.Lock()
	e, ok := o.waiting[ack.ID]
	if ok {
		delete(o.waiting, ack.ID)
		e.timer.Stop()
	}
	o.mu.Unlock()

	if !ok {
		glog.V(5).Infof("HandleAck(): no pending request for id %s", ack.ID)
		return
	}

	if ack.OK {
		e.done <- Result{Ack: ack}
	} else {
		e.done <- Result{Err: &RejectedError{Op: e.env.Type, Reason: ack.Error}}
	}
}

// Close rejects everything still pending. Further submissions fail with
// ErrClosed.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	for _, e := range o.queue {
		e.done <- Result{Err: ErrClosed}
	}
	o.queue = nil
	queueDepth.Set(0)
	for id, e := range o.waiting {
		e.timer.Stop()
		e.done <- Result{Err: ErrClosed}
		delete(o.waiting, id)
	}
}

// transmitLocked sends e now, arming the ack timeout. False means the
// transport was down; the caller decides where e goes in the buffer.
func (o *Outbox) transmitLocked(e *entry) bool {
	err := o.sender.Send(e.env)
	if err == nil {
		o.waiting[e.env.ID] = e
		e.timer = time.AfterFunc(o.timeout, func() { o.expire(e.env.ID) })
		return true
	}

	var nc *ws.NotConnectedError
	if errors.As(err, &nc) {
		return false
	}

	e.done <- Result{Err: err}
	return true
}

func (o *Outbox) enqueueLocked(e *entry) {
	o.queue = append(o.queue, e)
	queueDepth.Set(float64(len(o.queue)))
	glog.V(5).Infof("enqueueLocked(): buffered %s (%d queued)", e.env.Type, len(o.queue))
}

func (o *Outbox) expire(id string) {
	o.mu.Lock()
	e, ok := o.waiting[id]
	if ok {
		delete(o.waiting, id)
	}
	o.mu.Unlock()

	if ok {
		glog.Errorf("expire(): request %s (%s) timed out after %v", id, e.env.Type, o.timeout)
		e.done <- Result{Err: &RequestTimeoutError{Op: e.env.Type, ID: id}}
	}
}
