// Package ws owns the persistent connection to the messaging backend: a
// socket driver, the authenticated connection wrapper, and the reconnection
// supervisor. It knows nothing about conversations or messages.
package ws

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nbrly/chatsync/wire"
)

// State of the transport connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// Driver is the capability interface a socket backend must provide. One
// driver instance serves one physical connection; reconnecting creates a
// fresh driver.
type Driver interface {
	// Dial establishes the physical connection.
	Dial(ctx context.Context, url string, header http.Header) error

	// Send transmits one envelope. Fails once the connection is down.
	Send(env *wire.Envelope) error

	// Frames returns the inbound envelope stream. The channel is closed when
	// the connection ends, for any reason.
	Frames() <-chan *wire.Envelope

	// Close tears the connection down. Idempotent.
	Close() error

	// CloseReason reports why the connection ended. Valid after Frames is
	// closed.
	CloseReason() string
}

// AuthenticationError means no usable bearer credential was available for the
// connection attempt. It is fatal to the attempt; the supervisor does not
// retry it away.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("ws: authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// NotConnectedError means an envelope was handed to a connection that is not
// open. The outbound queue absorbs it by buffering the operation.
type NotConnectedError struct {
	Op string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("ws: not connected (op %s)", e.Op)
}
