package ws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbrly/chatsync/auth"
	"github.com/nbrly/chatsync/auth/mock"
	"github.com/nbrly/chatsync/wire"
)

func TestConnectWithoutTokenFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	tokens := mock.NewMockTokenSource(ctrl)
	tokens.EXPECT().Token().Return("", auth.ErrNoToken)

	c := NewConn(ConnConfig{
		URL:    "ws://example.invalid/ws",
		Tokens: tokens,
		NewDriver: func() Driver {
			t.Fatal("must not dial without a credential")
			return nil
		},
	})

	err := c.Connect(context.Background())
	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.ErrorIs(t, authErr.Err, auth.ErrNoToken)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestSendWhileDisconnected(t *testing.T) {
	c := NewConn(ConnConfig{URL: "ws://example.invalid/ws", Tokens: auth.StaticTokenSource("tok")})

	err := c.Send(wire.NewEnvelope("r1", wire.OpSendMessage, nil))
	var nc *NotConnectedError
	require.True(t, errors.As(err, &nc))
	assert.Equal(t, wire.OpSendMessage, nc.Op)
}

func TestConnectSendReceive(t *testing.T) {
	script := &driverScript{}
	drv := script.add(newFakeDriver(nil))

	c := NewConn(ConnConfig{
		URL:       "ws://example.invalid/ws",
		Tokens:    auth.StaticTokenSource("tok"),
		NewDriver: script.factory,
	})
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, "Bearer tok", drv.header.Get("Authorization"))

	// duplicate connect while connected is a no-op
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 1, script.next)

	require.NoError(t, c.Send(wire.NewEnvelope("r1", wire.OpMarkAsRead, nil)))
	require.Len(t, drv.sent, 1)

	drv.push(wire.NewEnvelope("", wire.FrameNewMessage, nil))
	select {
	case env := <-c.Frames():
		assert.Equal(t, wire.FrameNewMessage, env.Type)
	case <-time.After(time.Second):
		t.Fatal("frame not forwarded")
	}
}

func TestDropIsReportedWithReason(t *testing.T) {
	script := &driverScript{}
	drv := script.add(newFakeDriver(nil))

	c := NewConn(ConnConfig{
		URL:       "ws://example.invalid/ws",
		Tokens:    auth.StaticTokenSource("tok"),
		NewDriver: script.factory,
	})
	require.NoError(t, c.Connect(context.Background()))

	drv.drop("read error: connection reset")
	select {
	case reason := <-c.Drops():
		assert.Equal(t, "read error: connection reset", reason)
	case <-time.After(time.Second):
		t.Fatal("drop not reported")
	}
	assert.Equal(t, StateDisconnected, c.State())
}

func TestManualCloseDoesNotReportDrop(t *testing.T) {
	script := &driverScript{}
	script.add(newFakeDriver(nil))

	c := NewConn(ConnConfig{
		URL:       "ws://example.invalid/ws",
		Tokens:    auth.StaticTokenSource("tok"),
		NewDriver: script.factory,
	})
	require.NoError(t, c.Connect(context.Background()))

	c.Close()
	c.Close() // idempotent

	select {
	case reason := <-c.Drops():
		t.Fatalf("manual close reported as drop: %s", reason)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, StateDisconnected, c.State())
}
