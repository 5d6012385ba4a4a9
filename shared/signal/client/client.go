package client

import (
	"context"
	"errors"
	"io"

	"github.com/yegram/yegram/shared/signal/messages"
)

// A set of tools to exchange connection offers, answers and candidates with remote peers through the relay.

// Status is the status of the client
type Status string

const StreamConnected Status = "Connected"
const StreamDisconnected Status = "Disconnected"

var (
	// ErrNotReady is returned by Send while the client is not registered with the relay. It never waits.
	ErrNotReady = errors.New("relay connection is not ready")
	// ErrSuperseded is returned by Receive when the relay closed the connection because another
	// connection registered the same identity
	ErrSuperseded = errors.New("identity registered from another connection")
	// ErrClosed is returned by Receive after Close
	ErrClosed = errors.New("relay client closed")
)

// Client is the relay connection of a peer
type Client interface {
	io.Closer
	// Receive connects, registers and dispatches every relay message to msgHandler. It blocks and reconnects
	// until ctx is done, the client is closed or the identity is superseded.
	Receive(ctx context.Context, msgHandler func(msg *messages.Message) error) error
	// Send queues a message for the relay. It fails immediately with ErrNotReady when not registered.
	Send(msg *messages.Message) error
	Ready() bool
	IsHealthy() bool
	GetStatus() Status
	WaitStreamConnected(ctx context.Context) error
	// SetOnReconnectedListener is called after every successful registration, including the first
	SetOnReconnectedListener(func())
	// SetOnDisconnectedListener is called when a registered connection is lost
	SetOnDisconnectedListener(func())
}
