package peer

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAlreadyConnected  = errors.New("already connected")
	ErrAlreadyConnecting = errors.New("already connecting")
	ErrRelayNotReady     = errors.New("relay connection is not ready")
	ErrChannelNotOpen    = errors.New("direct channel is not open")
	ErrSelfConnect       = errors.New("can't connect to own identity")
	ErrUnknownPeer       = errors.New("unknown peer")
	ErrEngineStopped     = errors.New("engine is stopped")
)

// HandshakeTimeoutError is an error indicating that no direct channel opened within the handshake timeout
type HandshakeTimeoutError struct {
	peer    string
	timeout time.Duration
}

func (e *HandshakeTimeoutError) Error() string {
	return fmt.Sprintf("handshake with peer %s timed out after %s", e.peer, e.timeout.String())
}

// NewHandshakeTimeoutError creates a new HandshakeTimeoutError error
func NewHandshakeTimeoutError(peer string, timeout time.Duration) error {
	return &HandshakeTimeoutError{
		peer:    peer,
		timeout: timeout,
	}
}

// TargetUnreachableError is an error indicating that the relay could not deliver to the peer
type TargetUnreachableError struct {
	peer string
}

func (e *TargetUnreachableError) Error() string {
	return fmt.Sprintf("peer %s is offline or unknown to the relay", e.peer)
}

// NewTargetUnreachableError creates a new TargetUnreachableError error
func NewTargetUnreachableError(peer string) error {
	return &TargetUnreachableError{
		peer: peer,
	}
}

// DirectChannelError is an error reported by the direct channel transport
type DirectChannelError struct {
	peer string
	err  error
}

func (e *DirectChannelError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("direct channel to peer %s closed", e.peer)
	}
	return fmt.Sprintf("direct channel to peer %s failed: %s", e.peer, e.err)
}

func (e *DirectChannelError) Unwrap() error {
	return e.err
}

// NewDirectChannelError creates a new DirectChannelError error
func NewDirectChannelError(peer string, err error) error {
	return &DirectChannelError{
		peer: peer,
		err:  err,
	}
}
