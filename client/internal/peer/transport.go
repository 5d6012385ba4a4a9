package peer

import (
	"encoding/json"
)

// ChannelHandlers are the callbacks a Channel reports its events through. They may be called from any
// goroutine.
type ChannelHandlers struct {
	OnLocalCandidate func(candidate json.RawMessage)
	OnOpen           func()
	OnClose          func(err error)
	OnMessage        func(data []byte)
}

// Transport creates direct channels to remote peers
type Transport interface {
	NewChannel(remoteID string, role Role, handlers ChannelHandlers) (Channel, error)
}

// Channel is one direct channel attempt. Descriptions and candidates are opaque JSON documents carried
// by the relay.
type Channel interface {
	CreateOffer() (json.RawMessage, error)
	AcceptOffer(offer json.RawMessage) (json.RawMessage, error)
	AcceptAnswer(answer json.RawMessage) error
	AddRemoteCandidate(candidate json.RawMessage) error
	Send(data []byte) error
	IsOpen() bool
	Close() error
}
