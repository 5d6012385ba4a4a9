package internal

import (
	"time"

	"github.com/yegram/yegram/client/internal/chat"
)

// Listener receives the notifications of the engine. Calls happen on the engine goroutine, so an
// implementation must return quickly and must not call back into the engine synchronously.
type Listener interface {
	OnPeerConnected(peerID string)
	// OnPeerRetrying reports the first failure of a series, later retries of the series are silent
	OnPeerRetrying(peerID string, err error, delay time.Duration)
	// OnPeerFailed reports a peer given up after its retry budget
	OnPeerFailed(peerID string, err error)
	OnPeerClosed(peerID string)
	OnMessage(peerID string, msg chat.Message)
	OnDelivered(peerID string, messageID string)
	OnTyping(peerID string, typing bool)
	OnRelayStatus(connected bool)
}

// NopListener ignores every notification
type NopListener struct{}

func (NopListener) OnPeerConnected(string) {}
func (NopListener) OnPeerRetrying(string, error, time.Duration) {}
func (NopListener) OnPeerFailed(string, error) {}
func (NopListener) OnPeerClosed(string) {}
func (NopListener) OnMessage(string, chat.Message) {}
func (NopListener) OnDelivered(string, string) {}
func (NopListener) OnTyping(string, bool) {}
func (NopListener) OnRelayStatus(bool) {}
