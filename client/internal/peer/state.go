package peer

import (
	log "github.com/sirupsen/logrus"
)

const (
	// StateIdle is a session without a handshake in progress and without a direct channel
	StateIdle State = iota
	// StateOffering is an initiator preparing and sending its offer
	StateOffering
	// StateAwaitingAnswer is an initiator whose offer was sent through the relay
	StateAwaitingAnswer
	// StateAnswering is a responder preparing its answer to a received offer
	StateAnswering
	// StateExchangingCandidates is a session with both descriptions set, waiting for the direct channel to open
	StateExchangingCandidates
	// StateConnected is a session with an open direct channel
	StateConnected
	// StateClosing is a session being torn down on request
	StateClosing
	// StateFailed is a session waiting for its backoff delay before the next attempt
	StateFailed
)

// State describes where a Session is in its connection lifecycle
type State int32

// InHandshake reports whether a handshake attempt is running
func (s State) InHandshake() bool {
	switch s {
	case StateOffering, StateAwaitingAnswer, StateAnswering, StateExchangingCandidates:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateOffering:
		return "Offering"
	case StateAwaitingAnswer:
		return "AwaitingAnswer"
	case StateAnswering:
		return "Answering"
	case StateExchangingCandidates:
		return "ExchangingCandidates"
	case StateConnected:
		return "Connected"
	case StateClosing:
		return "Closing"
	case StateFailed:
		return "Failed"
	default:
		log.Errorf("unknown session state: %d", s)
		return "INVALID_SESSION_STATE"
	}
}

const (
	RoleInitiator Role = iota
	RoleResponder
)

// Role tells which side of the handshake a session plays in its current attempt
type Role int

func (r Role) String() string {
	if r == RoleResponder {
		return "responder"
	}
	return "initiator"
}
