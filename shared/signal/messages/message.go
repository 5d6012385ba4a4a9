package messages

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	TypeRegister   Type = "register"
	TypeRegistered Type = "registered"
	TypeOffer      Type = "offer"
	TypeAnswer     Type = "answer"
	TypeCandidate  Type = "ice-candidate"
	TypeDisconnect Type = "disconnect"
	TypePing       Type = "ping"
	TypePong       Type = "pong"
	TypeError      Type = "error"
	TypeWelcome    Type = "welcome"
)

const (
	// CodeUserOffline is reported when the target of a directed message is not registered or not writable
	CodeUserOffline = "USER_OFFLINE"
	// CodeNotRegistered is reported when a connection sends a directed message before registering
	CodeNotRegistered = "NOT_REGISTERED"
	// CodeRateLimited is reported when the relay drops frames of a connection exceeding its rate limit
	CodeRateLimited = "RATE_LIMITED"
)

var (
	ErrMalformed = errors.New("malformed message")
)

// Type is the tag of the relay wire protocol union
type Type string

func (t Type) String() string {
	return string(t)
}

// Message is a single relay frame. Only the fields relevant to Type are set.
// Offer, Answer and Candidate are opaque to the relay and forwarded untouched.
type Message struct {
	Type Type `json:"type"`

	UserID   string          `json:"userId,omitempty"`
	UserInfo json.RawMessage `json:"userInfo,omitempty"`

	Target string `json:"target,omitempty"`
	Sender string `json:"sender,omitempty"`

	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`

	Timestamp   int64 `json:"timestamp,omitempty"`
	ServerTime  int64 `json:"serverTime,omitempty"`
	OnlineUsers *int  `json:"onlineUsers,omitempty"`
}

// Unmarshal decodes a frame. A frame that is not a JSON object with a type tag is ErrMalformed.
func Unmarshal(data []byte) (*Message, error) {
	msg := &Message{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return msg, nil
}

// Marshal encodes the frame
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// IsDirected reports whether the message is addressed to another endpoint and must be forwarded by the relay
func (m *Message) IsDirected() bool {
	switch m.Type {
	case TypeOffer, TypeAnswer, TypeCandidate:
		return true
	default:
		return false
	}
}

// Payload returns the opaque handshake payload of a directed message
func (m *Message) Payload() json.RawMessage {
	switch m.Type {
	case TypeOffer:
		return m.Offer
	case TypeAnswer:
		return m.Answer
	case TypeCandidate:
		return m.Candidate
	default:
		return nil
	}
}

// Forwarded returns the copy of a directed message the relay delivers to the target.
// The sender is always the identity the relay bound to the originating connection.
func (m *Message) Forwarded(sender string, now time.Time) *Message {
	fwd := *m
	fwd.Sender = sender
	fwd.Timestamp = now.UnixMilli()
	return &fwd
}

func NewRegister(userID string, userInfo json.RawMessage) *Message {
	return &Message{Type: TypeRegister, UserID: userID, UserInfo: userInfo}
}

func NewRegistered(userID string, now time.Time) *Message {
	return &Message{Type: TypeRegistered, UserID: userID, Timestamp: now.UnixMilli()}
}

func NewOffer(target string, offer json.RawMessage, now time.Time) *Message {
	return &Message{Type: TypeOffer, Target: target, Offer: offer, Timestamp: now.UnixMilli()}
}

func NewAnswer(target string, answer json.RawMessage, now time.Time) *Message {
	return &Message{Type: TypeAnswer, Target: target, Answer: answer, Timestamp: now.UnixMilli()}
}

func NewCandidate(target string, candidate json.RawMessage, now time.Time) *Message {
	return &Message{Type: TypeCandidate, Target: target, Candidate: candidate, Timestamp: now.UnixMilli()}
}

func NewDisconnect() *Message {
	return &Message{Type: TypeDisconnect}
}

func NewPing(now time.Time) *Message {
	return &Message{Type: TypePing, Timestamp: now.UnixMilli()}
}

func NewPong(now time.Time) *Message {
	return &Message{Type: TypePong, Timestamp: now.UnixMilli()}
}

// NewError builds an error reply. target is the identity the failed directed message was addressed to, if any.
func NewError(code, text, target string, now time.Time) *Message {
	return &Message{Type: TypeError, Code: code, Message: text, Target: target, Timestamp: now.UnixMilli()}
}

func NewWelcome(text string, onlineUsers int, now time.Time) *Message {
	return &Message{Type: TypeWelcome, Message: text, ServerTime: now.UnixMilli(), OnlineUsers: &onlineUsers}
}
