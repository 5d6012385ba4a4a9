// Package chat defines the application envelopes exchanged over an open direct channel.
//
// Every application payload (user-info, message, typing) carries an id and is confirmed by exactly one
// message-delivered envelope. Control envelopes (ping, pong, message-delivered) are never confirmed.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TypeUserInfo  Type = "user-info"
	TypeMessage   Type = "message"
	TypeDelivered Type = "message-delivered"
	TypeTyping    Type = "typing"
	TypePing      Type = "ping"
	TypePong      Type = "pong"
)

const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusError     = "error"

	KindText = "text"
)

var ErrMalformed = errors.New("malformed envelope")

type Type string

// UserInfo is the identity a peer announces about itself once the channel opens
type UserInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Username    string `json:"username,omitempty"`
	AvatarColor string `json:"avatarColor,omitempty"`
	Version     string `json:"version,omitempty"`
}

// Message is one chat message, as sent and as kept in the history
type Message struct {
	ID        string `json:"id"`
	SenderID  string `json:"senderId"`
	Content   string `json:"content"`
	Kind      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Status    string `json:"status,omitempty"`
	Outgoing  bool   `json:"isOutgoing,omitempty"`
}

// Envelope is a single direct channel frame. Only the fields relevant to Type are set.
type Envelope struct {
	Type      Type      `json:"type"`
	ID        string    `json:"id,omitempty"`
	User      *UserInfo `json:"user,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	Typing    *bool     `json:"typing,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// NeedsAck reports whether the receiver must confirm the envelope
func (e *Envelope) NeedsAck() bool {
	switch e.Type {
	case TypeUserInfo, TypeMessage, TypeTyping:
		return true
	default:
		return false
	}
}

func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a frame. Application payloads without an id are malformed.
func Decode(data []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeUserInfo:
		if env.User == nil {
			return nil, fmt.Errorf("%w: user-info without user", ErrMalformed)
		}
	case TypeMessage:
		if env.Message == nil {
			return nil, fmt.Errorf("%w: message without body", ErrMalformed)
		}
		if env.ID == "" {
			env.ID = env.Message.ID
		}
	case TypeTyping:
		if env.Typing == nil {
			return nil, fmt.Errorf("%w: typing without state", ErrMalformed)
		}
	case TypeDelivered:
		if env.MessageID == "" {
			return nil, fmt.Errorf("%w: delivery confirmation without id", ErrMalformed)
		}
	case TypePing, TypePong:
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}

	if env.NeedsAck() && env.ID == "" {
		return nil, fmt.Errorf("%w: %s without id", ErrMalformed, env.Type)
	}
	return env, nil
}

// NewID returns a fresh envelope or message id
func NewID() string {
	return uuid.NewString()
}

func NewUserInfo(user UserInfo, now time.Time) *Envelope {
	return &Envelope{Type: TypeUserInfo, ID: NewID(), User: &user, Timestamp: now.UnixMilli()}
}

// NewTextMessage builds an outgoing text message. The envelope id is the message id, so the delivery
// confirmation names the message directly.
func NewTextMessage(senderID, content string, now time.Time) *Envelope {
	msg := &Message{
		ID:        NewID(),
		SenderID:  senderID,
		Content:   content,
		Kind:      KindText,
		Timestamp: now.UnixMilli(),
		Status:    StatusSending,
		Outgoing:  true,
	}
	return &Envelope{Type: TypeMessage, ID: msg.ID, Message: msg, Timestamp: now.UnixMilli()}
}

func NewTyping(typing bool, now time.Time) *Envelope {
	return &Envelope{Type: TypeTyping, ID: NewID(), Typing: &typing, Timestamp: now.UnixMilli()}
}

func NewDelivered(id string, now time.Time) *Envelope {
	return &Envelope{Type: TypeDelivered, MessageID: id, Timestamp: now.UnixMilli()}
}

func NewPing(now time.Time) *Envelope {
	return &Envelope{Type: TypePing, Timestamp: now.UnixMilli()}
}

func NewPong(now time.Time) *Envelope {
	return &Envelope{Type: TypePong, Timestamp: now.UnixMilli()}
}
