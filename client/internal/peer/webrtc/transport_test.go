package webrtc

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegram/yegram/client/internal/peer"
)

type endpoint struct {
	candidates chan json.RawMessage
	opened     chan struct{}
	openOnce   sync.Once
	messages   chan []byte
	closed     chan error
}

func newEndpoint() *endpoint {
	return &endpoint{
		candidates: make(chan json.RawMessage, 64),
		opened:     make(chan struct{}),
		messages:   make(chan []byte, 8),
		closed:     make(chan error, 1),
	}
}

func (e *endpoint) handlers() peer.ChannelHandlers {
	return peer.ChannelHandlers{
		OnLocalCandidate: func(c json.RawMessage) {
			e.candidates <- c
		},
		OnOpen: func() {
			e.openOnce.Do(func() {
				close(e.opened)
			})
		},
		OnClose: func(err error) {
			select {
			case e.closed <- err:
			default:
			}
		},
		OnMessage: func(data []byte) {
			e.messages <- data
		},
	}
}

func trickle(ctx context.Context, from *endpoint, to peer.Channel) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-from.candidates:
			_ = to.AddRemoteCandidate(c)
		}
	}
}

func TestTransport_Loopback(t *testing.T) {
	tr := NewTransport(Config{IncludeLoopback: true})

	epA, epB := newEndpoint(), newEndpoint()
	a, err := tr.NewChannel("user_2", peer.RoleInitiator, epA.handlers())
	require.NoError(t, err)
	defer a.Close()
	b, err := tr.NewChannel("user_1", peer.RoleResponder, epB.handlers())
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	offer, err := a.CreateOffer()
	require.NoError(t, err)

	// candidates trickled before the remote description is set are buffered
	go trickle(ctx, epA, b)

	answer, err := b.AcceptOffer(offer)
	require.NoError(t, err)
	require.NoError(t, a.AcceptAnswer(answer))
	go trickle(ctx, epB, a)

	for _, ep := range []*endpoint{epA, epB} {
		select {
		case <-ep.opened:
		case <-ctx.Done():
			t.Fatal("direct channel did not open")
		}
	}
	assert.True(t, a.IsOpen())
	assert.True(t, b.IsOpen())

	require.NoError(t, a.Send([]byte("hello")))
	select {
	case msg := <-epB.messages:
		assert.Equal(t, []byte("hello"), msg)
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}

func TestChannel_SendBeforeOpen(t *testing.T) {
	tr := NewTransport(Config{})
	ch, err := tr.NewChannel("user_2", peer.RoleInitiator, peer.ChannelHandlers{})
	require.NoError(t, err)
	defer ch.Close()

	assert.False(t, ch.IsOpen())
	assert.ErrorIs(t, ch.Send([]byte("x")), peer.ErrChannelNotOpen)
}

func TestChannel_RejectsWrongDescription(t *testing.T) {
	tr := NewTransport(Config{})
	a, err := tr.NewChannel("user_2", peer.RoleInitiator, peer.ChannelHandlers{})
	require.NoError(t, err)
	defer a.Close()
	b, err := tr.NewChannel("user_1", peer.RoleResponder, peer.ChannelHandlers{})
	require.NoError(t, err)
	defer b.Close()

	offer, err := a.CreateOffer()
	require.NoError(t, err)

	assert.Error(t, b.AcceptAnswer(offer))
	assert.Error(t, b.AcceptAnswer(json.RawMessage(`not json`)))
}
