package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yegram/yegram/shared/signal/messages"
	"github.com/yegram/yegram/signal/peer"
)

const (
	writeTimeout = 10 * time.Second
	readLimit    = 64 * 1024
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrQueueFull  = errors.New("outbound queue is full")
)

// connection is a single accepted websocket. Frames are queued by any goroutine and written by one writer
// goroutine so forwarding never blocks the dispatching reader on a slow target.
type connection struct {
	id  int64
	ws  *websocket.Conn
	log *log.Entry

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeCode websocket.StatusCode
	closeMsg  string
	hardClose bool

	alive   atomic.Bool
	limiter *rate.Limiter
	// lastLimitReply is only touched by the reader goroutine
	lastLimitReply time.Time

	mu   sync.Mutex
	peer *peer.Peer
}

func newConnection(id int64, ws *websocket.Conn, queueSize int, limiter *rate.Limiter, logger *log.Entry) *connection {
	c := &connection{
		id:      id,
		ws:      ws,
		log:     logger,
		out:     make(chan []byte, queueSize),
		done:    make(chan struct{}),
		limiter: limiter,
	}
	c.alive.Store(true)
	ws.SetReadLimit(readLimit)
	return c
}

// Send queues the frame without waiting for the network
func (c *connection) Send(msg *messages.Message) error {
	b, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}

	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.out <- b:
		return nil
	default:
		return ErrQueueFull
	}
}

// Writable reports whether the connection is open and has room in its outbound queue
func (c *connection) Writable() bool {
	select {
	case <-c.done:
		return false
	default:
	}
	return len(c.out) < cap(c.out)
}

// Close starts a normal closing handshake with the given reason
func (c *connection) Close(reason string) error {
	c.shutdown(websocket.StatusNormalClosure, reason, false)
	return nil
}

// terminate drops the transport without a closing handshake
func (c *connection) terminate() {
	c.shutdown(websocket.StatusPolicyViolation, messages.CloseReasonUnresponsive, true)
}

func (c *connection) shutdown(code websocket.StatusCode, reason string, hard bool) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeMsg = reason
		c.hardClose = hard
		close(c.done)
	})
}

func (c *connection) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *connection) bound() *peer.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

func (c *connection) bind(p *peer.Peer) (previous *peer.Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous = c.peer
	c.peer = p
	return previous
}

// unbind clears the binding when it still refers to p
func (c *connection) unbind(p *peer.Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peer == p {
		c.peer = nil
	}
}

// writeLoop drains the outbound queue until the connection is closed
func (c *connection) writeLoop(ctx context.Context) {
	for {
		select {
		case b := <-c.out:
			wCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wCtx, websocket.MessageText, b)
			cancel()
			if err != nil {
				c.log.Debugf("failed to write frame: %s", err)
				c.shutdown(websocket.StatusInternalError, "write failed", true)
				_ = c.ws.CloseNow()
				return
			}
		case <-c.done:
			c.closeTransport()
			return
		case <-ctx.Done():
			c.shutdown(websocket.StatusGoingAway, messages.CloseReasonShutdown, false)
			c.closeTransport()
			return
		}
	}
}

func (c *connection) closeTransport() {
	if c.hardClose {
		_ = c.ws.CloseNow()
		return
	}
	if err := c.ws.Close(c.closeCode, c.closeMsg); err != nil {
		c.log.Tracef("close handshake: %s", err)
	}
}

// ping sends a websocket level ping and marks the connection alive once the pong arrives
func (c *connection) ping(ctx context.Context, timeout time.Duration) {
	pCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := c.ws.Ping(pCtx); err != nil {
		c.log.Tracef("ping failed: %s", err)
		return
	}
	c.alive.Store(true)
}
