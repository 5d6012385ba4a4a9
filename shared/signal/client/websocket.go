package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	log "github.com/sirupsen/logrus"

	"github.com/yegram/yegram/shared/signal/messages"
)

const (
	DefaultKeepAlive      = 25 * time.Second
	DefaultReconnectDelay = 3 * time.Second
	DefaultDialTimeout    = 10 * time.Second

	writeTimeout = 10 * time.Second
	closeTimeout = 2 * time.Second
	readLimit    = 64 * 1024
	queueSize    = 128
)

// Options tunes the timing of a WebsocketClient. Zero values take the defaults.
type Options struct {
	// KeepAlive is the interval of application pings, shorter than the relay probe interval
	KeepAlive time.Duration
	// ReconnectDelay is the fixed delay between connection attempts
	ReconnectDelay time.Duration
	// DialTimeout bounds dialing plus registration
	DialTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	return o
}

// WebsocketClient is a relay client over a websocket. It registers the local identity on every
// (re)connection and keeps the connection alive with application level pings.
type WebsocketClient struct {
	url      string
	userID   string
	userInfo json.RawMessage
	opts     Options

	mux      sync.Mutex
	conn     *websocket.Conn
	out      chan []byte
	status   Status
	lastSeen time.Time
	online   int
	closed   bool
	// connectedCh used to notify goroutines waiting for the registration
	connectedCh chan struct{}

	onReconnectedListener  func()
	onDisconnectedListener func()
}

// NewWebsocketClient creates a client for the relay at url. Nothing is dialed until Receive.
func NewWebsocketClient(url, userID string, userInfo json.RawMessage, opts Options) *WebsocketClient {
	return &WebsocketClient{
		url:      url,
		userID:   userID,
		userInfo: userInfo,
		opts:     opts.withDefaults(),
		status:   StreamDisconnected,
	}
}

func (c *WebsocketClient) SetOnReconnectedListener(f func()) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.onReconnectedListener = f
}

func (c *WebsocketClient) SetOnDisconnectedListener(f func()) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.onDisconnectedListener = f
}

func (c *WebsocketClient) GetStatus() Status {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.status
}

// Ready indicates whether the client is registered and can send
func (c *WebsocketClient) Ready() bool {
	return c.GetStatus() == StreamConnected
}

// IsHealthy reports whether the relay answered recently
func (c *WebsocketClient) IsHealthy() bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.status != StreamConnected {
		return false
	}
	return time.Since(c.lastSeen) < 2*c.opts.KeepAlive+c.opts.DialTimeout
}

// OnlineUsers is the registered identity count reported by the last welcome frame
func (c *WebsocketClient) OnlineUsers() int {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.online
}

// WaitStreamConnected waits until the client is registered with the relay
func (c *WebsocketClient) WaitStreamConnected(ctx context.Context) error {
	c.mux.Lock()
	if c.status == StreamConnected {
		c.mux.Unlock()
		return nil
	}
	if c.connectedCh == nil {
		c.connectedCh = make(chan struct{})
	}
	ch := c.connectedCh
	c.mux.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// Send queues msg for the relay. It never waits for the connection.
func (c *WebsocketClient) Send(msg *messages.Message) error {
	b, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}

	c.mux.Lock()
	defer c.mux.Unlock()
	if c.status != StreamConnected || c.out == nil {
		return ErrNotReady
	}

	select {
	case c.out <- b:
		return nil
	default:
		return fmt.Errorf("%w: outbound queue is full", ErrNotReady)
	}
}

// Close announces the disconnect to the relay, best effort, and closes the connection.
// A running Receive returns ErrClosed.
func (c *WebsocketClient) Close() error {
	c.mux.Lock()
	if c.closed {
		c.mux.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mux.Unlock()

	if conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, messages.NewDisconnect()); err != nil {
		log.Debugf("failed to announce disconnect to the relay: %s", err)
	}
	return conn.Close(websocket.StatusNormalClosure, "close")
}

// Receive connects to the relay and starts receiving messages.
// The messages will be handled by msgHandler function provided.
// This function is blocking and reconnects to the relay with a fixed delay if errors occur (e.g. relay restart)
func (c *WebsocketClient) Receive(ctx context.Context, msgHandler func(msg *messages.Message) error) error {
	backOff := backoff.WithContext(backoff.NewConstantBackOff(c.opts.ReconnectDelay), ctx)

	operation := func() error {
		if c.isClosed() {
			return backoff.Permanent(ErrClosed)
		}

		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			log.Warnf("failed to connect to the relay %s: %v", c.url, err)
			return err
		}

		if !c.notifyStreamConnected(conn) {
			_ = conn.Close(websocket.StatusNormalClosure, "close")
			return backoff.Permanent(ErrClosed)
		}
		log.Infof("connected to the relay %s as [%s]", c.url, c.userID)

		err = c.serve(ctx, conn, msgHandler)
		c.notifyStreamDisconnected()

		switch {
		case c.isClosed():
			return backoff.Permanent(ErrClosed)
		case ctx.Err() != nil:
			_ = conn.CloseNow()
			return backoff.Permanent(ctx.Err())
		case isSuperseded(err):
			log.Warnf("relay closed the connection, identity [%s] registered from another connection", c.userID)
			return backoff.Permanent(ErrSuperseded)
		}

		log.Warnf("disconnected from the relay: %v", err)
		_ = conn.CloseNow()
		return err
	}

	err := backoff.Retry(operation, backOff)
	if err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
		log.Errorf("exiting relay connection retry loop: %s", err)
	}
	return err
}

func isSuperseded(err error) bool {
	var closeErr websocket.CloseError
	return errors.As(err, &closeErr) && closeErr.Reason == messages.CloseReasonSuperseded
}

// connect dials the relay and registers, returning once the relay confirmed the registration
func (c *WebsocketClient) connect(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	if err := wsjson.Write(dialCtx, conn, messages.NewRegister(c.userID, c.userInfo)); err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("register: %w", err)
	}

	for {
		_, data, err := conn.Read(dialCtx)
		if err != nil {
			_ = conn.CloseNow()
			return nil, fmt.Errorf("waiting for registration: %w", err)
		}
		msg, err := messages.Unmarshal(data)
		if err != nil {
			log.Debugf("dropping relay frame: %s", err)
			continue
		}

		switch msg.Type {
		case messages.TypeWelcome:
			c.updateOnline(msg)
		case messages.TypeRegistered:
			if msg.UserID != c.userID {
				_ = conn.CloseNow()
				return nil, fmt.Errorf("relay registered unexpected identity %q", msg.UserID)
			}
			return conn, nil
		default:
			log.Debugf("ignoring %s received before registration", msg.Type)
		}
	}
}

// serve runs the keep-alive and writer goroutines and the read loop of a registered connection
func (c *WebsocketClient) serve(ctx context.Context, conn *websocket.Conn, msgHandler func(msg *messages.Message) error) error {
	sCtx, cancel := context.WithCancel(ctx)

	c.mux.Lock()
	out := c.out
	c.mux.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop(sCtx, conn, out)
	}()
	go func() {
		defer wg.Done()
		c.keepAlive(sCtx)
	}()
	defer wg.Wait()
	defer cancel()

	for {
		_, data, err := conn.Read(sCtx)
		if err != nil {
			return err
		}
		c.touch()

		msg, err := messages.Unmarshal(data)
		if err != nil {
			log.Debugf("dropping relay frame: %s", err)
			continue
		}

		switch msg.Type {
		case messages.TypeWelcome:
			c.updateOnline(msg)
		case messages.TypePong, messages.TypeRegistered:
			log.Tracef("received %s from the relay", msg.Type)
		default:
			if err := msgHandler(msg); err != nil {
				log.Errorf("error while handling %s from peer [%s]: %s", msg.Type, msg.Sender, err)
			}
		}
	}
}

func (c *WebsocketClient) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-out:
			wCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wCtx, websocket.MessageText, b)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					log.Warnf("failed writing to the relay: %s", err)
					_ = conn.CloseNow()
				}
				return
			}
		}
	}
}

func (c *WebsocketClient) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(c.opts.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Send(messages.NewPing(time.Now())); err != nil {
				log.Debugf("failed to queue keep-alive ping: %s", err)
			}
		}
	}
}

func (c *WebsocketClient) updateOnline(msg *messages.Message) {
	if msg.OnlineUsers == nil {
		return
	}
	c.mux.Lock()
	defer c.mux.Unlock()
	c.online = *msg.OnlineUsers
}

func (c *WebsocketClient) touch() {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.lastSeen = time.Now()
}

func (c *WebsocketClient) isClosed() bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.closed
}

// notifyStreamConnected publishes the registered connection. It returns false if the client was closed meanwhile.
func (c *WebsocketClient) notifyStreamConnected(conn *websocket.Conn) bool {
	c.mux.Lock()
	if c.closed {
		c.mux.Unlock()
		return false
	}
	c.conn = conn
	c.out = make(chan []byte, queueSize)
	c.status = StreamConnected
	c.lastSeen = time.Now()
	if c.connectedCh != nil {
		// there are goroutines waiting on this channel -> release them
		close(c.connectedCh)
		c.connectedCh = nil
	}
	listener := c.onReconnectedListener
	c.mux.Unlock()

	if listener != nil {
		listener()
	}
	return true
}

func (c *WebsocketClient) notifyStreamDisconnected() {
	c.mux.Lock()
	wasConnected := c.status == StreamConnected
	c.status = StreamDisconnected
	c.out = nil
	listener := c.onDisconnectedListener
	c.mux.Unlock()

	if wasConnected && listener != nil {
		listener()
	}
}
