package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/yegram/yegram/shared/signal/messages"
	"github.com/yegram/yegram/signal/metrics"
	"github.com/yegram/yegram/signal/peer"
)

const (
	DefaultProbeInterval = 30 * time.Second
	DefaultQueueSize     = 64
	DefaultRateLimit     = 50
	DefaultRateBurst     = 100

	welcomeText = "Welcome to Yegram!"
	offlineText = "User is offline or not found"
)

// Option customises a Server
type Option func(*Server)

// WithClock replaces the clock driving liveness probes and timestamps
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

func WithProbeInterval(d time.Duration) Option {
	return func(s *Server) {
		s.probeInterval = d
	}
}

// WithRateLimit limits inbound frames per connection. A non-positive limit disables limiting.
func WithRateLimit(limit float64, burst int) Option {
	return func(s *Server) {
		s.rateLimit = limit
		s.rateBurst = burst
	}
}

func WithQueueSize(n int) Option {
	return func(s *Server) {
		s.queueSize = n
	}
}

// WithAllowedOrigins sets the origin patterns accepted on websocket upgrade and by the health endpoint
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// Server is the rendezvous relay. It binds self-asserted identities to websocket connections and forwards
// handshake messages between them without interpreting their payloads.
type Server struct {
	registry *peer.Registry
	metrics  *metrics.AppMetrics

	clock          clock.Clock
	probeInterval  time.Duration
	rateLimit      float64
	rateBurst      int
	queueSize      int
	allowedOrigins []string

	ctx     context.Context
	cancel  context.CancelFunc
	connSeq atomic.Int64
	connsMu sync.Mutex
	conns   map[*connection]struct{}
	wg      sync.WaitGroup

	probeRounds atomic.Int64
}

// NewServer creates a relay server and starts its liveness probe loop. The loop stops with ctx or Shutdown.
func NewServer(ctx context.Context, meter metric.Meter, opts ...Option) (*Server, error) {
	appMetrics, err := metrics.NewAppMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("creating app metrics: %w", err)
	}

	s := &Server{
		registry:       peer.NewRegistry(appMetrics),
		metrics:        appMetrics,
		clock:          clock.New(),
		probeInterval:  DefaultProbeInterval,
		rateLimit:      DefaultRateLimit,
		rateBurst:      DefaultRateBurst,
		queueSize:      DefaultQueueSize,
		allowedOrigins: []string{"*"},
		conns:          make(map[*connection]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.probeInterval <= 0 {
		return nil, fmt.Errorf("invalid probe interval %s", s.probeInterval)
	}
	if s.queueSize <= 0 {
		return nil, fmt.Errorf("invalid queue size %d", s.queueSize)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	ticker := s.clock.Ticker(s.probeInterval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.probeLoop(ticker)
	}()

	return s, nil
}

// Registry exposes the identity registry
func (s *Server) Registry() *peer.Registry {
	return s.registry
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.rateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(s.rateLimit), s.rateBurst)
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	for _, o := range s.allowedOrigins {
		if o == "*" {
			return &websocket.AcceptOptions{InsecureSkipVerify: true}
		}
	}
	return &websocket.AcceptOptions{OriginPatterns: s.allowedOrigins}
}

// ServeWebsocket upgrades the request and serves the connection until it closes
func (s *Server) ServeWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		log.Errorf("failed to accept ws connection: %s", err)
		return
	}

	id := s.connSeq.Add(1)
	logger := log.WithFields(log.Fields{"conn": id, "remote": r.RemoteAddr})
	c := newConnection(id, wsConn, s.queueSize, s.newLimiter(), logger)

	s.connsMu.Lock()
	if s.ctx.Err() != nil {
		s.connsMu.Unlock()
		_ = wsConn.Close(websocket.StatusGoingAway, messages.CloseReasonShutdown)
		return
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	s.connsMu.Unlock()
	defer s.wg.Done()

	s.metrics.OpenConnections.Add(s.ctx, 1)
	logger.Debugf("new connection")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(s.ctx)
	}()

	if err := c.Send(messages.NewWelcome(welcomeText, s.registry.Count(), s.clock.Now())); err != nil {
		logger.Warnf("failed to send welcome: %s", err)
	}

	s.readLoop(c)

	s.unbind(c)
	c.shutdown(websocket.StatusNormalClosure, "", false)
	<-writerDone

	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()
	s.metrics.OpenConnections.Add(context.Background(), -1)
	logger.Debugf("connection closed")
}

func (s *Server) readLoop(c *connection) {
	for {
		// reads are not bound to the server context, cancelling a read would drop the closing handshake
		typ, data, err := c.ws.Read(context.Background())
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !c.isClosed() && !errors.Is(err, context.Canceled) {
				c.log.Debugf("read failed: %s", err)
			}
			return
		}
		c.alive.Store(true)

		if typ != websocket.MessageText {
			s.metrics.MalformedMessages.Add(s.ctx, 1)
			continue
		}

		if !c.limiter.Allow() {
			s.rateLimited(c)
			continue
		}

		msg, err := messages.Unmarshal(data)
		if err != nil {
			s.metrics.MalformedMessages.Add(s.ctx, 1)
			c.log.Tracef("dropping frame: %s", err)
			continue
		}
		s.dispatch(c, msg)
	}
}

// dispatch is the single entry point for frames received from a connection
func (s *Server) dispatch(c *connection, msg *messages.Message) {
	// a closing connection only waits for the end of its closing handshake
	if c.isClosed() {
		c.log.Tracef("dropping %s received while closing", msg.Type)
		return
	}

	switch msg.Type {
	case messages.TypeRegister:
		s.register(c, msg)
	case messages.TypeOffer, messages.TypeAnswer, messages.TypeCandidate:
		s.forward(c, msg)
	case messages.TypeDisconnect:
		if p := c.bound(); p != nil {
			c.log.Infof("peer [%s] requested disconnect", p.Id)
		}
		s.unbind(c)
	case messages.TypePing:
		s.reply(c, messages.NewPong(s.clock.Now()))
	default:
		c.log.Debugf("ignoring message of unknown type %q", msg.Type)
	}
}

func (s *Server) register(c *connection, msg *messages.Message) {
	if msg.UserID == "" {
		s.metrics.MalformedMessages.Add(s.ctx, 1)
		c.log.Debugf("dropping register without identity")
		return
	}

	if prev := c.bound(); prev != nil && prev.Id != msg.UserID {
		s.unbind(c)
	}

	p := peer.NewPeer(msg.UserID, c)
	p.RegisteredAt = s.clock.Now()
	evicted := s.registry.Register(p)
	c.bind(p)

	if evicted != nil {
		if ec, ok := evicted.Conn.(*connection); ok {
			ec.unbind(evicted)
		}
		if err := evicted.Conn.Close(messages.CloseReasonSuperseded); err != nil {
			c.log.Warnf("failed to close superseded connection: %s", err)
		}
	}

	c.log.Infof("peer [%s] registered, online: %d", p.Id, s.registry.Count())
	s.reply(c, messages.NewRegistered(p.Id, s.clock.Now()))
}

// forward relays a directed message to its target. The sender is always the identity bound to the
// originating connection; failures are reported to the originating connection only.
func (s *Server) forward(c *connection, msg *messages.Message) {
	now := s.clock.Now()

	sender := c.bound()
	if sender == nil {
		s.reply(c, messages.NewError(messages.CodeNotRegistered, "register before signaling", msg.Target, now))
		return
	}
	if msg.Target == "" {
		s.metrics.MalformedMessages.Add(s.ctx, 1)
		c.log.Debugf("dropping %s without target", msg.Type)
		return
	}

	dst, ok := s.registry.Get(msg.Target)
	if !ok || !dst.Conn.Writable() {
		c.log.Debugf("%s to [%s] can't be forwarded, target is offline", msg.Type, msg.Target)
		s.reply(c, messages.NewError(messages.CodeUserOffline, offlineText, msg.Target, now))
		return
	}

	if err := dst.Conn.Send(msg.Forwarded(sender.Id, now)); err != nil {
		s.metrics.ForwardFailures.Add(s.ctx, 1)
		c.log.Warnf("failed forwarding %s to [%s]: %s", msg.Type, msg.Target, err)
		s.reply(c, messages.NewError(messages.CodeUserOffline, offlineText, msg.Target, now))
		return
	}

	s.metrics.MessagesForwarded.Add(s.ctx, 1)
	c.log.Tracef("forwarded %s to [%s]", msg.Type, msg.Target)
}

func (s *Server) rateLimited(c *connection) {
	s.metrics.RateLimitedFrames.Add(s.ctx, 1)
	now := s.clock.Now()
	if now.Sub(c.lastLimitReply) < time.Second {
		return
	}
	c.lastLimitReply = now
	c.log.Warnf("rate limit exceeded, dropping frames")
	s.reply(c, messages.NewError(messages.CodeRateLimited, "too many messages", "", now))
}

func (s *Server) reply(c *connection, msg *messages.Message) {
	if err := c.Send(msg); err != nil {
		c.log.Debugf("failed to send %s: %s", msg.Type, err)
	}
}

// unbind removes the identity bound to the connection from the registry, if the registry still maps it there
func (s *Server) unbind(c *connection) {
	p := c.bound()
	if p == nil {
		return
	}
	c.unbind(p)
	if s.registry.Deregister(p) {
		c.log.Infof("peer [%s] deregistered, online: %d", p.Id, s.registry.Count())
	}
}

func (s *Server) snapshotConns() []*connection {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	conns := make([]*connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// Shutdown closes every connection with a going away status and waits for their handlers to return
func (s *Server) Shutdown(ctx context.Context) error {
	s.connsMu.Lock()
	s.cancel()
	s.connsMu.Unlock()

	for _, c := range s.snapshotConns() {
		c.shutdown(websocket.StatusGoingAway, messages.CloseReasonShutdown, false)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, c := range s.snapshotConns() {
			_ = c.ws.CloseNow()
		}
		return fmt.Errorf("waiting for connections to close: %w", ctx.Err())
	}
}
