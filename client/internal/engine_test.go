package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegram/yegram/client/internal/chat"
	"github.com/yegram/yegram/client/internal/peer"
	"github.com/yegram/yegram/client/internal/store"
	"github.com/yegram/yegram/client/internal/timer"
	signal "github.com/yegram/yegram/shared/signal/client"
	"github.com/yegram/yegram/shared/signal/messages"
)

// memRelay routes relay messages between the engines of a test, in the way the relay server does
type memRelay struct {
	mu        sync.Mutex
	endpoints map[string]*relayEndpoint
}

type relayEndpoint struct {
	relay   *memRelay
	id      string
	online  bool
	handler func(msg *messages.Message) error
	onUp    func()
	onDown  func()
	// closes counts Close calls, receivingOnClose tells whether the first one came before Receive ended
	closes           int
	receivingOnClose bool
}

func newMemRelay() *memRelay {
	return &memRelay{endpoints: make(map[string]*relayEndpoint)}
}

func (r *memRelay) client(id string) (*relayEndpoint, *signal.MockClient) {
	ep := &relayEndpoint{relay: r, id: id}
	r.mu.Lock()
	r.endpoints[id] = ep
	r.mu.Unlock()

	return ep, &signal.MockClient{
		ReadyFunc: func() bool {
			r.mu.Lock()
			defer r.mu.Unlock()
			return ep.online && ep.handler != nil
		},
		SendFunc: ep.send,
		CloseFunc: func() error {
			r.mu.Lock()
			defer r.mu.Unlock()
			if ep.closes == 0 {
				ep.receivingOnClose = ep.handler != nil
			}
			ep.closes++
			return nil
		},
		ReceiveFunc: func(ctx context.Context, handler func(msg *messages.Message) error) error {
			r.mu.Lock()
			ep.handler = handler
			r.mu.Unlock()
			<-ctx.Done()
			r.mu.Lock()
			ep.handler = nil
			r.mu.Unlock()
			return ctx.Err()
		},
		SetOnReconnectedListenerFunc: func(f func()) {
			r.mu.Lock()
			ep.onUp = f
			r.mu.Unlock()
		},
		SetOnDisconnectedListenerFunc: func(f func()) {
			r.mu.Lock()
			ep.onDown = f
			r.mu.Unlock()
		},
	}
}

func (ep *relayEndpoint) send(msg *messages.Message) error {
	r := ep.relay
	r.mu.Lock()
	if !ep.online {
		r.mu.Unlock()
		return signal.ErrNotReady
	}
	self := ep.handler
	dst, ok := r.endpoints[msg.Target]
	if !ok || !dst.online || dst.handler == nil {
		r.mu.Unlock()
		return self(messages.NewError(messages.CodeUserOffline, "User is offline or not found", msg.Target, time.Now()))
	}
	deliver := dst.handler
	r.mu.Unlock()
	return deliver(msg.Forwarded(ep.id, time.Now()))
}

func (ep *relayEndpoint) registered() bool {
	ep.relay.mu.Lock()
	defer ep.relay.mu.Unlock()
	return ep.handler != nil
}

func (ep *relayEndpoint) connect() {
	ep.relay.mu.Lock()
	ep.online = true
	up := ep.onUp
	ep.relay.mu.Unlock()
	up()
}

func (ep *relayEndpoint) disconnect() {
	ep.relay.mu.Lock()
	ep.online = false
	down := ep.onDown
	ep.relay.mu.Unlock()
	down()
}

// memNet pairs the channels of the engines of a test. A channel opens once its answer is accepted.
type memNet struct {
	mu       sync.Mutex
	seq      int
	offers   map[string]*memChannel
	channels []*memChannel
}

type memTransport struct {
	net   *memNet
	local string
}

type memChannel struct {
	net      *memNet
	handlers peer.ChannelHandlers
	remote   *memChannel
	open     bool
	closed   bool
}

type memDescription struct {
	Token string `json:"token"`
}

func newMemNet() *memNet {
	return &memNet{offers: make(map[string]*memChannel)}
}

func (n *memNet) transport(local string) *memTransport {
	return &memTransport{net: n, local: local}
}

func (t *memTransport) NewChannel(_ string, _ peer.Role, handlers peer.ChannelHandlers) (peer.Channel, error) {
	c := &memChannel{net: t.net, handlers: handlers}
	t.net.mu.Lock()
	t.net.channels = append(t.net.channels, c)
	t.net.mu.Unlock()
	return c, nil
}

func (c *memChannel) CreateOffer() (json.RawMessage, error) {
	c.net.mu.Lock()
	c.net.seq++
	token := fmt.Sprintf("channel-%d", c.net.seq)
	c.net.offers[token] = c
	c.net.mu.Unlock()

	c.handlers.OnLocalCandidate(json.RawMessage(`{"candidate":"host"}`))
	return json.Marshal(memDescription{Token: token})
}

func (c *memChannel) AcceptOffer(offer json.RawMessage) (json.RawMessage, error) {
	var desc memDescription
	if err := json.Unmarshal(offer, &desc); err != nil {
		return nil, err
	}

	c.net.mu.Lock()
	initiator, ok := c.net.offers[desc.Token]
	delete(c.net.offers, desc.Token)
	if ok {
		initiator.remote = c
		c.remote = initiator
	}
	c.net.mu.Unlock()
	if !ok {
		return nil, errors.New("unknown offer")
	}

	c.handlers.OnLocalCandidate(json.RawMessage(`{"candidate":"host"}`))
	return json.Marshal(desc)
}

func (c *memChannel) AcceptAnswer(json.RawMessage) error {
	c.net.mu.Lock()
	remote := c.remote
	if remote == nil || c.closed || remote.closed {
		c.net.mu.Unlock()
		return errors.New("answer without a live remote channel")
	}
	c.open = true
	remote.open = true
	c.net.mu.Unlock()

	c.handlers.OnOpen()
	remote.handlers.OnOpen()
	return nil
}

func (c *memChannel) AddRemoteCandidate(json.RawMessage) error {
	return nil
}

func (c *memChannel) Send(data []byte) error {
	c.net.mu.Lock()
	if !c.open || c.closed {
		c.net.mu.Unlock()
		return errors.New("channel is not open")
	}
	remote := c.remote
	c.net.mu.Unlock()

	remote.handlers.OnMessage(append([]byte(nil), data...))
	return nil
}

func (c *memChannel) IsOpen() bool {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return c.open && !c.closed
}

func (c *memChannel) Close() error {
	c.net.mu.Lock()
	if c.closed {
		c.net.mu.Unlock()
		return nil
	}
	c.closed = true
	remote := c.remote
	notify := remote != nil && remote.open && !remote.closed
	if notify {
		remote.open = false
	}
	c.net.mu.Unlock()

	if notify {
		remote.handlers.OnClose(errors.New("remote closed the channel"))
	}
	return nil
}

// open returns the channels currently open
func (n *memNet) open() []*memChannel {
	n.mu.Lock()
	defer n.mu.Unlock()
	var open []*memChannel
	for _, c := range n.channels {
		if c.open && !c.closed {
			open = append(open, c)
		}
	}
	return open
}

// drop breaks the given channels. With silent set, nobody is told.
func (n *memNet) drop(silent bool, channels ...*memChannel) {
	for _, c := range channels {
		n.mu.Lock()
		wasOpen := c.open && !c.closed
		c.open = false
		n.mu.Unlock()
		if wasOpen && !silent {
			c.handlers.OnClose(errors.New("connection lost"))
		}
	}
}

type recordingListener struct {
	mu        sync.Mutex
	connected []string
	retrying  []string
	failed    []string
	closed    []string
	messages  []chat.Message
	delivered []string
	typing    []bool
	relay     []bool
}

func (l *recordingListener) OnPeerConnected(peerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = append(l.connected, peerID)
}

func (l *recordingListener) OnPeerRetrying(peerID string, _ error, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retrying = append(l.retrying, peerID)
}

func (l *recordingListener) OnPeerFailed(peerID string, _ error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = append(l.failed, peerID)
}

func (l *recordingListener) OnPeerClosed(peerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = append(l.closed, peerID)
}

func (l *recordingListener) OnMessage(_ string, msg chat.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *recordingListener) OnDelivered(_ string, messageID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delivered = append(l.delivered, messageID)
}

func (l *recordingListener) OnTyping(_ string, typing bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.typing = append(l.typing, typing)
}

func (l *recordingListener) OnRelayStatus(connected bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.relay = append(l.relay, connected)
}

func (l *recordingListener) snapshot() recordingListener {
	l.mu.Lock()
	defer l.mu.Unlock()
	return recordingListener{
		connected: append([]string(nil), l.connected...),
		retrying:  append([]string(nil), l.retrying...),
		failed:    append([]string(nil), l.failed...),
		closed:    append([]string(nil), l.closed...),
		messages:  append([]chat.Message(nil), l.messages...),
		delivered: append([]string(nil), l.delivered...),
		typing:    append([]bool(nil), l.typing...),
		relay:     append([]bool(nil), l.relay...),
	}
}

type testPeer struct {
	engine   *Engine
	store    *store.Store
	relay    *relayEndpoint
	listener *recordingListener
}

type testNet struct {
	t       *testing.T
	clock   *timer.Manual
	relay   *memRelay
	net     *memNet
	peers   map[string]*testPeer
	engines []*Engine
}

func newTestNet(t *testing.T) *testNet {
	t.Helper()
	return &testNet{
		t:     t,
		clock: timer.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		relay: newMemRelay(),
		net:   newMemNet(),
		peers: make(map[string]*testPeer),
	}
}

// add starts an engine for id, registered with the relay when online is set
func (n *testNet) add(id, name, username string, online bool) *testPeer {
	n.t.Helper()

	st := store.New(store.NewMemoryStore())
	identity := &store.Identity{ID: id, Name: name, Username: username, Created: n.clock.Now().UnixMilli()}
	require.NoError(n.t, st.SaveIdentity(identity))

	ep, relayClient := n.relay.client(id)
	listener := &recordingListener{}
	engine := NewEngine(&EngineConfig{
		Identity:         identity,
		HandshakeTimeout: peer.DefaultHandshakeTimeout,
		BackoffBase:      peer.DefaultBackoffBase,
		MaxAttempts:      peer.DefaultMaxAttempts,
		ChannelKeepAlive: DefaultChannelKeepAlive,
		SweepInterval:    DefaultSweepInterval,
		SweepJitter:      DefaultSweepJitter,
	}, EngineDeps{
		Relay:     relayClient,
		Transport: n.net.transport(id),
		Store:     st,
		Scheduler: n.clock,
		Listener:  listener,
		Jitter: func(time.Duration) time.Duration {
			return 0
		},
	})
	require.NoError(n.t, engine.Start(context.Background()))
	n.t.Cleanup(func() {
		_ = engine.Stop()
	})
	require.Eventually(n.t, ep.registered, time.Second, time.Millisecond)

	p := &testPeer{engine: engine, store: st, relay: ep, listener: listener}
	n.peers[id] = p
	n.engines = append(n.engines, engine)
	if online {
		ep.connect()
	}
	n.settle()
	return p
}

// settle waits until no engine has work left. Every round runs a barrier through each engine, the
// network is idle once the barriers were the only events handled in a round.
func (n *testNet) settle() {
	n.t.Helper()
	for i := 0; i < 1000; i++ {
		before := n.processed()
		for _, e := range n.engines {
			if err := e.call(func() {}); err != nil {
				return
			}
		}
		if n.processed()-before == uint64(len(n.engines)) && n.queued() == 0 {
			return
		}
	}
	n.t.Fatal("engines did not settle")
}

func (n *testNet) processed() uint64 {
	var total uint64
	for _, e := range n.engines {
		total += e.processed.Load()
	}
	return total
}

func (n *testNet) queued() int {
	var total int
	for _, e := range n.engines {
		total += len(e.events)
	}
	return total
}

// advance moves the clock in one second steps, letting the engines settle in between
func (n *testNet) advance(d time.Duration) {
	n.t.Helper()
	for d > 0 {
		step := time.Second
		if d < step {
			step = d
		}
		n.clock.Advance(step)
		n.settle()
		d -= step
	}
}

func requireState(t *testing.T, p *testPeer, peerID string, want peer.State) {
	t.Helper()
	state, ok := p.engine.PeerState(peerID)
	require.True(t, ok, "no session with %s", peerID)
	require.Equal(t, want, state, "session with %s", peerID)
}

func TestEngine_ConnectAndChat(t *testing.T) {
	n := newTestNet(t)
	alice := n.add("user_1", "Alice", "alice", true)
	bob := n.add("user_2", "Bob", "bob", true)

	require.NoError(t, alice.engine.Connect("user_2"))
	n.settle()

	requireState(t, alice, "user_2", peer.StateConnected)
	requireState(t, bob, "user_1", peer.StateConnected)
	assert.Equal(t, []string{"user_2"}, alice.listener.snapshot().connected)
	assert.Equal(t, []string{"user_1"}, bob.listener.snapshot().connected)

	// both sides learned the other from its user-info
	record, err := bob.store.Peer("user_1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", record.Name)
	assert.Equal(t, "alice", record.Username)
	record, err = alice.store.Peer("user_2")
	require.NoError(t, err)
	assert.Equal(t, "bob", record.Username)

	id, err := alice.engine.SendMessage("user_2", "hello bob")
	require.NoError(t, err)
	n.settle()

	received := bob.listener.snapshot().messages
	require.Len(t, received, 1)
	assert.Equal(t, id, received[0].ID)
	assert.Equal(t, "hello bob", received[0].Content)
	assert.Equal(t, "user_1", received[0].SenderID)
	assert.False(t, received[0].Outgoing)

	assert.Equal(t, []string{id}, alice.listener.snapshot().delivered)

	sent, err := alice.store.History("user_2")
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, chat.StatusDelivered, sent[0].Status)
	assert.True(t, sent[0].Outgoing)

	stored, err := bob.store.History("user_1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "hello bob", stored[0].Content)

	reply, err := bob.engine.SendMessage("user_1", "hello alice")
	require.NoError(t, err)
	n.settle()

	received = alice.listener.snapshot().messages
	require.Len(t, received, 1)
	assert.Equal(t, reply, received[0].ID)
	assert.Equal(t, "hello alice", received[0].Content)
	assert.Equal(t, "user_2", received[0].SenderID)
	assert.Equal(t, []string{reply}, bob.listener.snapshot().delivered)

	sent, err = bob.store.History("user_1")
	require.NoError(t, err)
	require.Len(t, sent, 2)
	assert.Equal(t, chat.StatusDelivered, sent[1].Status)
	assert.True(t, sent[1].Outgoing)

	// every confirmation was consumed
	require.NoError(t, alice.engine.call(func() {
		assert.Zero(t, alice.engine.tracker.Pending("user_2"))
	}))
	require.NoError(t, bob.engine.call(func() {
		assert.Zero(t, bob.engine.tracker.Pending("user_1"))
	}))
}

func TestEngine_ConnectIsIdempotent(t *testing.T) {
	n := newTestNet(t)
	alice := n.add("user_1", "Alice", "alice", true)
	n.add("user_2", "Bob", "bob", true)

	assert.ErrorIs(t, alice.engine.Connect("user_1"), peer.ErrSelfConnect)

	require.NoError(t, alice.engine.Connect("user_2"))
	n.settle()

	assert.ErrorIs(t, alice.engine.Connect("user_2"), peer.ErrAlreadyConnected)
	assert.ErrorIs(t, alice.engine.Connect("@BOB"), peer.ErrAlreadyConnected)
	n.settle()

	assert.Len(t, alice.engine.Sessions(), 1)
	assert.Equal(t, []string{"user_2"}, alice.listener.snapshot().connected)

	_, err := alice.store.ResolveAlias("@nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, alice.engine.Connect("@nobody"), store.ErrNotFound)
}

func TestEngine_OfflinePeerFailsOnce(t *testing.T) {
	n := newTestNet(t)
	alice := n.add("user_1", "Alice", "alice", true)

	require.NoError(t, alice.engine.Connect("user_3"))
	n.settle()

	state, ok := alice.engine.PeerState("user_3")
	require.True(t, ok)
	assert.Equal(t, peer.StateFailed, state)

	// 2+4+6+8+10 seconds of backoff, the sixth failure gives up
	n.advance(29 * time.Second)
	assert.Empty(t, alice.listener.snapshot().failed)

	n.advance(2 * time.Second)
	events := alice.listener.snapshot()
	assert.Equal(t, []string{"user_3"}, events.failed)
	assert.Equal(t, []string{"user_3"}, events.retrying)
	assert.Empty(t, events.connected)

	_, ok = alice.engine.PeerState("user_3")
	assert.False(t, ok, "a given up session is dropped")

	// the peer stays in the roster for a later reconnect
	_, err := alice.store.Peer("user_3")
	assert.NoError(t, err)

	n.advance(time.Minute)
	assert.Len(t, alice.listener.snapshot().failed, 1)
}

func TestEngine_ConnectDuringBackoffRestarts(t *testing.T) {
	n := newTestNet(t)
	alice := n.add("user_1", "Alice", "alice", true)

	require.NoError(t, alice.engine.Connect("user_3"))
	n.settle()
	requireState(t, alice, "user_3", peer.StateFailed)
	sessions := alice.engine.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, 1, sessions[0].Attempt)

	carol := n.add("user_3", "Carol", "carol", true)

	// a failed session does not wait for its backoff delay
	require.NoError(t, alice.engine.Connect("user_3"))
	n.settle()
	requireState(t, alice, "user_3", peer.StateConnected)
	requireState(t, carol, "user_1", peer.StateConnected)

	sessions = alice.engine.Sessions()
	require.Len(t, sessions, 1)
	assert.Zero(t, sessions[0].Attempt)

	// the stopped backoff timer does not start another attempt
	n.advance(time.Minute)
	requireState(t, alice, "user_3", peer.StateConnected)
	assert.Equal(t, []string{"user_3"}, alice.listener.snapshot().connected)
	assert.Equal(t, []string{"user_3"}, alice.listener.snapshot().retrying)
}

func TestEngine_StopDropsEventsQueuedBehindTeardown(t *testing.T) {
	n := newTestNet(t)
	alice := n.add("user_1", "Alice", "alice", true)

	offer := &messages.Message{
		Type:   messages.TypeOffer,
		Sender: "user_9",
		Offer:  json.RawMessage(`{"token":"channel-9"}`),
	}
	require.NoError(t, alice.engine.call(func() {
		alice.engine.post(func() {
			alice.engine.handleRelayMessage(offer)
		})
		alice.engine.teardown()
	}))
	require.NoError(t, alice.engine.Stop())

	assert.Empty(t, alice.engine.sessions)
	assert.Zero(t, n.clock.Pending())
	n.net.mu.Lock()
	assert.Empty(t, n.net.channels)
	n.net.mu.Unlock()
}

func TestEngine_RelayDownDefersHandshake(t *testing.T) {
	n := newTestNet(t)
	alice := n.add("user_1", "Alice", "alice", false)
	bob := n.add("user_2", "Bob", "bob", true)

	require.NoError(t, alice.engine.Connect("user_2"))
	n.settle()

	sessions := alice.engine.Sessions()
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Paused)
	assert.Equal(t, peer.StateOffering, sessions[0].State)

	// no timer runs while paused
	n.advance(time.Minute)
	assert.Empty(t, alice.listener.snapshot().retrying)

	alice.relay.connect()
	n.settle()

	requireState(t, alice, "user_2", peer.StateConnected)
	requireState(t, bob, "user_1", peer.StateConnected)
	assert.Equal(t, []bool{true}, alice.listener.snapshot().relay)

	// an open channel outlives the relay
	alice.relay.disconnect()
	n.settle()
	requireState(t, alice, "user_2", peer.StateConnected)
	assert.Equal(t, []bool{true, false}, alice.listener.snapshot().relay)

	_, err := alice.engine.SendMessage("user_2", "still here")
	require.NoError(t, err)
	n.settle()
	assert.Len(t, bob.listener.snapshot().messages, 1)
}

func TestEngine_RelayUpReconnectsRoster(t *testing.T) {
	n := newTestNet(t)
	alice := n.add("user_1", "Alice", "alice", false)
	bob := n.add("user_2", "Bob", "bob", true)
	require.NoError(t, alice.store.SavePeer(store.PeerRecord{ID: "user_2", Username: "bob"}))

	alice.relay.connect()
	n.settle()
	_, ok := alice.engine.PeerState("user_2")
	assert.False(t, ok, "reconnects wait for their jitter")

	n.advance(time.Second)
	requireState(t, alice, "user_2", peer.StateConnected)
	requireState(t, bob, "user_1", peer.StateConnected)
}

func TestEngine_ChannelLossReconnects(t *testing.T) {
	n := newTestNet(t)
	alice := n.add("user_1", "Alice", "alice", true)
	bob := n.add("user_2", "Bob", "bob", true)

	require.NoError(t, alice.engine.Connect("user_2"))
	n.settle()
	requireState(t, alice, "user_2", peer.StateConnected)

	n.net.drop(false, n.net.open()...)
	n.settle()
	requireState(t, alice, "user_2", peer.StateFailed)
	requireState(t, bob, "user_1", peer.StateFailed)

	n.advance(3 * time.Second)
	requireState(t, alice, "user_2", peer.StateConnected)
	requireState(t, bob, "user_1", peer.StateConnected)

	assert.Equal(t, []string{"user_2"}, alice.listener.snapshot().retrying)
	assert.Equal(t, []string{"user_2", "user_2"}, alice.listener.snapshot().connected)
}

func TestEngine_SweepRestartsSilentlyLostChannel(t *testing.T) {
	n := newTestNet(t)
	alice := n.add("user_1", "Alice", "alice", true)
	bob := n.add("user_2", "Bob", "bob", true)

	require.NoError(t, alice.engine.Connect("user_2"))
	n.settle()

	n.net.drop(true, n.net.open()...)
	requireState(t, alice, "user_2", peer.StateConnected)

	n.advance(DefaultSweepInterval + 5*time.Second)
	requireState(t, alice, "user_2", peer.StateConnected)
	requireState(t, bob, "user_1", peer.StateConnected)

	sessions := alice.engine.Sessions()
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].ChannelOpen)
}

func TestEngine_TypingAndErrors(t *testing.T) {
	n := newTestNet(t)
	alice := n.add("user_1", "Alice", "alice", true)
	bob := n.add("user_2", "Bob", "bob", true)

	assert.ErrorIs(t, alice.engine.SetTyping("user_2", true), peer.ErrChannelNotOpen)

	_, err := alice.engine.SendMessage("user_2", "too early")
	assert.ErrorIs(t, err, peer.ErrChannelNotOpen)
	history, err := alice.store.History("user_2")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, chat.StatusError, history[0].Status)

	require.NoError(t, alice.engine.Connect("user_2"))
	n.settle()

	require.NoError(t, alice.engine.SetTyping("user_2", true))
	require.NoError(t, alice.engine.SetTyping("user_2", false))
	n.settle()
	assert.Equal(t, []bool{true, false}, bob.listener.snapshot().typing)
}

func TestEngine_DisconnectAndStop(t *testing.T) {
	n := newTestNet(t)
	alice := n.add("user_1", "Alice", "alice", true)
	n.add("user_2", "Bob", "bob", true)

	require.NoError(t, alice.engine.Connect("user_2"))
	n.settle()

	require.NoError(t, alice.engine.Disconnect("user_2"))
	_, ok := alice.engine.PeerState("user_2")
	assert.False(t, ok)
	assert.Equal(t, []string{"user_2"}, alice.listener.snapshot().closed)
	assert.ErrorIs(t, alice.engine.Disconnect("user_2"), peer.ErrUnknownPeer)

	require.NoError(t, alice.engine.Stop())
	n.relay.mu.Lock()
	assert.Equal(t, 1, alice.relay.closes)
	assert.True(t, alice.relay.receivingOnClose, "the relay connection is closed while it is still served")
	n.relay.mu.Unlock()

	assert.ErrorIs(t, alice.engine.Connect("user_2"), peer.ErrEngineStopped)
	_, err := alice.engine.SendMessage("user_2", "gone")
	assert.ErrorIs(t, err, peer.ErrEngineStopped)
	assert.Empty(t, alice.engine.Sessions())
}
