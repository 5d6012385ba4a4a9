package internal

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/yegram/yegram/client/internal/chat"
	"github.com/yegram/yegram/client/internal/peer"
	"github.com/yegram/yegram/client/internal/store"
	"github.com/yegram/yegram/client/internal/timer"
	signal "github.com/yegram/yegram/shared/signal/client"
	"github.com/yegram/yegram/shared/signal/messages"
	"github.com/yegram/yegram/version"
)

const (
	eventQueueSize = 256
)

var errChannelStale = errors.New("direct channel is no longer open")

// EngineConfig holds the timing of the session manager
type EngineConfig struct {
	// Identity is the local account, announced to every connected peer
	Identity *store.Identity

	HandshakeTimeout time.Duration
	BackoffBase      time.Duration
	MaxAttempts      int

	// ChannelKeepAlive is the ping interval on open direct channels
	ChannelKeepAlive time.Duration
	// SweepInterval is the period of the check for sessions that lost their channel
	SweepInterval time.Duration
	// SweepJitter bounds the random delay of every reconnect issued by a sweep or a relay reconnection
	SweepJitter time.Duration
}

// EngineDeps are the collaborators of the engine
type EngineDeps struct {
	Relay     signal.Client
	Transport peer.Transport
	Store     *store.Store
	Scheduler timer.Scheduler
	Listener  Listener
	// Jitter returns a delay in [0, max). Random when nil.
	Jitter func(max time.Duration) time.Duration
}

// SessionInfo is a snapshot of one peer session
type SessionInfo struct {
	PeerID       string
	State        peer.State
	Role         peer.Role
	Attempt      int
	ChannelOpen  bool
	Paused       bool
	LastActivity time.Time
}

// Engine is the session manager. It owns the relay connection and every peer session. All the state is
// owned by a single goroutine; relay messages, timer callbacks and transport callbacks reach it as
// events through one queue.
type Engine struct {
	config *EngineConfig
	deps   EngineDeps
	log    *log.Entry

	ctx     context.Context
	cancel  context.CancelFunc
	events  chan func()
	started atomic.Bool
	stopped chan struct{}
	wg      sync.WaitGroup

	// processed counts the events taken from the queue
	processed atomic.Uint64

	// owned by the engine goroutine
	signaler        *peer.Signaler
	sessions        map[string]*peer.Session
	tracker         *chat.Tracker
	reconnectTimers map[string]timer.Timer
	keepAliveTimer  timer.Timer
	sweepTimer      timer.Timer
	tornDown        bool
}

// NewEngine creates a stopped engine
func NewEngine(config *EngineConfig, deps EngineDeps) *Engine {
	if deps.Listener == nil {
		deps.Listener = NopListener{}
	}
	if deps.Jitter == nil {
		deps.Jitter = randomJitter
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		config:          config,
		deps:            deps,
		log:             log.WithField("identity", config.Identity.ID),
		ctx:             ctx,
		cancel:          cancel,
		events:          make(chan func(), eventQueueSize),
		stopped:         make(chan struct{}),
		signaler:        peer.NewSignaler(deps.Relay, deps.Scheduler),
		sessions:        make(map[string]*peer.Session),
		tracker:         chat.NewTracker(),
		reconnectTimers: make(map[string]timer.Timer),
	}
}

// Start runs the engine goroutine and the relay connection. The engine stops with ctx or Stop.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return fmt.Errorf("engine already started")
	}
	if e.ctx.Err() != nil {
		return peer.ErrEngineStopped
	}

	stopWithParent := context.AfterFunc(ctx, e.cancel)

	e.deps.Relay.SetOnReconnectedListener(func() {
		e.post(e.onRelayUp)
	})
	e.deps.Relay.SetOnDisconnectedListener(func() {
		e.post(e.onRelayDown)
	})

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		defer stopWithParent()
		e.run()
	}()
	go func() {
		defer e.wg.Done()
		e.receiveRelayEvents()
	}()

	e.post(func() {
		e.scheduleKeepAlive()
		e.scheduleSweep()
	})

	e.log.Infof("started engine")
	return nil
}

// Stop tears every session down synchronously, then closes the relay connection. Events queued
// behind the teardown are never run and notifications posted afterwards are dropped.
func (e *Engine) Stop() error {
	if !e.started.Load() {
		e.cancel()
		return nil
	}

	// an engine already cancelled by its parent context was torn down by its goroutine
	_ = e.call(e.teardown)

	// the relay connection still has to be open to announce the disconnect
	err := e.deps.Relay.Close()
	e.cancel()
	e.wg.Wait()

	e.log.Infof("stopped engine")
	if err != nil {
		return fmt.Errorf("close relay connection: %w", err)
	}
	return nil
}

func (e *Engine) run() {
	defer close(e.stopped)
	defer e.teardown()

	for {
		select {
		case <-e.ctx.Done():
			return
		case fn := <-e.events:
			e.processed.Add(1)
			fn()
			if e.tornDown {
				return
			}
		}
	}
}

// post queues fn for the engine goroutine. It is dropped once the engine stops.
func (e *Engine) post(fn func()) {
	select {
	case e.events <- fn:
	case <-e.ctx.Done():
	}
}

// call runs fn on the engine goroutine and waits for it
func (e *Engine) call(fn func()) error {
	if !e.started.Load() {
		return peer.ErrEngineStopped
	}

	done := make(chan struct{})
	select {
	case e.events <- func() {
		defer close(done)
		fn()
	}:
	case <-e.ctx.Done():
		return peer.ErrEngineStopped
	}

	select {
	case <-done:
		return nil
	case <-e.stopped:
		return peer.ErrEngineStopped
	}
}

func (e *Engine) receiveRelayEvents() {
	err := e.deps.Relay.Receive(e.ctx, func(msg *messages.Message) error {
		e.post(func() {
			e.handleRelayMessage(msg)
		})
		return nil
	})
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, signal.ErrClosed):
	case errors.Is(err, signal.ErrSuperseded):
		e.log.Errorf("the identity connected to the relay from another client, relay connection stopped")
		e.post(func() {
			e.deps.Listener.OnRelayStatus(false)
		})
	default:
		e.log.Errorf("relay connection stopped: %s", err)
	}
}

// Connect starts a session with a peer given by id or @username. A peer that is already connected or
// connecting is reported with ErrAlreadyConnected or ErrAlreadyConnecting.
func (e *Engine) Connect(idOrAlias string) error {
	id, err := e.deps.Store.ResolveAlias(idOrAlias)
	if err != nil {
		return err
	}
	if id == e.config.Identity.ID {
		return peer.ErrSelfConnect
	}

	if _, err := e.deps.Store.Peer(id); errors.Is(err, store.ErrNotFound) {
		if err := e.deps.Store.SavePeer(store.PeerRecord{ID: id}); err != nil {
			e.log.Warnf("failed to add peer %s to the roster: %s", id, err)
		}
	}

	var connectErr error
	if err := e.call(func() {
		connectErr = e.connect(id)
	}); err != nil {
		return err
	}
	return connectErr
}

// Disconnect closes the session with a peer. It does not retry.
func (e *Engine) Disconnect(peerID string) error {
	var disconnectErr error
	if err := e.call(func() {
		s, ok := e.sessions[peerID]
		if !ok {
			disconnectErr = fmt.Errorf("%s: %w", peerID, peer.ErrUnknownPeer)
			return
		}
		e.removeSession(peerID)
		s.Close()
	}); err != nil {
		return err
	}
	return disconnectErr
}

// SendMessage sends a text message over the open direct channel and stores it in the history. It
// returns the id of the message, whose delivery is reported through Listener.OnDelivered.
func (e *Engine) SendMessage(peerID, text string) (string, error) {
	var (
		id      string
		sendErr error
	)
	if err := e.call(func() {
		id, sendErr = e.sendMessage(peerID, text)
	}); err != nil {
		return "", err
	}
	return id, sendErr
}

// SetTyping announces the typing state to a connected peer
func (e *Engine) SetTyping(peerID string, typing bool) error {
	var sendErr error
	if err := e.call(func() {
		s, ok := e.sessions[peerID]
		if !ok {
			sendErr = peer.ErrChannelNotOpen
			return
		}
		sendErr = e.sendEnvelope(s, chat.NewTyping(typing, e.deps.Scheduler.Now()))
	}); err != nil {
		return err
	}
	return sendErr
}

// ReconnectAll schedules a connection attempt, after a random delay, to every roster peer and session
// without an open channel or a handshake in progress
func (e *Engine) ReconnectAll() error {
	return e.call(e.reconnectAll)
}

// Sessions returns a snapshot of the sessions ordered by peer id
func (e *Engine) Sessions() []SessionInfo {
	var infos []SessionInfo
	_ = e.call(func() {
		infos = make([]SessionInfo, 0, len(e.sessions))
		for id, s := range e.sessions {
			infos = append(infos, SessionInfo{
				PeerID:       id,
				State:        s.State(),
				Role:         s.Role(),
				Attempt:      s.Attempt(),
				ChannelOpen:  s.IsChannelOpen(),
				Paused:       s.Paused(),
				LastActivity: s.LastActivity(),
			})
		}
	})
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].PeerID < infos[j].PeerID
	})
	return infos
}

// PeerState returns the state of the session with peerID, if there is one
func (e *Engine) PeerState(peerID string) (peer.State, bool) {
	var (
		state peer.State
		ok    bool
	)
	_ = e.call(func() {
		var s *peer.Session
		if s, ok = e.sessions[peerID]; ok {
			state = s.State()
		}
	})
	return state, ok
}

func (e *Engine) connect(peerID string) error {
	s, ok := e.sessions[peerID]
	if !ok {
		s = e.newSession(peerID)
	}
	if err := s.Start(peer.RoleInitiator); err != nil {
		return err
	}
	if !e.signaler.Ready() {
		e.log.Infof("relay is not connected, connection to %s starts once it is back", peerID)
	}
	return nil
}

func (e *Engine) newSession(peerID string) *peer.Session {
	s := peer.NewSession(peerID, peer.SessionConfig{
		LocalID:          e.config.Identity.ID,
		HandshakeTimeout: e.config.HandshakeTimeout,
		BackoffBase:      e.config.BackoffBase,
		MaxAttempts:      e.config.MaxAttempts,
	}, peer.SessionDeps{
		Signaler:  e.signaler,
		Transport: e.deps.Transport,
		Scheduler: e.deps.Scheduler,
		Post:      e.post,
		Events:    e,
	})
	e.sessions[peerID] = s
	return s
}

func (e *Engine) removeSession(peerID string) {
	delete(e.sessions, peerID)
	if t, ok := e.reconnectTimers[peerID]; ok {
		t.Stop()
		delete(e.reconnectTimers, peerID)
	}
	for _, id := range e.tracker.Forget(peerID) {
		e.log.Debugf("message %s to %s was not confirmed", id, peerID)
	}
}

// handleRelayMessage is the single entry point for messages of the relay
func (e *Engine) handleRelayMessage(msg *messages.Message) {
	switch msg.Type {
	case messages.TypeOffer:
		if msg.Sender == "" || msg.Sender == e.config.Identity.ID {
			return
		}
		s, ok := e.sessions[msg.Sender]
		if !ok {
			e.log.Infof("incoming connection from %s", msg.Sender)
			s = e.newSession(msg.Sender)
		}
		s.OnOffer(msg.Offer)
	case messages.TypeAnswer:
		if s, ok := e.sessions[msg.Sender]; ok {
			s.OnAnswer(msg.Answer)
			return
		}
		e.log.Debugf("dropping answer from %s without a session", msg.Sender)
	case messages.TypeCandidate:
		if s, ok := e.sessions[msg.Sender]; ok {
			s.OnCandidate(msg.Candidate)
			return
		}
		e.log.Tracef("dropping candidate from %s without a session", msg.Sender)
	case messages.TypeError:
		e.handleRelayError(msg)
	case messages.TypeWelcome:
		if msg.OnlineUsers != nil {
			e.log.Debugf("relay says: %s, online: %d", msg.Message, *msg.OnlineUsers)
		}
	default:
		e.log.Tracef("ignoring relay message %s", msg.Type)
	}
}

func (e *Engine) handleRelayError(msg *messages.Message) {
	if msg.Code != messages.CodeUserOffline || msg.Target == "" {
		e.log.Warnf("relay error %s: %s", msg.Code, msg.Message)
		return
	}
	if s, ok := e.sessions[msg.Target]; ok {
		e.log.Debugf("relay reports %s offline", msg.Target)
		s.OnTargetUnreachable()
	}
}

func (e *Engine) onRelayDown() {
	e.log.Infof("relay connection lost, pausing handshakes")
	e.deps.Listener.OnRelayStatus(false)
	for _, s := range e.sessions {
		s.OnRelayDown()
	}
}

func (e *Engine) onRelayUp() {
	e.log.Infof("relay connection established")
	e.deps.Listener.OnRelayStatus(true)
	for _, s := range e.sessions {
		s.OnRelayUp()
	}
	e.reconnectAll()
}

func (e *Engine) reconnectAll() {
	candidates := make(map[string]struct{}, len(e.sessions))
	for id := range e.sessions {
		candidates[id] = struct{}{}
	}
	roster, err := e.deps.Store.Roster()
	if err != nil {
		e.log.Warnf("failed to read the roster: %s", err)
	}
	for _, p := range roster {
		candidates[p.ID] = struct{}{}
	}

	for id := range candidates {
		if e.needsReconnect(id) {
			e.scheduleReconnect(id)
		}
	}
}

// needsReconnect reports whether peerID has neither an open channel nor a handshake or retry going on
func (e *Engine) needsReconnect(peerID string) bool {
	if peerID == e.config.Identity.ID {
		return false
	}
	if _, scheduled := e.reconnectTimers[peerID]; scheduled {
		return false
	}
	s, ok := e.sessions[peerID]
	if !ok {
		return true
	}
	return s.State() == peer.StateIdle && !s.Paused()
}

func (e *Engine) scheduleReconnect(peerID string) {
	delay := e.deps.Jitter(e.config.SweepJitter)
	e.log.Debugf("reconnecting to %s in %s", peerID, delay)
	e.reconnectTimers[peerID] = e.deps.Scheduler.AfterFunc(delay, func() {
		e.post(func() {
			delete(e.reconnectTimers, peerID)
			if !e.needsReconnect(peerID) {
				return
			}
			if err := e.connect(peerID); err != nil {
				e.log.Debugf("reconnect to %s: %s", peerID, err)
			}
		})
	})
}

func (e *Engine) scheduleSweep() {
	e.sweepTimer = e.deps.Scheduler.AfterFunc(e.config.SweepInterval, func() {
		e.post(func() {
			e.sweep()
			e.scheduleSweep()
		})
	})
}

// sweep restarts the sessions that lost their direct channel without being told
func (e *Engine) sweep() {
	for id, s := range e.sessions {
		switch {
		case s.State() == peer.StateConnected && !s.IsChannelOpen():
			e.log.Infof("direct channel to %s is gone, reconnecting", id)
			s.OnChannelClosed(s.Epoch(), errChannelStale)
		case e.needsReconnect(id):
			e.scheduleReconnect(id)
		}
	}
}

func (e *Engine) scheduleKeepAlive() {
	e.keepAliveTimer = e.deps.Scheduler.AfterFunc(e.config.ChannelKeepAlive, func() {
		e.post(func() {
			e.keepAlive()
			e.scheduleKeepAlive()
		})
	})
}

func (e *Engine) keepAlive() {
	now := e.deps.Scheduler.Now()
	for id, s := range e.sessions {
		if !s.IsChannelOpen() {
			continue
		}
		if err := e.sendEnvelope(s, chat.NewPing(now)); err != nil {
			e.log.Debugf("keep-alive to %s failed: %s", id, err)
		}
	}
}

// teardown stops every timer and closes every session. It runs once, on the engine goroutine.
func (e *Engine) teardown() {
	if e.tornDown {
		return
	}
	e.tornDown = true

	if e.keepAliveTimer != nil {
		e.keepAliveTimer.Stop()
	}
	if e.sweepTimer != nil {
		e.sweepTimer.Stop()
	}
	for id, t := range e.reconnectTimers {
		t.Stop()
		delete(e.reconnectTimers, id)
	}
	for id, s := range e.sessions {
		e.removeSession(id)
		s.Close()
	}
}

func (e *Engine) sendMessage(peerID, text string) (string, error) {
	env := chat.NewTextMessage(e.config.Identity.ID, text, e.deps.Scheduler.Now())
	msg := *env.Message

	s, ok := e.sessions[peerID]
	var err error
	if !ok {
		err = peer.ErrChannelNotOpen
	} else {
		err = e.sendEnvelope(s, env)
	}

	msg.Status = chat.StatusSent
	if err != nil {
		msg.Status = chat.StatusError
	}
	if storeErr := e.deps.Store.AppendHistory(peerID, msg); storeErr != nil {
		e.log.Errorf("failed to store message to %s: %s", peerID, storeErr)
	}
	return msg.ID, err
}

func (e *Engine) sendEnvelope(s *peer.Session, env *chat.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	if err := s.Send(data); err != nil {
		return err
	}
	e.tracker.Track(s.RemoteID(), env)
	return nil
}

func (e *Engine) announce(s *peer.Session) {
	info := e.config.Identity.UserInfo()
	info.Version = version.YegramVersion()
	if err := e.sendEnvelope(s, chat.NewUserInfo(info, e.deps.Scheduler.Now())); err != nil {
		e.log.Warnf("failed to announce identity to %s: %s", s.RemoteID(), err)
	}
}

// handleEnvelope is the single entry point for frames received on direct channels
func (e *Engine) handleEnvelope(s *peer.Session, data []byte) {
	peerID := s.RemoteID()
	env, err := chat.Decode(data)
	if err != nil {
		e.log.Debugf("dropping frame from %s: %s", peerID, err)
		return
	}

	now := e.deps.Scheduler.Now()
	if env.NeedsAck() {
		if err := e.sendEnvelope(s, chat.NewDelivered(env.ID, now)); err != nil {
			e.log.Debugf("failed to confirm %s to %s: %s", env.Type, peerID, err)
		}
	}

	switch env.Type {
	case chat.TypeUserInfo:
		e.handleUserInfo(peerID, *env.User, now)
	case chat.TypeMessage:
		msg := *env.Message
		msg.SenderID = peerID
		msg.Outgoing = false
		msg.Status = chat.StatusDelivered
		if err := e.deps.Store.AppendHistory(peerID, msg); err != nil {
			e.log.Errorf("failed to store message from %s: %s", peerID, err)
		}
		e.deps.Listener.OnMessage(peerID, msg)
	case chat.TypeTyping:
		e.deps.Listener.OnTyping(peerID, *env.Typing)
	case chat.TypeDelivered:
		typ, ok := e.tracker.Ack(peerID, env.MessageID)
		if !ok || typ != chat.TypeMessage {
			return
		}
		if _, err := e.deps.Store.UpdateMessageStatus(peerID, env.MessageID, chat.StatusDelivered); err != nil {
			e.log.Errorf("failed to update message %s: %s", env.MessageID, err)
		}
		e.deps.Listener.OnDelivered(peerID, env.MessageID)
	case chat.TypePing:
		if err := e.sendEnvelope(s, chat.NewPong(now)); err != nil {
			e.log.Debugf("failed to answer ping of %s: %s", peerID, err)
		}
	case chat.TypePong:
	}
}

func (e *Engine) handleUserInfo(peerID string, info chat.UserInfo, now time.Time) {
	if info.ID != peerID {
		e.log.Warnf("peer %s announced identity %s, ignoring", peerID, info.ID)
		return
	}
	if info.Version != "" && !version.IsCompatible(info.Version) {
		e.log.Warnf("peer %s runs incompatible version %s, local version %s", peerID, info.Version, version.YegramVersion())
	}
	if err := e.deps.Store.UpdatePeerInfo(info, now); err != nil {
		e.log.Errorf("failed to store info of %s: %s", peerID, err)
	}
}

func (e *Engine) OnConnected(s *peer.Session) {
	e.log.Infof("connected to %s", s.RemoteID())
	e.announce(s)
	e.deps.Listener.OnPeerConnected(s.RemoteID())
}

func (e *Engine) OnRetrying(s *peer.Session, err error, delay time.Duration) {
	e.deps.Listener.OnPeerRetrying(s.RemoteID(), err, delay)
}

func (e *Engine) OnFailed(s *peer.Session, err error) {
	e.log.Warnf("giving up on %s: %s", s.RemoteID(), err)
	if e.sessions[s.RemoteID()] == s {
		e.removeSession(s.RemoteID())
	}
	e.deps.Listener.OnPeerFailed(s.RemoteID(), err)
}

func (e *Engine) OnClosed(s *peer.Session) {
	e.deps.Listener.OnPeerClosed(s.RemoteID())
}

func (e *Engine) OnMessage(s *peer.Session, data []byte) {
	e.handleEnvelope(s, data)
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
