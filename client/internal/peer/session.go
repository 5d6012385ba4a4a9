package peer

import (
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/yegram/yegram/client/internal/timer"
)

const (
	DefaultHandshakeTimeout = 15 * time.Second
	DefaultBackoffBase      = 2 * time.Second
	DefaultMaxAttempts      = 5
)

// Events receives the outcome of session transitions. Every call happens on the actor goroutine.
type Events interface {
	OnConnected(s *Session)
	// OnRetrying is called for the first failure of a failure series only
	OnRetrying(s *Session, err error, delay time.Duration)
	// OnFailed is called once the retry budget is exhausted. The session is idle afterwards.
	OnFailed(s *Session, err error)
	OnClosed(s *Session)
	OnMessage(s *Session, data []byte)
}

type SessionConfig struct {
	// LocalID is the own identity, used to pick the canonical offerer when both sides offer at once
	LocalID          string
	HandshakeTimeout time.Duration
	BackoffBase      time.Duration
	MaxAttempts      int
}

type SessionDeps struct {
	Signaler  *Signaler
	Transport Transport
	Scheduler timer.Scheduler
	// Post runs fn on the actor goroutine. Timer and channel callbacks reach the session only through it.
	Post   func(fn func())
	Events Events
}

// Session drives the handshake with one remote peer and owns the resulting direct channel.
// It is not safe for concurrent use, every method must be called from the actor goroutine.
type Session struct {
	remoteID string
	config   SessionConfig
	deps     SessionDeps
	log      *log.Entry

	role         Role
	state        State
	epoch        uint64
	lastActivity time.Time
	channel      Channel
	backoff      *LinearBackOff

	handshakeTimer timer.Timer
	backoffTimer   timer.Timer

	// pending is the transition deferred until the relay is back
	pending func()

	localCandidates  []json.RawMessage
	remoteCandidates []json.RawMessage

	notifiedFirstFailure bool
}

func NewSession(remoteID string, config SessionConfig, deps SessionDeps) *Session {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = DefaultBackoffBase
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}

	return &Session{
		remoteID:     remoteID,
		config:       config,
		deps:         deps,
		log:          log.WithField("peer", remoteID),
		state:        StateIdle,
		lastActivity: deps.Scheduler.Now(),
		backoff:      NewLinearBackOff(config.BackoffBase, config.MaxAttempts),
	}
}

func (s *Session) RemoteID() string {
	return s.remoteID
}

func (s *Session) Role() Role {
	return s.role
}

func (s *Session) State() State {
	return s.state
}

// Attempt returns the number of failed attempts since the last successful connection
func (s *Session) Attempt() int {
	return s.backoff.Attempt()
}

func (s *Session) Epoch() uint64 {
	return s.epoch
}

func (s *Session) LastActivity() time.Time {
	return s.lastActivity
}

// Paused reports whether a transition waits for the relay to come back
func (s *Session) Paused() bool {
	return s.pending != nil
}

func (s *Session) IsChannelOpen() bool {
	return s.state == StateConnected && s.channel != nil && s.channel.IsOpen()
}

// Start begins a new connection attempt. An initiator sends an offer, a responder waits for the remote
// offer within the handshake timeout. A session waiting for its backoff delay starts over at once with a
// fresh retry budget.
func (s *Session) Start(role Role) error {
	switch {
	case s.state == StateConnected:
		return ErrAlreadyConnected
	case s.state == StateFailed:
		s.log.Debugf("restarting after attempt %d", s.backoff.Attempt())
	case s.state != StateIdle || s.pending != nil:
		return ErrAlreadyConnecting
	}

	s.backoff.Reset()
	s.notifiedFirstFailure = false

	if role == RoleResponder {
		s.newEpoch()
		s.role = RoleResponder
		s.setState(StateAnswering)
		s.armHandshakeTimer()
		return nil
	}

	s.beginOffer()
	return nil
}

func (s *Session) beginOffer() {
	s.newEpoch()
	s.role = RoleInitiator
	s.setState(StateOffering)

	if !s.deps.Signaler.Ready() {
		s.log.Debugf("relay is not ready, deferring offer")
		s.pause(s.beginOffer)
		return
	}

	ch, err := s.deps.Transport.NewChannel(s.remoteID, RoleInitiator, s.handlers(s.epoch))
	if err != nil {
		s.fail(NewDirectChannelError(s.remoteID, err))
		return
	}
	s.channel = ch

	offer, err := ch.CreateOffer()
	if err != nil {
		s.fail(NewDirectChannelError(s.remoteID, err))
		return
	}

	s.armHandshakeTimer()
	if err := s.deps.Signaler.SignalOffer(offer, s.remoteID); err != nil {
		s.log.Debugf("failed to send offer, deferring: %s", err)
		s.pause(s.beginOffer)
		return
	}

	s.setState(StateAwaitingAnswer)
	s.flushLocalCandidates()
}

// OnOffer handles an offer of the remote peer. When both sides offer at once, the side with the smaller
// identity keeps its own offer and the other one answers.
func (s *Session) OnOffer(offer json.RawMessage) {
	s.touch()

	switch s.state {
	case StateOffering, StateAwaitingAnswer:
		if s.config.LocalID < s.remoteID {
			s.log.Debugf("both sides offered, keeping own offer")
			return
		}
		s.log.Debugf("both sides offered, answering the remote offer")
	case StateConnected:
		s.log.Infof("peer restarted the handshake, replacing the direct channel")
	}

	s.answer(offer)
}

func (s *Session) answer(offer json.RawMessage) {
	s.newEpoch()
	s.role = RoleResponder
	s.setState(StateAnswering)

	ch, err := s.deps.Transport.NewChannel(s.remoteID, RoleResponder, s.handlers(s.epoch))
	if err != nil {
		s.fail(NewDirectChannelError(s.remoteID, err))
		return
	}
	s.channel = ch

	answer, err := ch.AcceptOffer(offer)
	if err != nil {
		s.fail(NewDirectChannelError(s.remoteID, err))
		return
	}

	s.armHandshakeTimer()
	if err := s.deps.Signaler.SignalAnswer(answer, s.remoteID); err != nil {
		s.log.Debugf("failed to send answer, deferring a new attempt: %s", err)
		s.pause(s.beginOffer)
		return
	}

	s.setState(StateExchangingCandidates)
	s.flushLocalCandidates()
	s.flushRemoteCandidates()
}

func (s *Session) OnAnswer(answer json.RawMessage) {
	if s.state != StateAwaitingAnswer || s.pending != nil {
		s.log.Debugf("ignoring answer in state %s", s.state)
		return
	}
	s.touch()

	if err := s.channel.AcceptAnswer(answer); err != nil {
		s.fail(NewDirectChannelError(s.remoteID, err))
		return
	}

	s.setState(StateExchangingCandidates)
	s.flushRemoteCandidates()
}

func (s *Session) OnCandidate(candidate json.RawMessage) {
	s.touch()

	switch {
	case s.channel != nil && (s.state == StateExchangingCandidates || s.state == StateConnected):
		if err := s.channel.AddRemoteCandidate(candidate); err != nil {
			s.log.Debugf("failed to add remote candidate: %s", err)
		}
	case s.state.InHandshake():
		s.remoteCandidates = append(s.remoteCandidates, candidate)
	default:
		s.log.Tracef("dropping remote candidate in state %s", s.state)
	}
}

func (s *Session) OnChannelOpen(epoch uint64) {
	if epoch != s.epoch || !s.state.InHandshake() {
		return
	}

	s.stopTimers()
	s.pending = nil
	s.localCandidates = nil
	s.remoteCandidates = nil
	s.backoff.Reset()
	s.notifiedFirstFailure = false
	s.touch()
	s.setState(StateConnected)

	s.log.Infof("direct channel open")
	s.deps.Events.OnConnected(s)
}

func (s *Session) OnChannelClosed(epoch uint64, err error) {
	if epoch != s.epoch || (s.state != StateConnected && !s.state.InHandshake()) {
		return
	}

	if s.state == StateConnected {
		s.log.Infof("direct channel closed: %v", err)
	}
	s.fail(NewDirectChannelError(s.remoteID, err))
}

func (s *Session) OnHandshakeTimeout(epoch uint64) {
	if epoch != s.epoch || !s.state.InHandshake() || s.pending != nil {
		return
	}
	s.fail(NewHandshakeTimeoutError(s.remoteID, s.config.HandshakeTimeout))
}

func (s *Session) OnBackoffElapsed(epoch uint64) {
	if epoch != s.epoch || s.state != StateFailed || s.pending != nil {
		return
	}
	s.log.Debugf("backoff elapsed, starting attempt %d", s.backoff.Attempt()+1)
	s.beginOffer()
}

// OnRelayDown pauses a running handshake or a pending retry. An open direct channel is not affected, and
// a channel of the paused attempt may still open.
func (s *Session) OnRelayDown() {
	switch {
	case s.state.InHandshake():
		s.log.Debugf("relay is down, pausing handshake in state %s", s.state)
		s.pause(s.beginOffer)
	case s.state == StateFailed:
		s.log.Debugf("relay is down, pausing retry")
		s.stopTimers()
		s.pending = s.beginOffer
	}
}

// OnRelayUp runs the transition deferred while the relay was down
func (s *Session) OnRelayUp() {
	if s.pending == nil {
		return
	}
	fn := s.pending
	s.pending = nil
	s.log.Debugf("relay is back, resuming")
	fn()
}

// OnTargetUnreachable handles the relay reporting the remote peer offline
func (s *Session) OnTargetUnreachable() {
	if !s.state.InHandshake() || s.pending != nil {
		return
	}
	s.fail(NewTargetUnreachableError(s.remoteID))
}

// Send writes data to the open direct channel. It fails immediately when the channel is not open.
func (s *Session) Send(data []byte) error {
	if !s.IsChannelOpen() {
		return ErrChannelNotOpen
	}
	if err := s.channel.Send(data); err != nil {
		return NewDirectChannelError(s.remoteID, err)
	}
	s.touch()
	return nil
}

// Close stops every timer and closes the direct channel before returning. A closed session does not retry.
func (s *Session) Close() {
	if s.state == StateClosing {
		return
	}
	s.setState(StateClosing)
	s.newEpoch()
	s.backoff.Reset()
	s.notifiedFirstFailure = false
	s.setState(StateIdle)

	s.log.Infof("session closed")
	s.deps.Events.OnClosed(s)
}

func (s *Session) fail(err error) {
	s.newEpoch()

	delay := s.backoff.NextBackOff()
	if delay == backoff.Stop {
		s.log.Warnf("giving up after %d retries: %s", s.config.MaxAttempts, err)
		s.setState(StateIdle)
		s.deps.Events.OnFailed(s, err)
		return
	}

	s.setState(StateFailed)
	s.log.Infof("attempt %d failed, retrying in %s: %s", s.backoff.Attempt(), delay, err)
	if !s.notifiedFirstFailure {
		s.notifiedFirstFailure = true
		s.deps.Events.OnRetrying(s, err, delay)
	}

	epoch := s.epoch
	s.backoffTimer = s.deps.Scheduler.AfterFunc(delay, func() {
		s.deps.Post(func() {
			s.OnBackoffElapsed(epoch)
		})
	})
}

// newEpoch invalidates every callback issued for the previous attempt and releases its resources
func (s *Session) newEpoch() {
	s.epoch++
	s.stopTimers()
	s.pending = nil
	s.localCandidates = nil
	s.remoteCandidates = nil

	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			s.log.Debugf("failed to close direct channel: %s", err)
		}
		s.channel = nil
	}
}

func (s *Session) pause(fn func()) {
	if s.handshakeTimer != nil {
		s.handshakeTimer.Stop()
		s.handshakeTimer = nil
	}
	s.pending = fn
}

func (s *Session) handlers(epoch uint64) ChannelHandlers {
	return ChannelHandlers{
		OnLocalCandidate: func(candidate json.RawMessage) {
			s.deps.Post(func() {
				s.onLocalCandidate(epoch, candidate)
			})
		},
		OnOpen: func() {
			s.deps.Post(func() {
				s.OnChannelOpen(epoch)
			})
		},
		OnClose: func(err error) {
			s.deps.Post(func() {
				s.OnChannelClosed(epoch, err)
			})
		},
		OnMessage: func(data []byte) {
			s.deps.Post(func() {
				s.onMessage(epoch, data)
			})
		},
	}
}

func (s *Session) onLocalCandidate(epoch uint64, candidate json.RawMessage) {
	if epoch != s.epoch {
		return
	}

	// candidates must not overtake the offer or the answer on the relay
	if s.state == StateOffering || s.state == StateAnswering || s.pending != nil {
		s.localCandidates = append(s.localCandidates, candidate)
		return
	}
	if !s.state.InHandshake() && s.state != StateConnected {
		return
	}

	if err := s.deps.Signaler.SignalICECandidate(candidate, s.remoteID); err != nil {
		s.log.Debugf("failed to send local candidate: %s", err)
	}
}

func (s *Session) onMessage(epoch uint64, data []byte) {
	if epoch != s.epoch {
		return
	}
	s.touch()
	s.deps.Events.OnMessage(s, data)
}

func (s *Session) flushLocalCandidates() {
	candidates := s.localCandidates
	s.localCandidates = nil
	for _, c := range candidates {
		if err := s.deps.Signaler.SignalICECandidate(c, s.remoteID); err != nil {
			s.log.Debugf("failed to send local candidate: %s", err)
		}
	}
}

func (s *Session) flushRemoteCandidates() {
	candidates := s.remoteCandidates
	s.remoteCandidates = nil
	for _, c := range candidates {
		if err := s.channel.AddRemoteCandidate(c); err != nil {
			s.log.Debugf("failed to add remote candidate: %s", err)
		}
	}
}

func (s *Session) armHandshakeTimer() {
	if s.handshakeTimer != nil {
		s.handshakeTimer.Stop()
	}
	epoch := s.epoch
	s.handshakeTimer = s.deps.Scheduler.AfterFunc(s.config.HandshakeTimeout, func() {
		s.deps.Post(func() {
			s.OnHandshakeTimeout(epoch)
		})
	})
}

func (s *Session) stopTimers() {
	if s.handshakeTimer != nil {
		s.handshakeTimer.Stop()
		s.handshakeTimer = nil
	}
	if s.backoffTimer != nil {
		s.backoffTimer.Stop()
		s.backoffTimer = nil
	}
}

func (s *Session) touch() {
	s.lastActivity = s.deps.Scheduler.Now()
}

func (s *Session) setState(state State) {
	if s.state == state {
		return
	}
	s.log.Debugf("state %s -> %s", s.state, state)
	s.state = state
}
