// Package webrtc implements the direct channel transport of the peer sessions on pion/webrtc. Every
// channel is one PeerConnection carrying a single negotiated data channel, with trickle ICE.
package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	pion "github.com/pion/webrtc/v4"
	log "github.com/sirupsen/logrus"

	"github.com/yegram/yegram/client/internal/peer"
)

const (
	// ChannelLabel is the label of the negotiated data channel. Both sides create it with the same id, so
	// no in-band announcement is needed.
	ChannelLabel = "yegram-chat"

	channelID uint16 = 0
)

// DefaultICEURLs are the public STUN servers used when the configuration names none
var DefaultICEURLs = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
	"stun:stun.stunprotocol.org:3478",
	"stun:global.stun.twilio.com:3478?transport=udp",
}

type Config struct {
	ICEURLs []string
	// IncludeLoopback gathers loopback candidates, for same-host peers and tests
	IncludeLoopback bool
}

// Transport creates pion PeerConnections
type Transport struct {
	api    *pion.API
	config pion.Configuration
}

func NewTransport(cfg Config) *Transport {
	settingEngine := pion.SettingEngine{}
	if cfg.IncludeLoopback {
		settingEngine.SetIncludeLoopbackCandidate(true)
	}

	config := pion.Configuration{}
	if len(cfg.ICEURLs) > 0 {
		config.ICEServers = []pion.ICEServer{{URLs: cfg.ICEURLs}}
	}

	return &Transport{
		api:    pion.NewAPI(pion.WithSettingEngine(settingEngine)),
		config: config,
	}
}

func (t *Transport) NewChannel(remoteID string, role peer.Role, handlers peer.ChannelHandlers) (peer.Channel, error) {
	pc, err := t.api.NewPeerConnection(t.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	negotiated := true
	ordered := true
	id := channelID
	dc, err := pc.CreateDataChannel(ChannelLabel, &pion.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
		Ordered:    &ordered,
	})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	c := &channel{
		log:      log.WithFields(log.Fields{"peer": remoteID, "role": role.String()}),
		pc:       pc,
		dc:       dc,
		handlers: handlers,
	}

	pc.OnICECandidate(c.onICECandidate)
	pc.OnConnectionStateChange(c.onConnectionStateChange)
	dc.OnOpen(c.onOpen)
	dc.OnClose(func() {
		c.notifyClose(nil)
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(msg.Data)
		}
	})

	return c, nil
}

type channel struct {
	log      *log.Entry
	pc       *pion.PeerConnection
	dc       *pion.DataChannel
	handlers peer.ChannelHandlers

	mu                sync.Mutex
	remoteSet         bool
	pendingCandidates []pion.ICECandidateInit
	closed            bool
	closeNotified     bool
}

func (c *channel) CreateOffer() (json.RawMessage, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(offer)
}

func (c *channel) AcceptOffer(offer json.RawMessage) (json.RawMessage, error) {
	if err := c.setRemoteDescription(offer, pion.SDPTypeOffer); err != nil {
		return nil, err
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(answer)
}

func (c *channel) AcceptAnswer(answer json.RawMessage) error {
	return c.setRemoteDescription(answer, pion.SDPTypeAnswer)
}

func (c *channel) setRemoteDescription(raw json.RawMessage, expected pion.SDPType) error {
	var desc pion.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return fmt.Errorf("decode session description: %w", err)
	}
	if desc.Type != expected {
		return fmt.Errorf("unexpected session description type %s, want %s", desc.Type, expected)
	}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	c.mu.Lock()
	c.remoteSet = true
	pending := c.pendingCandidates
	c.pendingCandidates = nil
	c.mu.Unlock()

	for _, candidate := range pending {
		if err := c.pc.AddICECandidate(candidate); err != nil {
			c.log.Debugf("failed to add buffered remote candidate: %s", err)
		}
	}
	return nil
}

// AddRemoteCandidate adds a trickled candidate. Candidates arriving before the remote description are
// buffered.
func (c *channel) AddRemoteCandidate(raw json.RawMessage) error {
	var candidate pion.ICECandidateInit
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}

	c.mu.Lock()
	if !c.remoteSet {
		c.pendingCandidates = append(c.pendingCandidates, candidate)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.pc.AddICECandidate(candidate)
}

func (c *channel) Send(data []byte) error {
	if !c.IsOpen() {
		return peer.ErrChannelNotOpen
	}
	return c.dc.Send(data)
}

func (c *channel) IsOpen() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	return !closed && c.dc.ReadyState() == pion.DataChannelStateOpen
}

// Close tears down the peer connection. No handler is called afterwards.
func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.pc.Close()
}

func (c *channel) onICECandidate(candidate *pion.ICECandidate) {
	// nil marks the end of gathering
	if candidate == nil || c.handlers.OnLocalCandidate == nil || c.isClosed() {
		return
	}

	data, err := json.Marshal(candidate.ToJSON())
	if err != nil {
		c.log.Errorf("failed to encode local candidate: %s", err)
		return
	}
	c.handlers.OnLocalCandidate(data)
}

func (c *channel) onConnectionStateChange(state pion.PeerConnectionState) {
	c.log.Debugf("peer connection state: %s", state)

	switch state {
	case pion.PeerConnectionStateFailed:
		c.notifyClose(errors.New("ice connectivity failed"))
	case pion.PeerConnectionStateClosed:
		c.notifyClose(nil)
	}
}

func (c *channel) onOpen() {
	if c.handlers.OnOpen == nil || c.isClosed() {
		return
	}
	c.handlers.OnOpen()
}

func (c *channel) notifyClose(err error) {
	c.mu.Lock()
	if c.closed || c.closeNotified {
		c.mu.Unlock()
		return
	}
	c.closeNotified = true
	c.mu.Unlock()

	if c.handlers.OnClose != nil {
		c.handlers.OnClose(err)
	}
}

func (c *channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
