package peer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/yegram/yegram/shared/signal/messages"
	"github.com/yegram/yegram/signal/metrics"
)

var streamSeq atomic.Int64

// Conn is the relay side handle of a client connection
type Conn interface {
	// Send queues a frame for delivery. It never blocks on the network.
	Send(msg *messages.Message) error
	// Close terminates the transport with the given reason
	Close(reason string) error
	// Writable reports whether frames can still be queued
	Writable() bool
}

// Peer representation of a registered client
type Peer struct {
	// the self-asserted identity the connection registered with
	Id string

	// StreamID distinguishes successive connections of the same identity
	StreamID int64

	RegisteredAt time.Time

	Conn Conn
}

// NewPeer creates a new instance of a registered Peer
func NewPeer(id string, conn Conn) *Peer {
	return &Peer{
		Id:           id,
		Conn:         conn,
		StreamID:     streamSeq.Add(1),
		RegisteredAt: time.Now(),
	}
}

// Registry that holds all currently registered Peers
type Registry struct {
	// Peer.Id -> Peer
	peers map[string]*Peer
	// regMutex ensures that registration and de-registrations are safe
	regMutex sync.RWMutex

	metrics *metrics.AppMetrics
}

// NewRegistry creates a new registered Peer registry
func NewRegistry(metrics *metrics.AppMetrics) *Registry {
	return &Registry{
		peers:   make(map[string]*Peer),
		metrics: metrics,
	}
}

// Get gets a peer from the registry
func (registry *Registry) Get(peerId string) (*Peer, bool) {
	registry.regMutex.RLock()
	defer registry.regMutex.RUnlock()

	p, ok := registry.peers[peerId]
	return p, ok
}

func (registry *Registry) IsPeerRegistered(peerId string) bool {
	_, ok := registry.Get(peerId)
	return ok
}

// Count returns the number of registered identities
func (registry *Registry) Count() int {
	registry.regMutex.RLock()
	defer registry.regMutex.RUnlock()
	return len(registry.peers)
}

// Register binds the peer identity to its connection. Last register wins: a previously registered peer
// on a different connection is returned so the caller can close it once the lock is released.
func (registry *Registry) Register(peer *Peer) (evicted *Peer) {
	start := time.Now()

	registry.regMutex.Lock()
	prev, loaded := registry.peers[peer.Id]
	registry.peers[peer.Id] = peer
	registry.regMutex.Unlock()

	ctx := context.Background()
	registry.metrics.RegisterCalls.Add(ctx, 1)
	registry.metrics.RegisterTimes.Record(ctx, float64(time.Since(start).Microseconds())/1000)

	if !loaded {
		registry.metrics.RegisteredPeers.Add(ctx, 1)
		log.Debugf("peer registered [%s]", peer.Id)
		return nil
	}

	if prev.Conn == peer.Conn {
		log.Debugf("peer [%s] registered again on the same connection", peer.Id)
		return nil
	}

	log.Warnf("peer [%s] is already registered [new streamID %d, previous StreamID %d]. Will evict the previous connection.",
		peer.Id, peer.StreamID, prev.StreamID)
	registry.metrics.Evictions.Add(ctx, 1)
	return prev
}

// Deregister removes the peer only when the registry still maps its identity to the same stream.
// It returns false when the identity is unknown or owned by a newer connection.
func (registry *Registry) Deregister(peer *Peer) bool {
	registry.regMutex.Lock()
	current, ok := registry.peers[peer.Id]
	if !ok {
		registry.regMutex.Unlock()
		return false
	}
	if current.StreamID != peer.StreamID {
		registry.regMutex.Unlock()
		log.Debugf("attempted to remove newer registered stream of a peer [%s] [current streamID %d, caller StreamID %d]. Ignoring.",
			peer.Id, current.StreamID, peer.StreamID)
		return false
	}
	delete(registry.peers, peer.Id)
	registry.regMutex.Unlock()

	ctx := context.Background()
	registry.metrics.DeregisterCalls.Add(ctx, 1)
	registry.metrics.RegisteredPeers.Add(ctx, -1)
	log.Debugf("peer deregistered [%s]", peer.Id)
	return true
}
