package peer

import (
	"encoding/json"

	"github.com/yegram/yegram/client/internal/timer"
	signal "github.com/yegram/yegram/shared/signal/client"
	"github.com/yegram/yegram/shared/signal/messages"
)

// Signaler sends the handshake messages of the sessions through the relay
type Signaler struct {
	signal signal.Client
	clock  timer.Scheduler
}

func NewSignaler(signal signal.Client, clock timer.Scheduler) *Signaler {
	return &Signaler{
		signal: signal,
		clock:  clock,
	}
}

func (s *Signaler) SignalOffer(offer json.RawMessage, remoteID string) error {
	return s.signal.Send(messages.NewOffer(remoteID, offer, s.clock.Now()))
}

func (s *Signaler) SignalAnswer(answer json.RawMessage, remoteID string) error {
	return s.signal.Send(messages.NewAnswer(remoteID, answer, s.clock.Now()))
}

func (s *Signaler) SignalICECandidate(candidate json.RawMessage, remoteID string) error {
	return s.signal.Send(messages.NewCandidate(remoteID, candidate, s.clock.Now()))
}

func (s *Signaler) Ready() bool {
	return s.signal.Ready()
}
