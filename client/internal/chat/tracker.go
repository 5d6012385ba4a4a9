package chat

// Tracker remembers the envelopes sent to each peer that still wait for their delivery confirmation.
// It is not safe for concurrent use.
type Tracker struct {
	outstanding map[string]map[string]Type
}

func NewTracker() *Tracker {
	return &Tracker{outstanding: make(map[string]map[string]Type)}
}

// Track records an envelope sent to peerID if it expects a confirmation
func (t *Tracker) Track(peerID string, env *Envelope) {
	if !env.NeedsAck() {
		return
	}
	ids, ok := t.outstanding[peerID]
	if !ok {
		ids = make(map[string]Type)
		t.outstanding[peerID] = ids
	}
	ids[env.ID] = env.Type
}

// Ack consumes the confirmation of id from peerID. It returns false for unknown or repeated confirmations.
func (t *Tracker) Ack(peerID, id string) (Type, bool) {
	ids, ok := t.outstanding[peerID]
	if !ok {
		return "", false
	}
	typ, ok := ids[id]
	if !ok {
		return "", false
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(t.outstanding, peerID)
	}
	return typ, true
}

// Pending returns the number of unconfirmed envelopes sent to peerID
func (t *Tracker) Pending(peerID string) int {
	return len(t.outstanding[peerID])
}

// Forget drops every outstanding envelope of peerID and returns the ids of the dropped messages
func (t *Tracker) Forget(peerID string) []string {
	var messages []string
	for id, typ := range t.outstanding[peerID] {
		if typ == TypeMessage {
			messages = append(messages, id)
		}
	}
	delete(t.outstanding, peerID)
	return messages
}
