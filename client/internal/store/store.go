package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yegram/yegram/client/internal/chat"
)

const (
	identityKey   = "identity"
	rosterKey     = "roster"
	historyPrefix = "history/"

	// MaxHistory is the number of messages kept per peer, older ones are dropped first
	MaxHistory = 5000

	identityPrefix     = "user_"
	defaultAvatarColor = "#667eea"
)

var (
	ErrNoIdentity = errors.New("no identity, run init first")
	ErrAliasTaken = errors.New("username is already used by another peer")
)

// Identity is the local account
type Identity struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Username    string `json:"username,omitempty"`
	AvatarColor string `json:"avatarColor"`
	Created     int64  `json:"created"`
}

// UserInfo is what the identity announces to its peers
func (i *Identity) UserInfo() chat.UserInfo {
	return chat.UserInfo{
		ID:          i.ID,
		Name:        i.Name,
		Username:    i.Username,
		AvatarColor: i.AvatarColor,
	}
}

// PeerRecord is a known remote peer
type PeerRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Username    string `json:"username,omitempty"`
	AvatarColor string `json:"avatarColor,omitempty"`
	LastSeen    int64  `json:"lastSeen,omitempty"`
}

// DisplayName prefers the @username, then the name, then the id
func (p *PeerRecord) DisplayName() string {
	switch {
	case p.Username != "":
		return "@" + p.Username
	case p.Name != "":
		return p.Name
	default:
		return p.ID
	}
}

// Store is the domain view over a KV. Read-modify-write sequences are serialized by the Store.
type Store struct {
	mu         sync.Mutex
	kv         KV
	maxHistory int
}

func New(kv KV) *Store {
	return &Store{kv: kv, maxHistory: MaxHistory}
}

func (s *Store) Close() error {
	return s.kv.Close()
}

// NewIdentity generates an identity with a fresh id
func NewIdentity(name, username string, now time.Time) *Identity {
	return &Identity{
		ID:          identityPrefix + chat.NewID(),
		Name:        name,
		Username:    strings.TrimPrefix(username, "@"),
		AvatarColor: defaultAvatarColor,
		Created:     now.UnixMilli(),
	}
}

func (s *Store) Identity() (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity := &Identity{}
	if err := s.getJSON(identityKey, identity); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNoIdentity
		}
		return nil, err
	}
	return identity, nil
}

func (s *Store) SaveIdentity(identity *Identity) error {
	if identity.ID == "" {
		return fmt.Errorf("identity without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setJSON(identityKey, identity)
}

// Logout drops the identity. Roster and history stay, as they belong to the data dir.
func (s *Store) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Delete(identityKey)
}

// Roster returns the known peers ordered by id
func (s *Store) Roster() ([]PeerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roster, err := s.roster()
	if err != nil {
		return nil, err
	}
	peers := make([]PeerRecord, 0, len(roster))
	for _, p := range roster {
		peers = append(peers, *p)
	}
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].ID < peers[j].ID
	})
	return peers, nil
}

func (s *Store) Peer(id string) (*PeerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roster, err := s.roster()
	if err != nil {
		return nil, err
	}
	p, ok := roster[id]
	if !ok {
		return nil, fmt.Errorf("peer %s: %w", id, ErrNotFound)
	}
	return p, nil
}

// SavePeer adds or updates a peer. Usernames are unique across the roster, ignoring case.
func (s *Store) SavePeer(record PeerRecord) error {
	if record.ID == "" {
		return fmt.Errorf("peer record without id")
	}
	record.Username = strings.TrimPrefix(record.Username, "@")

	s.mu.Lock()
	defer s.mu.Unlock()

	roster, err := s.roster()
	if err != nil {
		return err
	}
	if record.Username != "" {
		for id, p := range roster {
			if id != record.ID && strings.EqualFold(p.Username, record.Username) {
				return fmt.Errorf("%w: @%s belongs to %s", ErrAliasTaken, record.Username, id)
			}
		}
	}
	roster[record.ID] = &record
	return s.setJSON(rosterKey, roster)
}

// UpdatePeerInfo records the info a connected peer announced about itself
func (s *Store) UpdatePeerInfo(info chat.UserInfo, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roster, err := s.roster()
	if err != nil {
		return err
	}

	record, ok := roster[info.ID]
	if !ok {
		record = &PeerRecord{ID: info.ID}
		roster[info.ID] = record
	}
	record.Name = info.Name
	record.AvatarColor = info.AvatarColor
	record.LastSeen = now.UnixMilli()

	// an announced username that clashes with another record is not taken over
	username := strings.TrimPrefix(info.Username, "@")
	clash := false
	for id, p := range roster {
		if id != info.ID && username != "" && strings.EqualFold(p.Username, username) {
			clash = true
			break
		}
	}
	if !clash {
		record.Username = username
	}

	return s.setJSON(rosterKey, roster)
}

func (s *Store) RemovePeer(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roster, err := s.roster()
	if err != nil {
		return err
	}
	if _, ok := roster[id]; !ok {
		return fmt.Errorf("peer %s: %w", id, ErrNotFound)
	}
	delete(roster, id)
	return s.setJSON(rosterKey, roster)
}

// ResolveAlias maps "@username" to a peer id, ignoring case. Anything else is taken as an id.
func (s *Store) ResolveAlias(idOrAlias string) (string, error) {
	idOrAlias = strings.TrimSpace(idOrAlias)
	if !strings.HasPrefix(idOrAlias, "@") {
		if idOrAlias == "" {
			return "", fmt.Errorf("empty peer id")
		}
		return idOrAlias, nil
	}

	username := strings.TrimPrefix(idOrAlias, "@")
	s.mu.Lock()
	defer s.mu.Unlock()

	roster, err := s.roster()
	if err != nil {
		return "", err
	}
	for id, p := range roster {
		if p.Username != "" && strings.EqualFold(p.Username, username) {
			return id, nil
		}
	}
	return "", fmt.Errorf("user %s: %w", idOrAlias, ErrNotFound)
}

// AppendHistory stores a message of the conversation with peerID
func (s *Store) AppendHistory(peerID string, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.history(peerID)
	if err != nil {
		return err
	}
	history = append(history, msg)
	if len(history) > s.maxHistory {
		history = history[len(history)-s.maxHistory:]
	}
	return s.setJSON(historyPrefix+peerID, history)
}

func (s *Store) History(peerID string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history(peerID)
}

// UpdateMessageStatus sets the status of a stored message. It returns false if the message is unknown.
func (s *Store) UpdateMessageStatus(peerID, messageID, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.history(peerID)
	if err != nil {
		return false, err
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].ID != messageID {
			continue
		}
		if history[i].Status == status {
			return true, nil
		}
		history[i].Status = status
		return true, s.setJSON(historyPrefix+peerID, history)
	}
	return false, nil
}

// roster must be called with mu held
func (s *Store) roster() (map[string]*PeerRecord, error) {
	roster := make(map[string]*PeerRecord)
	if err := s.getJSON(rosterKey, &roster); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if roster == nil {
		roster = make(map[string]*PeerRecord)
	}
	return roster, nil
}

// history must be called with mu held
func (s *Store) history(peerID string) ([]chat.Message, error) {
	var history []chat.Message
	if err := s.getJSON(historyPrefix+peerID, &history); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return history, nil
}

func (s *Store) getJSON(key string, v any) error {
	data, err := s.kv.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.kv.Set(key, data)
}
