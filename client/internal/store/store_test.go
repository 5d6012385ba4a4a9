package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegram/yegram/client/internal/chat"
)

var testNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestStore_Identity(t *testing.T) {
	s := New(NewMemoryStore())

	_, err := s.Identity()
	assert.ErrorIs(t, err, ErrNoIdentity)

	identity := NewIdentity("Alice", "@alice", testNow)
	assert.Contains(t, identity.ID, "user_")
	assert.Equal(t, "alice", identity.Username)
	require.NoError(t, s.SaveIdentity(identity))

	loaded, err := s.Identity()
	require.NoError(t, err)
	assert.Equal(t, identity, loaded)

	require.NoError(t, s.SavePeer(PeerRecord{ID: "user_2"}))
	require.NoError(t, s.Logout())
	_, err = s.Identity()
	assert.ErrorIs(t, err, ErrNoIdentity)

	roster, err := s.Roster()
	require.NoError(t, err)
	assert.Len(t, roster, 1, "logout keeps the roster")
}

func TestStore_ResolveAlias(t *testing.T) {
	s := New(NewMemoryStore())
	require.NoError(t, s.SavePeer(PeerRecord{ID: "user_2", Username: "Bob"}))

	id, err := s.ResolveAlias("@bob")
	require.NoError(t, err)
	assert.Equal(t, "user_2", id)

	id, err = s.ResolveAlias("@BOB")
	require.NoError(t, err)
	assert.Equal(t, "user_2", id)

	id, err = s.ResolveAlias("user_9")
	require.NoError(t, err)
	assert.Equal(t, "user_9", id, "ids resolve to themselves")

	_, err = s.ResolveAlias("@carol")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UsernameUniqueIgnoringCase(t *testing.T) {
	s := New(NewMemoryStore())
	require.NoError(t, s.SavePeer(PeerRecord{ID: "user_2", Username: "bob"}))

	assert.ErrorIs(t, s.SavePeer(PeerRecord{ID: "user_3", Username: "BOB"}), ErrAliasTaken)
	require.NoError(t, s.SavePeer(PeerRecord{ID: "user_2", Username: "Bob", Name: "Bob"}))

	require.NoError(t, s.UpdatePeerInfo(chat.UserInfo{ID: "user_3", Name: "Mallory", Username: "bob"}, testNow))
	p, err := s.Peer("user_3")
	require.NoError(t, err)
	assert.Equal(t, "Mallory", p.Name)
	assert.Empty(t, p.Username, "an announced username can't take over another peer's")
	assert.Equal(t, testNow.UnixMilli(), p.LastSeen)
}

func TestStore_RemovePeer(t *testing.T) {
	s := New(NewMemoryStore())
	require.NoError(t, s.SavePeer(PeerRecord{ID: "user_2"}))
	require.NoError(t, s.RemovePeer("user_2"))
	assert.ErrorIs(t, s.RemovePeer("user_2"), ErrNotFound)

	_, err := s.Peer("user_2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_History(t *testing.T) {
	s := New(NewMemoryStore())

	history, err := s.History("user_2")
	require.NoError(t, err)
	assert.Empty(t, history)

	env := chat.NewTextMessage("user_1", "hello", testNow)
	require.NoError(t, s.AppendHistory("user_2", *env.Message))

	ok, err := s.UpdateMessageStatus("user_2", env.ID, chat.StatusDelivered)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.UpdateMessageStatus("user_2", "unknown", chat.StatusDelivered)
	require.NoError(t, err)
	assert.False(t, ok)

	history, err = s.History("user_2")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, chat.StatusDelivered, history[0].Status)
	assert.Equal(t, "hello", history[0].Content)
}

func TestStore_HistoryIsBounded(t *testing.T) {
	s := New(NewMemoryStore())
	s.maxHistory = 20
	for i := 0; i < 30; i++ {
		require.NoError(t, s.AppendHistory("user_2", chat.Message{ID: fmt.Sprintf("m%d", i)}))
	}

	history, err := s.History("user_2")
	require.NoError(t, err)
	require.Len(t, history, 20)
	assert.Equal(t, "m10", history[0].ID)
}
