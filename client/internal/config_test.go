package internal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegram/yegram/client/internal/peer"
	"github.com/yegram/yegram/client/internal/peer/webrtc"
	"github.com/yegram/yegram/client/internal/store"
	"github.com/yegram/yegram/util"
)

func TestGetConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	// case 1: new default config has to be generated
	config, err := UpdateOrCreateConfig(ConfigInput{ConfigPath: path})
	require.NoError(t, err)

	assert.Equal(t, DefaultRelayURL, config.RelayURL.String())
	assert.Equal(t, store.FileStoreEngine, config.StoreEngine)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data"), filepath.Clean(config.DataDir))
	assert.Equal(t, webrtc.DefaultICEURLs, config.ICEURLs)
	assert.Equal(t, peer.DefaultHandshakeTimeout, config.HandshakeTimeout)
	assert.Equal(t, peer.DefaultMaxAttempts, config.MaxAttempts)
	assert.Equal(t, DefaultSweepJitter, config.SweepJitter)
	assert.True(t, util.FileExists(path))

	// case 2: existing config, update values
	loopback := true
	config, err = UpdateOrCreateConfig(ConfigInput{
		ConfigPath:      path,
		RelayURL:        "wss://relay.example.com/ws",
		StoreEngine:     "SQLite",
		ICEURLs:         []string{"stun:stun.example.com:3478"},
		IncludeLoopback: &loopback,
	})
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example.com:443/ws", config.RelayURL.String())
	assert.Equal(t, store.SqliteStoreEngine, config.StoreEngine)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, config.ICEURLs)
	assert.True(t, config.IncludeLoopback)

	// case 3: read the stored config back
	readConf, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.RelayURL.String(), readConf.RelayURL.String())
	assert.Equal(t, config.StoreEngine, readConf.StoreEngine)
	assert.Equal(t, config.ICEURLs, readConf.ICEURLs)
	assert.Equal(t, config.HandshakeTimeout, readConf.HandshakeTimeout)

	// case 4: an unchanged input does not rewrite anything
	again, err := UpdateOrCreateConfig(ConfigInput{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, config.RelayURL.String(), again.RelayURL.String())
}

func TestUpdateOrCreateConfig_RejectsInvalidInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	_, err := UpdateOrCreateConfig(ConfigInput{ConfigPath: path, RelayURL: "ftp://relay.example.com"})
	assert.Error(t, err)

	_, err = UpdateOrCreateConfig(ConfigInput{ConfigPath: path, StoreEngine: "redis"})
	assert.Error(t, err)
}

func TestParseURL(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "ws without port", input: "ws://relay.example.com/ws", want: "ws://relay.example.com:80/ws"},
		{name: "wss without port", input: "wss://relay.example.com/ws", want: "wss://relay.example.com:443/ws"},
		{name: "explicit port", input: "ws://localhost:10000/ws", want: "ws://localhost:10000/ws"},
		{name: "https", input: "https://relay.example.com", want: "https://relay.example.com:443"},
		{name: "unsupported scheme", input: "tcp://relay.example.com", wantErr: true},
		{name: "not a url", input: "relay", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseURL("Relay URL", tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestConfig_EngineConfig(t *testing.T) {
	config, err := createNewConfig(ConfigInput{ConfigPath: filepath.Join(t.TempDir(), "config.json")})
	require.NoError(t, err)

	identity := &store.Identity{ID: "user_1"}
	ec := config.EngineConfig(identity)
	assert.Same(t, identity, ec.Identity)
	assert.Equal(t, config.SweepInterval, ec.SweepInterval)
	assert.Equal(t, config.ChannelKeepAlive, ec.ChannelKeepAlive)
	assert.Equal(t, config.BackoffBase, ec.BackoffBase)

	tc := config.TransportConfig()
	assert.Equal(t, config.ICEURLs, tc.ICEURLs)
}
