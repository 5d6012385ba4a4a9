package internal

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/yegram/yegram/client/internal/peer"
	"github.com/yegram/yegram/client/internal/peer/webrtc"
	"github.com/yegram/yegram/client/internal/store"
	"github.com/yegram/yegram/util"
)

const (
	// DefaultRelayURL points to a relay running on the local host with default settings
	DefaultRelayURL = "ws://localhost:10000/ws"
	// DefaultStoreEngine keeps the state in a json file under the data directory
	DefaultStoreEngine = store.FileStoreEngine

	DefaultRelayReconnectDelay = 3 * time.Second
	DefaultRelayKeepAlive      = 25 * time.Second
	DefaultChannelKeepAlive    = 20 * time.Second
	DefaultSweepInterval       = 30 * time.Second
	DefaultSweepJitter         = 3 * time.Second
)

// ConfigInput carries configuration changes to the client
type ConfigInput struct {
	ConfigPath      string
	RelayURL        string
	DataDir         string
	StoreEngine     string
	ICEURLs         []string
	IncludeLoopback *bool
}

// Config Configuration type
type Config struct {
	RelayURL    *url.URL
	DataDir     string
	StoreEngine store.Engine
	// ICEURLs are the STUN servers used to gather candidates
	ICEURLs         []string
	IncludeLoopback bool

	HandshakeTimeout    time.Duration
	MaxAttempts         int
	BackoffBase         time.Duration
	RelayReconnectDelay time.Duration
	RelayKeepAlive      time.Duration
	ChannelKeepAlive    time.Duration
	SweepInterval       time.Duration
	SweepJitter         time.Duration
}

// ReadConfig read config file and return with Config. If it is not exists create a new with default values
func ReadConfig(configPath string) (*Config, error) {
	if configFileIsExists(configPath) {
		config := &Config{}
		if _, err := util.ReadJson(configPath, config); err != nil {
			return nil, err
		}
		// initialize through apply() without changes
		if changed, err := config.apply(ConfigInput{ConfigPath: configPath}); err != nil {
			return nil, err
		} else if changed {
			if err = WriteOutConfig(configPath, config); err != nil {
				return nil, err
			}
		}

		return config, nil
	}

	cfg, err := createNewConfig(ConfigInput{ConfigPath: configPath})
	if err != nil {
		return nil, err
	}

	err = WriteOutConfig(configPath, cfg)
	return cfg, err
}

// UpdateOrCreateConfig reads existing config or generates a new one
func UpdateOrCreateConfig(input ConfigInput) (*Config, error) {
	if !configFileIsExists(input.ConfigPath) {
		log.Infof("generating new config %s", input.ConfigPath)
		cfg, err := createNewConfig(input)
		if err != nil {
			return nil, err
		}
		err = WriteOutConfig(input.ConfigPath, cfg)
		return cfg, err
	}

	return update(input)
}

// WriteOutConfig write put the prepared config to the given path
func WriteOutConfig(path string, config *Config) error {
	return util.WriteJson(context.Background(), path, config)
}

// EngineConfig derives the session manager settings for the given identity
func (config *Config) EngineConfig(identity *store.Identity) *EngineConfig {
	return &EngineConfig{
		Identity:         identity,
		HandshakeTimeout: config.HandshakeTimeout,
		BackoffBase:      config.BackoffBase,
		MaxAttempts:      config.MaxAttempts,
		ChannelKeepAlive: config.ChannelKeepAlive,
		SweepInterval:    config.SweepInterval,
		SweepJitter:      config.SweepJitter,
	}
}

// TransportConfig derives the direct channel settings
func (config *Config) TransportConfig() webrtc.Config {
	return webrtc.Config{
		ICEURLs:         config.ICEURLs,
		IncludeLoopback: config.IncludeLoopback,
	}
}

// createNewConfig creates a new config with default values
func createNewConfig(input ConfigInput) (*Config, error) {
	config := &Config{}

	if _, err := config.apply(input); err != nil {
		return nil, err
	}

	return config, nil
}

func update(input ConfigInput) (*Config, error) {
	config := &Config{}

	if _, err := util.ReadJson(input.ConfigPath, config); err != nil {
		return nil, err
	}

	updated, err := config.apply(input)
	if err != nil {
		return nil, err
	}

	if updated {
		if err := WriteOutConfig(input.ConfigPath, config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func (config *Config) apply(input ConfigInput) (updated bool, err error) {
	if input.RelayURL != "" && (config.RelayURL == nil || input.RelayURL != config.RelayURL.String()) {
		old := ""
		if config.RelayURL != nil {
			old = config.RelayURL.String()
		}
		log.Infof("new Relay URL provided, updated to %#v (old value %#v)", input.RelayURL, old)
		URL, err := parseURL("Relay URL", input.RelayURL)
		if err != nil {
			return false, err
		}
		config.RelayURL = URL
		updated = true
	} else if config.RelayURL == nil {
		log.Infof("using default Relay URL %s", DefaultRelayURL)
		config.RelayURL, err = parseURL("Relay URL", DefaultRelayURL)
		if err != nil {
			return false, err
		}
		updated = true
	}

	if input.DataDir != "" && input.DataDir != config.DataDir {
		log.Infof("updating data directory %#v (old value %#v)", input.DataDir, config.DataDir)
		config.DataDir = input.DataDir
		updated = true
	} else if config.DataDir == "" {
		config.DataDir = defaultDataDir(input.ConfigPath)
		log.Infof("using default data directory %s", config.DataDir)
		updated = true
	}

	if input.StoreEngine != "" && input.StoreEngine != string(config.StoreEngine) {
		engine, err := store.ParseEngine(input.StoreEngine)
		if err != nil {
			return false, err
		}
		log.Infof("switching store engine to %s (old value %#v)", engine, string(config.StoreEngine))
		config.StoreEngine = engine
		updated = true
	} else if config.StoreEngine == "" {
		config.StoreEngine = DefaultStoreEngine
		updated = true
	}

	if input.ICEURLs != nil && !reflect.DeepEqual(config.ICEURLs, input.ICEURLs) {
		log.Infof("updating ICE servers [ %s ] (old value: [ %s ])",
			strings.Join(input.ICEURLs, " "),
			strings.Join(config.ICEURLs, " "))
		config.ICEURLs = input.ICEURLs
		updated = true
	} else if len(config.ICEURLs) == 0 {
		log.Infof("filling in ICE servers with defaults")
		config.ICEURLs = append(config.ICEURLs, webrtc.DefaultICEURLs...)
		updated = true
	}

	if input.IncludeLoopback != nil && *input.IncludeLoopback != config.IncludeLoopback {
		log.Infof("switching loopback candidates to %t", *input.IncludeLoopback)
		config.IncludeLoopback = *input.IncludeLoopback
		updated = true
	}

	updated = applyDuration(&config.HandshakeTimeout, peer.DefaultHandshakeTimeout) || updated
	updated = applyDuration(&config.BackoffBase, peer.DefaultBackoffBase) || updated
	updated = applyDuration(&config.RelayReconnectDelay, DefaultRelayReconnectDelay) || updated
	updated = applyDuration(&config.RelayKeepAlive, DefaultRelayKeepAlive) || updated
	updated = applyDuration(&config.ChannelKeepAlive, DefaultChannelKeepAlive) || updated
	updated = applyDuration(&config.SweepInterval, DefaultSweepInterval) || updated
	updated = applyDuration(&config.SweepJitter, DefaultSweepJitter) || updated
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = peer.DefaultMaxAttempts
		updated = true
	}

	return updated, nil
}

func applyDuration(field *time.Duration, def time.Duration) bool {
	if *field > 0 {
		return false
	}
	*field = def
	return true
}

// defaultDataDir places the state next to the config file
func defaultDataDir(configPath string) string {
	dir := "."
	if i := strings.LastIndexAny(configPath, `/\`); i > 0 {
		dir = configPath[:i]
	}
	return dir + "/data"
}

// parseURL parses and validates a service URL
func parseURL(serviceName, serviceURL string) (*url.URL, error) {
	parsedURL, err := url.ParseRequestURI(serviceURL)
	if err != nil {
		log.Errorf("failed parsing %s URL %s: [%s]", serviceName, serviceURL, err.Error())
		return nil, err
	}

	switch parsedURL.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, fmt.Errorf(
			"invalid %s URL provided %s. Supported format [ws|wss|http|https]://[host]:[port]/[path]",
			serviceName, serviceURL)
	}

	if parsedURL.Port() == "" {
		switch parsedURL.Scheme {
		case "https", "wss":
			parsedURL.Host += ":443"
		case "http", "ws":
			parsedURL.Host += ":80"
		}
	}

	return parsedURL, nil
}

func configFileIsExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
