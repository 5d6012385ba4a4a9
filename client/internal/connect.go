package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"

	"github.com/yegram/yegram/client/internal/peer/webrtc"
	"github.com/yegram/yegram/client/internal/store"
	"github.com/yegram/yegram/client/internal/timer"
	signal "github.com/yegram/yegram/shared/signal/client"
)

// OpenStore opens the local state in the configured engine
func OpenStore(config *Config) (*store.Store, error) {
	kv, err := store.NewKV(config.StoreEngine, config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open %s store in %s: %w", config.StoreEngine, config.DataDir, err)
	}
	return store.New(kv), nil
}

// RunClient with main logic. It connects to the relay as the stored identity and runs the engine until
// ctx is done. onStarted receives the running engine.
func RunClient(ctx context.Context, config *Config, st *store.Store, listener Listener, onStarted func(*Engine)) error {
	state := CtxGetState(ctx)
	defer func() {
		s, err := state.Status()
		if err != nil || s != StatusNeedsLogin {
			state.Set(StatusIdle)
		}
	}()

	identity, err := st.Identity()
	if errors.Is(err, store.ErrNoIdentity) {
		state.Set(StatusNeedsLogin)
		return err
	}
	if err != nil {
		return state.Wrap(err)
	}
	if listener == nil {
		listener = NopListener{}
	}

	userInfo, err := json.Marshal(identity.UserInfo())
	if err != nil {
		return fmt.Errorf("encode user info: %w", err)
	}

	relayClient := signal.NewWebsocketClient(config.RelayURL.String(), identity.ID, userInfo, signal.Options{
		KeepAlive:      config.RelayKeepAlive,
		ReconnectDelay: config.RelayReconnectDelay,
	})

	engine := NewEngine(config.EngineConfig(identity), EngineDeps{
		Relay:     relayClient,
		Transport: webrtc.NewTransport(config.TransportConfig()),
		Store:     st,
		Scheduler: timer.NewScheduler(clock.New()),
		Listener:  stateListener{Listener: listener, state: state},
	})

	state.Set(StatusConnecting)
	if err := engine.Start(ctx); err != nil {
		log.Errorf("error while starting Yegram engine: %s", err)
		return state.Wrap(err)
	}
	log.Infof("Yegram engine started as %s, relay %s", identity.ID, config.RelayURL)

	if onStarted != nil {
		onStarted(engine)
	}

	<-ctx.Done()

	if err := engine.Stop(); err != nil {
		log.Errorf("failed stopping engine %v", err)
		return state.Wrap(err)
	}

	log.Info("stopped Yegram client")
	return nil
}
