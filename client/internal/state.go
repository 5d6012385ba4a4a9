package internal

import (
	"context"
	"sync"
)

type StatusType string

const (
	StatusIdle StatusType = "Idle"

	// StatusConnecting means the engine runs and waits for the relay
	StatusConnecting StatusType = "Connecting"
	// StatusConnected means the engine is registered with the relay
	StatusConnected StatusType = "Connected"
	// StatusNeedsLogin means there is no local identity yet
	StatusNeedsLogin StatusType = "NeedsLogin"
)

// CtxInitState setup context state into the context tree.
//
// This function should be used to initialize context before
// CtxGetState will be executed.
func CtxInitState(ctx context.Context) context.Context {
	return context.WithValue(ctx, stateCtx, &contextState{
		status: StatusIdle,
	})
}

// CtxGetState object to get/update state/errors of process. A context without state gets a detached one.
func CtxGetState(ctx context.Context) *contextState {
	if s, ok := ctx.Value(stateCtx).(*contextState); ok {
		return s
	}
	return &contextState{status: StatusIdle}
}

type contextState struct {
	err    error
	status StatusType
	mutex  sync.Mutex
}

func (c *contextState) Set(update StatusType) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.status = update
	c.err = nil
}

func (c *contextState) Status() (StatusType, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.err != nil {
		return "", c.err
	}

	return c.status, nil
}

func (c *contextState) Wrap(err error) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.err = err
	return err
}

// stateListener mirrors the relay status of the engine into the context state
type stateListener struct {
	Listener
	state *contextState
}

func (l stateListener) OnRelayStatus(connected bool) {
	if connected {
		l.state.Set(StatusConnected)
	} else {
		l.state.Set(StatusConnecting)
	}
	l.Listener.OnRelayStatus(connected)
}

type stateKey int

var stateCtx stateKey
