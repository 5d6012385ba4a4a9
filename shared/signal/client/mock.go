package client

import (
	"context"

	"github.com/yegram/yegram/shared/signal/messages"
)

type MockClient struct {
	CloseFunc                     func() error
	GetStatusFunc                 func() Status
	ReadyFunc                     func() bool
	IsHealthyFunc                 func() bool
	WaitStreamConnectedFunc       func(ctx context.Context) error
	ReceiveFunc                   func(ctx context.Context, msgHandler func(msg *messages.Message) error) error
	SendFunc                      func(msg *messages.Message) error
	SetOnReconnectedListenerFunc  func(func())
	SetOnDisconnectedListenerFunc func(func())
}

func (sm *MockClient) IsHealthy() bool {
	if sm.IsHealthyFunc == nil {
		return true
	}
	return sm.IsHealthyFunc()
}

func (sm *MockClient) Close() error {
	if sm.CloseFunc == nil {
		return nil
	}
	return sm.CloseFunc()
}

func (sm *MockClient) GetStatus() Status {
	if sm.GetStatusFunc == nil {
		return ""
	}
	return sm.GetStatusFunc()
}

func (sm *MockClient) Ready() bool {
	if sm.ReadyFunc == nil {
		return false
	}
	return sm.ReadyFunc()
}

func (sm *MockClient) WaitStreamConnected(ctx context.Context) error {
	if sm.WaitStreamConnectedFunc == nil {
		return nil
	}
	return sm.WaitStreamConnectedFunc(ctx)
}

func (sm *MockClient) Receive(ctx context.Context, msgHandler func(msg *messages.Message) error) error {
	if sm.ReceiveFunc == nil {
		return nil
	}
	return sm.ReceiveFunc(ctx, msgHandler)
}

func (sm *MockClient) Send(msg *messages.Message) error {
	if sm.SendFunc == nil {
		return nil
	}
	return sm.SendFunc(msg)
}

func (sm *MockClient) SetOnReconnectedListener(f func()) {
	if sm.SetOnReconnectedListenerFunc == nil {
		return
	}
	sm.SetOnReconnectedListenerFunc(f)
}

func (sm *MockClient) SetOnDisconnectedListener(f func()) {
	if sm.SetOnDisconnectedListenerFunc == nil {
		return
	}
	sm.SetOnDisconnectedListenerFunc(f)
}
