package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ConstructionError wraps a failure to build the agent.
type ConstructionError struct {
	Err error
}

func (e *ConstructionError) Error() string {
	if e == nil || e.Err == nil {
		return "agent construction failed"
	}
	return "agent construction failed: " + e.Err.Error()
}

func (e *ConstructionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type Factory func(ctx context.Context) (Agent, error)

// Handle lazily builds one Agent per process. Failed builds are not cached.
type Handle struct {
	mu      sync.Mutex
	factory Factory
	agent   Agent
}

func NewHandle(factory Factory) *Handle {
	return &Handle{factory: factory}
}

// Static returns a handle that always yields a.
func Static(a Agent) *Handle {
	return &Handle{agent: a}
}

func (h *Handle) Get(ctx context.Context) (Agent, error) {
	if h == nil {
		return nil, &ConstructionError{Err: errors.New("agent handle is nil")}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.agent != nil {
		return h.agent, nil
	}
	if h.factory == nil {
		return nil, &ConstructionError{Err: errors.New("agent factory is not configured")}
	}
	a, err := h.build(ctx)
	if err != nil {
		return nil, &ConstructionError{Err: err}
	}
	if a == nil {
		return nil, &ConstructionError{Err: errors.New("agent factory returned nil")}
	}
	h.agent = a
	return a, nil
}

func (h *Handle) build(ctx context.Context) (a Agent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.factory(ctx)
}

// DeviceInfo asks the agent for a device descriptor when it supports one.
func (h *Handle) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	a, err := h.Get(ctx)
	if err != nil {
		return DeviceInfo{}, err
	}
	p, ok := a.(DeviceInfoProvider)
	if !ok {
		return DeviceInfo{}, errors.New("agent does not report device info")
	}
	return p.DeviceInfo(ctx)
}
