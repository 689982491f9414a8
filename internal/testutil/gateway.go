package testutil

import (
	"context"
	"sync"

	"loft-go/internal/loft"
)

// ScriptedGateway wraps a real gateway and lets tests script PathExists and
// OpenWorkspace while counting calls. Unscripted calls go to the wrapped gateway.
type ScriptedGateway struct {
	loft.Gateway

	mu sync.Mutex
	// ExistsFunc, if set, answers PathExists. call starts at 1.
	ExistsFunc func(call int) bool
	// OpenErrors are returned by successive OpenWorkspace calls; a nil entry
	// or an exhausted queue falls through to the wrapped gateway.
	OpenErrors []error
	// SaveErr, if set, is returned by SaveWorkspace.
	SaveErr error

	existsCalls int
	openCalls   int
	saveCalls   int
}

// NewScriptedGateway wraps inner.
func NewScriptedGateway(inner loft.Gateway) *ScriptedGateway {
	return &ScriptedGateway{Gateway: inner}
}

func (g *ScriptedGateway) PathExists(ctx context.Context, path string) (bool, error) {
	g.mu.Lock()
	g.existsCalls++
	call, fn := g.existsCalls, g.ExistsFunc
	g.mu.Unlock()

	if fn != nil {
		return fn(call), nil
	}
	return g.Gateway.PathExists(ctx, path)
}

func (g *ScriptedGateway) OpenWorkspace(ctx context.Context, path string) (*loft.OpenedWorkspace, error) {
	g.mu.Lock()
	g.openCalls++
	var err error
	if len(g.OpenErrors) > 0 {
		err = g.OpenErrors[0]
		g.OpenErrors = g.OpenErrors[1:]
	}
	g.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return g.Gateway.OpenWorkspace(ctx, path)
}

func (g *ScriptedGateway) SaveWorkspace(ctx context.Context, path string, data []byte) error {
	g.mu.Lock()
	g.saveCalls++
	err := g.SaveErr
	g.mu.Unlock()

	if err != nil {
		return err
	}
	return g.Gateway.SaveWorkspace(ctx, path, data)
}

// ExistsCalls returns the number of PathExists calls.
func (g *ScriptedGateway) ExistsCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.existsCalls
}

// OpenCalls returns the number of OpenWorkspace calls.
func (g *ScriptedGateway) OpenCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.openCalls
}

// SaveCalls returns the number of SaveWorkspace calls.
func (g *ScriptedGateway) SaveCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.saveCalls
}
