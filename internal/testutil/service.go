package testutil

import (
	"sync"
	"testing"

	"loft-go/internal/gateway"
	"loft-go/internal/loft"
	"loft-go/internal/state"
)

// TestAppVersion is the app version stamped by test gateways.
const TestAppVersion = "0.0.0-test"

// Harness bundles a Service with the fakes behind it.
type Harness struct {
	Service *loft.Service
	Gateway *ScriptedGateway
	Memory  *gateway.MemoryGateway
	Store   *state.MemoryPointerStore
	Clock   *StubClock

	mu     sync.Mutex
	states []loft.BootState
}

// NewHarness creates a Service over an in-memory gateway, a stub clock and an
// in-memory pointer store. Every published boot state is recorded.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	clock := FixedClock()
	mem := gateway.NewMemoryGateway(StaticSeeder{Payload: "seed"}, clock, NewStubIDGenerator(), TestAppVersion)
	scripted := NewScriptedGateway(mem)
	store := state.NewMemoryPointerStore("")

	pointer := loft.NewWorkspacePointer(store)
	if err := pointer.Init(); err != nil {
		t.Fatalf("init pointer: %v", err)
	}

	h := &Harness{
		Gateway: scripted,
		Memory:  mem,
		Store:   store,
		Clock:   clock,
	}
	states := loft.NewStateMachine()
	unsubscribe := states.Subscribe(func(s loft.BootState) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.states = append(h.states, s)
	})
	t.Cleanup(unsubscribe)

	h.Service = loft.NewService(scripted, pointer, states, loft.NewNopLogger(), clock)
	return h
}

// States returns every boot state published so far.
func (h *Harness) States() []loft.BootState {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]loft.BootState, len(h.states))
	copy(out, h.states)
	return out
}

// Phases returns the phases of every boot state published so far.
func (h *Harness) Phases() []loft.Phase {
	states := h.States()
	out := make([]loft.Phase, len(states))
	for i, s := range states {
		out[i] = s.Phase
	}
	return out
}
