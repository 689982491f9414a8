package loft

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Phase is a step of the workspace open protocol.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseValidatePath
	PhaseWaitingMaterialization
	PhaseOpeningDB
	PhaseReady
	PhaseMissing
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "UNINITIALIZED"
	case PhaseValidatePath:
		return "VALIDATE_PATH"
	case PhaseWaitingMaterialization:
		return "WAITING_MATERIALIZATION"
	case PhaseOpeningDB:
		return "OPENING_DB"
	case PhaseReady:
		return "READY"
	case PhaseMissing:
		return "MISSING"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Terminal reports whether an open attempt ends in this phase.
func (p Phase) Terminal() bool {
	return p == PhaseReady || p == PhaseMissing
}

// OpenResult is carried by the READY state.
type OpenResult struct {
	Path         string
	Database     []byte
	Metadata     *WorkspaceMetadata
	DatabasePath string
	MetadataPath string
	BackupsDir   string
}

// BootState is the observable state of the open protocol. Only the fields
// relevant to Phase are set.
type BootState struct {
	Phase Phase
	Path  string

	// WAITING_MATERIALIZATION
	StartedAt time.Time
	Timeout   time.Duration

	// MISSING
	Kind    ErrorKind
	Reason  Reason
	Message string

	// READY
	Result *OpenResult
}

// ErrIllegalTransition is returned by Publish for a transition the open
// protocol never makes. It indicates an integration bug.
var ErrIllegalTransition = errors.New("illegal boot state transition")

// StateMachine holds the single current BootState and notifies subscribers of
// every change, synchronously and in subscription order.
type StateMachine struct {
	mu      sync.Mutex
	current BootState
	subs    []subscriber
	nextID  int
}

type subscriber struct {
	id int
	fn func(BootState)
}

// NewStateMachine creates a state machine in PhaseUninitialized.
func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

// Current returns the last published state.
func (m *StateMachine) Current() BootState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Publish replaces the current state and notifies subscribers. Transitions the
// open protocol never makes are rejected with ErrIllegalTransition and leave
// the current state unchanged.
func (m *StateMachine) Publish(state BootState) error {
	m.mu.Lock()
	from := m.current.Phase
	if !legalTransition(from, state.Phase) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, state.Phase)
	}
	m.current = state
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	// Subscribers run outside the lock so they may call Current.
	for _, s := range subs {
		s.fn(state)
	}
	return nil
}

// Subscribe registers fn and returns a function that removes it.
func (m *StateMachine) Subscribe(fn func(BootState)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func legalTransition(from, to Phase) bool {
	switch to {
	case PhaseValidatePath, PhaseUninitialized:
		// A new attempt (or a reset) may start from anywhere, including a
		// cancelled wait.
		return true
	case PhaseWaitingMaterialization:
		return from == PhaseValidatePath
	case PhaseOpeningDB:
		return from == PhaseValidatePath || from == PhaseWaitingMaterialization
	case PhaseReady:
		return from == PhaseOpeningDB
	case PhaseMissing:
		return from == PhaseValidatePath || from == PhaseWaitingMaterialization || from == PhaseOpeningDB
	default:
		return false
	}
}
