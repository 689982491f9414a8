package loft

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Policy holds the timing and retry budget of the open protocol.
type Policy struct {
	// MaterializationTimeout bounds the wait for a cloud placeholder to download.
	MaterializationTimeout time.Duration
	// PollInterval is the delay between existence probes while waiting.
	PollInterval time.Duration
	// MaxOpenAttempts is the total number of open attempts under lock contention.
	MaxOpenAttempts int
	// RetryBaseDelay is the wait after the first failed attempt; it doubles after each.
	RetryBaseDelay time.Duration
}

// DefaultPolicy returns the standard open policy: 30s materialization wait
// polled every 500ms, and 3 open attempts backing off 500ms, 1s, 2s.
func DefaultPolicy() Policy {
	return Policy{
		MaterializationTimeout: 30 * time.Second,
		PollInterval:           500 * time.Millisecond,
		MaxOpenAttempts:        3,
		RetryBaseDelay:         500 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaterializationTimeout <= 0 {
		p.MaterializationTimeout = d.MaterializationTimeout
	}
	if p.PollInterval <= 0 {
		p.PollInterval = d.PollInterval
	}
	if p.MaxOpenAttempts <= 0 {
		p.MaxOpenAttempts = d.MaxOpenAttempts
	}
	if p.RetryBaseDelay <= 0 {
		p.RetryBaseDelay = d.RetryBaseDelay
	}
	return p
}

// Service is the workspace storage engine. It coordinates the gateway, the
// boot state machine, the workspace pointer and the optional offsite vault.
//
// Open and Forget are serialized service-wide because they share the single
// boot state slot; a subscriber must not call them synchronously. Other
// operations on the same path are serialized, and operations on different
// paths may run concurrently.
type Service struct {
	gateway    Gateway
	pointer    *WorkspacePointer
	states     *StateMachine
	classifier *PathClassifier
	logger     Logger
	clock      Clock
	policy     Policy

	vault     Vault
	encryptor Encryptor
	inspector Inspector

	openMu  sync.Mutex
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewService creates a Service with the provided dependencies, the default
// path classifier and DefaultPolicy.
func NewService(gateway Gateway, pointer *WorkspacePointer, states *StateMachine, logger Logger, clock Clock) *Service {
	return &Service{
		gateway:    gateway,
		pointer:    pointer,
		states:     states,
		classifier: NewPathClassifier(),
		logger:     logger,
		clock:      clock,
		policy:     DefaultPolicy(),
		locks:      make(map[string]*sync.Mutex),
	}
}

// SetPolicy replaces the open policy. Zero fields keep their defaults.
func (s *Service) SetPolicy(p Policy) { s.policy = p.withDefaults() }

// SetClassifier replaces the path classifier.
func (s *Service) SetClassifier(c *PathClassifier) { s.classifier = c }

// SetOffsite enables offsite backup copies.
func (s *Service) SetOffsite(v Vault, enc Encryptor) {
	s.vault = v
	s.encryptor = enc
}

// SetInspector enables deep database inspection in Status.
func (s *Service) SetInspector(i Inspector) { s.inspector = i }

// States returns the boot state machine, for subscribers.
func (s *Service) States() *StateMachine { return s.states }

// Pointer returns the workspace pointer.
func (s *Service) Pointer() *WorkspacePointer { return s.pointer }

// lockPath serializes operations on one workspace path and returns the unlock func.
func (s *Service) lockPath(path string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[path]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[path] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// Setup creates a workspace at path, or completes a partially created one.
// It never overwrites an existing database.
func (s *Service) Setup(ctx context.Context, path string) error {
	unlock := s.lockPath(path)
	defer unlock()

	if err := s.gateway.SetupWorkspace(ctx, path); err != nil {
		return classify(err, path, "setting up workspace")
	}
	s.logger.Info("workspace set up", "path", path)
	return nil
}

// Resume opens the workspace recorded in the pointer.
func (s *Service) Resume(ctx context.Context) (*OpenResult, error) {
	path := s.pointer.Current()
	if path == "" {
		return nil, ErrNoActiveWorkspace
	}
	return s.Open(ctx, path)
}

// Switch makes path the active workspace. The pointer is only moved if the
// open succeeds; on failure the previous workspace stays active.
func (s *Service) Switch(ctx context.Context, path string) (*OpenResult, error) {
	previous := s.pointer.Current()
	result, err := s.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if previous != "" && previous != path {
		s.logger.Info("active workspace switched", "from", previous, "to", path)
	}
	return result, nil
}

// Forget clears the active workspace.
func (s *Service) Forget() error {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	if err := s.pointer.Clear(); err != nil {
		return err
	}
	if err := s.states.Publish(BootState{Phase: PhaseUninitialized}); err != nil {
		return fmt.Errorf("publishing state: %w", err)
	}
	return nil
}
