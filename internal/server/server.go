package server

import (
	"context"
	"log"
	"sync"

	"github.com/lexgo-dev/lexgo/internal/agent"
	"github.com/lexgo-dev/lexgo/internal/coordinator"
	"github.com/lexgo-dev/lexgo/pkg/audit"
	"github.com/lexgo-dev/lexgo/pkg/memory"
	"github.com/lexgo-dev/lexgo/pkg/observability"
	"github.com/lexgo-dev/lexgo/pkg/protocol"
	"github.com/lexgo-dev/lexgo/pkg/security"
)

// State is the server lifecycle state.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

const defaultMaxAgents = 32

// Server ties the protocol surface to the agent manager, the coordinator,
// the security context, and the audit trail. Spawn and workflow requests are
// accepted only while Running; read-only requests are also served while
// Paused.
type Server struct {
	name    string
	version string

	sec       *security.Context
	auditor   audit.Logger
	store     memory.Store
	manager   *agent.Manager
	coord     *coordinator.Coordinator
	resources *ResourceRegistry
	tools     *ToolRegistry
	limiter   *security.RateLimiter

	mu          sync.RWMutex
	state       State
	errReason   string
	initialized bool
	clientName  string
}

// Option configures a Server at construction time.
type Option func(*options)

type options struct {
	policy    security.Policy
	auditor   audit.Logger
	store     memory.Store
	strategy  coordinator.Strategy
	maxAgents int
	limiter   *security.RateLimiter
}

// WithPolicy sets the security policy.
func WithPolicy(policy security.Policy) Option {
	return func(o *options) { o.policy = policy }
}

// WithAuditLogger sets the audit sink.
func WithAuditLogger(auditor audit.Logger) Option {
	return func(o *options) { o.auditor = auditor }
}

// WithMemoryStore sets the shared memory backend.
func WithMemoryStore(store memory.Store) Option {
	return func(o *options) { o.store = store }
}

// WithStrategy sets the coordination strategy.
func WithStrategy(strategy coordinator.Strategy) Option {
	return func(o *options) { o.strategy = strategy }
}

// WithMaxAgents caps the number of live agents.
func WithMaxAgents(n int) Option {
	return func(o *options) { o.maxAgents = n }
}

// WithRateLimiter gates request dispatch.
func WithRateLimiter(limiter *security.RateLimiter) Option {
	return func(o *options) { o.limiter = limiter }
}

// New creates a server in the Starting state. Call Start to accept requests.
func New(name, version string, opts ...Option) *Server {
	o := &options{
		policy:    security.DefaultPolicy(),
		auditor:   audit.NewNopLogger(),
		store:     memory.NewInMemoryStore(0),
		strategy:  coordinator.NewRoundRobin(),
		maxAgents: defaultMaxAgents,
	}
	for _, opt := range opts {
		opt(o)
	}

	sec := security.NewContext(o.policy)
	coord := coordinator.New(o.strategy, sec, o.auditor, o.store)
	manager := agent.NewManager(o.maxAgents, sec, o.auditor)
	manager.SetRegistrar(coord)

	return &Server{
		name:      name,
		version:   version,
		sec:       sec,
		auditor:   o.auditor,
		store:     o.store,
		manager:   manager,
		coord:     coord,
		resources: NewResourceRegistry(),
		tools:     NewToolRegistry(),
		limiter:   o.limiter,
		state:     StateStarting,
	}
}

// Name returns the server name.
func (s *Server) Name() string { return s.name }

// Version returns the server build version.
func (s *Server) Version() string { return s.version }

// Manager returns the agent manager.
func (s *Server) Manager() *agent.Manager { return s.manager }

// Coordinator returns the workflow coordinator.
func (s *Server) Coordinator() *coordinator.Coordinator { return s.coord }

// Security returns the security context.
func (s *Server) Security() *security.Context { return s.sec }

// Resources returns the resource registry.
func (s *Server) Resources() *ResourceRegistry { return s.resources }

// Tools returns the tool registry.
func (s *Server) Tools() *ToolRegistry { return s.tools }

// State returns the lifecycle state and, for StateError, the fault reason.
func (s *Server) State() (State, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.errReason
}

// Healthy reports whether the server is serving requests.
func (s *Server) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateRunning || s.state == StatePaused
}

// Start moves the server to Running and records the start in the audit
// trail.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStarting {
		state := s.state
		s.mu.Unlock()
		return protocol.Errorf(protocol.CodeInvalidRequest, "cannot start server in state %s", state)
	}
	s.state = StateRunning
	s.mu.Unlock()

	s.auditor.Log(audit.NewEvent(audit.EventServerStarted, "server", s.name).
		WithMetadata("version", s.version))
	observability.RecordAuditEvent(string(audit.EventServerStarted))
	log.Printf("server %s started (version %s)", s.name, s.version)
	return nil
}

// Pause suspends spawn and workflow handling while keeping reads available.
func (s *Server) Pause() error {
	s.mu.Lock()
	if s.state != StateRunning {
		state := s.state
		s.mu.Unlock()
		return protocol.Errorf(protocol.CodeInvalidRequest, "cannot pause server in state %s", state)
	}
	s.state = StatePaused
	s.mu.Unlock()

	s.auditor.Log(audit.NewEvent(audit.EventServerPaused, "server", s.name))
	observability.RecordAuditEvent(string(audit.EventServerPaused))
	return nil
}

// Resume returns a paused server to Running.
func (s *Server) Resume() error {
	s.mu.Lock()
	if s.state != StatePaused {
		state := s.state
		s.mu.Unlock()
		return protocol.Errorf(protocol.CodeInvalidRequest, "cannot resume server in state %s", state)
	}
	s.state = StateRunning
	s.mu.Unlock()

	s.auditor.Log(audit.NewEvent(audit.EventServerResumed, "server", s.name))
	observability.RecordAuditEvent(string(audit.EventServerResumed))
	return nil
}

// Fail moves the server to the Error state. Only server-wide faults use
// this; per-operation failures surface as error responses instead.
func (s *Server) Fail(reason string) {
	s.mu.Lock()
	s.state = StateError
	s.errReason = reason
	s.mu.Unlock()
	log.Printf("server %s entered error state: %s", s.name, reason)
}

// Stop shuts the server down: every agent is stopped exactly once, then
// in-flight workflows are cancelled, and the shutdown itself is the final
// entry in the audit trail. Idempotent.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped || s.state == StateStopping {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	s.mu.Unlock()

	if err := s.manager.StopAll(ctx); err != nil {
		log.Printf("server %s: stopping agents: %v", s.name, err)
	}
	if err := s.coord.Stop(ctx); err != nil {
		log.Printf("server %s: stopping coordinator: %v", s.name, err)
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	s.auditor.Log(audit.NewEvent(audit.EventServerStopped, "server", s.name))
	observability.RecordAuditEvent(string(audit.EventServerStopped))
	if err := s.auditor.Close(); err != nil {
		log.Printf("server %s: closing audit logger: %v", s.name, err)
	}
	log.Printf("server %s stopped", s.name)
	return nil
}

// markInitialized records a completed handshake and the client identity used
// to key per-client rate limiting. Repeating the handshake has no further
// effect.
func (s *Server) markInitialized(clientName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	if clientName != "" {
		s.clientName = clientName
	}
}

// clientID returns the stable client identity captured at Initialize, or ""
// before any handshake.
func (s *Server) clientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientName
}

// Initialized reports whether a client completed the handshake.
func (s *Server) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// ensureRunning gates state-mutating requests.
func (s *Server) ensureRunning() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateRunning {
		return protocol.Errorf(protocol.CodeInvalidRequest, "server is %s", s.state)
	}
	return nil
}

// ensureServing gates read-only requests, which are also served while
// Paused.
func (s *Server) ensureServing() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateRunning && s.state != StatePaused {
		return protocol.Errorf(protocol.CodeInvalidRequest, "server is %s", s.state)
	}
	return nil
}
