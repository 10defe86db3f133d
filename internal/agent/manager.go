package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexgo-dev/lexgo/pkg/audit"
	"github.com/lexgo-dev/lexgo/pkg/observability"
	"github.com/lexgo-dev/lexgo/pkg/protocol"
	"github.com/lexgo-dev/lexgo/pkg/security"
)

// Registrar is notified of agent lifecycle so agents become eligible for
// workflow assignment. The coordinator implements it.
type Registrar interface {
	RegisterAgent(a Agent)
	UnregisterAgent(id string)
}

// Manager owns every live agent and enforces the spawn protocol: security
// check, capacity check, construct, audit, coordinator registration,
// registry insert — strictly in that order.
type Manager struct {
	maxAgents int
	sec       *security.Context
	auditor   audit.Logger
	registrar Registrar

	mu        sync.RWMutex
	agents    map[string]Agent
	reserved  int
	factories map[string]Factory
}

// NewManager creates an agent manager. maxAgents <= 0 means unlimited.
func NewManager(maxAgents int, sec *security.Context, auditor audit.Logger) *Manager {
	return &Manager{
		maxAgents: maxAgents,
		sec:       sec,
		auditor:   auditor,
		agents:    make(map[string]Agent),
		factories: make(map[string]Factory),
	}
}

// SetRegistrar wires the coordinator in. Must be called before Spawn.
func (m *Manager) SetRegistrar(r Registrar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrar = r
}

// RegisterKind makes an agent kind spawnable.
func (m *Manager) RegisterKind(kind string, factory Factory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if kind == "" {
		return protocol.Errorf(protocol.CodeInvalidParams, "agent kind must not be empty")
	}
	if _, exists := m.factories[kind]; exists {
		return protocol.Errorf(protocol.CodeInvalidParams, "agent kind %q already registered", kind)
	}
	m.factories[kind] = factory
	return nil
}

// Kinds returns the registered agent kinds in sorted order.
func (m *Manager) Kinds() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kinds := make([]string, 0, len(m.factories))
	for k := range m.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Spawn creates and registers a new agent of the given kind.
//
// A rejection by the security context or the capacity check leaves no trace:
// no registry mutation and no audit event. The capacity limit is enforced
// with a reservation taken under the registry lock, so concurrent spawns can
// never transiently exceed it.
func (m *Manager) Spawn(ctx context.Context, kind string, config Config) (string, error) {
	if err := m.sec.ValidateAgentSpawn(kind, config); err != nil {
		observability.RecordAgentSpawn(kind, "denied")
		return "", err
	}

	if err := m.reserve(); err != nil {
		observability.RecordAgentSpawn(kind, "capacity")
		return "", err
	}

	agent, err := m.construct(kind, config)
	if err != nil {
		m.release()
		observability.RecordAgentSpawn(kind, "failed")
		return "", err
	}

	m.auditor.Log(audit.NewEvent(audit.EventAgentSpawned, "agent", agent.ID()).
		WithDetail("spawned %s agent", kind).
		WithMetadata("kind", kind))
	observability.RecordAuditEvent(string(audit.EventAgentSpawned))

	// Registered with the coordinator before becoming visible in the
	// registry, so a registered agent is always assignable.
	if m.registrar != nil {
		m.registrar.RegisterAgent(agent)
	}

	m.mu.Lock()
	m.agents[agent.ID()] = agent
	m.reserved--
	count := len(m.agents)
	m.mu.Unlock()

	observability.RecordAgentSpawn(kind, "spawned")
	observability.SetActiveAgents(count)
	return agent.ID(), nil
}

// Stop removes an agent from the registry and releases its resources.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	agent, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return protocol.Errorf(protocol.CodeAgentNotFound, "agent not found: %s", id)
	}
	delete(m.agents, id)
	count := len(m.agents)
	m.mu.Unlock()

	if m.registrar != nil {
		m.registrar.UnregisterAgent(id)
	}

	// The agent left the registry above, so the stop is audited even when
	// its shutdown fails.
	stopErr := agent.Stop(ctx)

	m.auditor.Log(audit.NewEvent(audit.EventAgentStopped, "agent", id).
		WithMetadata("kind", agent.Kind()))
	observability.RecordAuditEvent(string(audit.EventAgentStopped))
	observability.SetActiveAgents(count)
	return stopErr
}

// StopAll stops every registered agent sequentially over a snapshot taken at
// call time. Used during server shutdown; each agent is stopped exactly
// once even if agents are removed concurrently.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.agents))
	for id := range m.agents {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	var firstErr error
	for _, id := range ids {
		err := m.Stop(ctx, id)
		if err != nil && !protocol.HasCode(err, protocol.CodeAgentNotFound) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Get returns a registered agent by id.
func (m *Manager) Get(id string) (Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent, ok := m.agents[id]
	if !ok {
		return nil, protocol.Errorf(protocol.CodeAgentNotFound, "agent not found: %s", id)
	}
	return agent, nil
}

// Count returns the number of registered agents.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents)
}

// Route delivers a payload from one agent to another and reports whether it
// was accepted. The sender must exist; an unknown recipient is a domain
// error.
func (m *Manager) Route(ctx context.Context, from, to, payload string) (bool, error) {
	m.mu.RLock()
	_, senderOK := m.agents[from]
	recipient, recipientOK := m.agents[to]
	m.mu.RUnlock()

	if !senderOK {
		return false, protocol.Errorf(protocol.CodeAgentNotFound, "sender not found: %s", from)
	}
	if !recipientOK {
		return false, protocol.Errorf(protocol.CodeAgentNotFound, "recipient not found: %s", to)
	}

	accepted := recipient.Deliver(InboxMessage{
		From:       from,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	})

	m.auditor.Log(audit.NewEvent(audit.EventMessageRouted, "agent", to).
		WithMetadata("from", from).
		WithMetadata("accepted", accepted))
	return accepted, nil
}

func (m *Manager) reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxAgents > 0 && len(m.agents)+m.reserved >= m.maxAgents {
		return protocol.Errorf(protocol.CodeAgentSpawnFailed,
			"agent capacity reached (%d)", m.maxAgents)
	}
	m.reserved++
	return nil
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserved--
}

func (m *Manager) construct(kind string, config Config) (Agent, error) {
	m.mu.RLock()
	factory, ok := m.factories[kind]
	m.mu.RUnlock()

	if !ok {
		return nil, protocol.Errorf(protocol.CodeAgentSpawnFailed, "unknown agent kind: %s", kind)
	}

	agent, err := factory(uuid.New().String(), config)
	if err != nil {
		return nil, protocol.Errorf(protocol.CodeAgentSpawnFailed,
			"construct %s agent: %v", kind, err)
	}
	return agent, nil
}
