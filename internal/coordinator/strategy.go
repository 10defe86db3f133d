package coordinator

import (
	"sync"

	"github.com/lexgo-dev/lexgo/internal/agent"
	"github.com/lexgo-dev/lexgo/pkg/protocol"
)

// Strategy decides which registered agent runs a given step. Strategies are
// injected at server construction time.
type Strategy interface {
	Name() string

	// Assign picks an agent for the step from the pool, which is given in
	// registration order. An empty or unsuitable pool is an error.
	Assign(step *Step, pool []agent.Agent) (agent.Agent, error)
}

// RoundRobin distributes steps evenly across the pool, preferring agents
// whose kind matches the step's kind requirement.
type RoundRobin struct {
	mu   sync.Mutex
	next int
}

// NewRoundRobin creates a round-robin strategy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Name returns "round-robin".
func (s *RoundRobin) Name() string { return "round-robin" }

// Assign picks the next eligible agent in rotation.
func (s *RoundRobin) Assign(step *Step, pool []agent.Agent) (agent.Agent, error) {
	eligible := filterByKind(step.Kind, pool)
	if len(eligible) == 0 {
		return nil, protocol.Errorf(protocol.CodeWorkflowFailed,
			"no agent available for step %s (kind %q)", step.ID, step.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a := eligible[s.next%len(eligible)]
	s.next++
	return a, nil
}

// Hierarchical delegates each step to an agent of the step's kind and falls
// back to a designated manager kind when no specialist is registered.
type Hierarchical struct {
	managerKind string
}

// NewHierarchical creates a hierarchical strategy with the given manager
// kind.
func NewHierarchical(managerKind string) *Hierarchical {
	return &Hierarchical{managerKind: managerKind}
}

// Name returns "hierarchical".
func (s *Hierarchical) Name() string { return "hierarchical" }

// Assign delegates to a specialist for the step's kind, then to the manager.
func (s *Hierarchical) Assign(step *Step, pool []agent.Agent) (agent.Agent, error) {
	if specialists := filterByKind(step.Kind, pool); len(specialists) > 0 {
		return specialists[0], nil
	}

	if managers := filterByKind(s.managerKind, pool); len(managers) > 0 {
		return managers[0], nil
	}

	return nil, protocol.Errorf(protocol.CodeWorkflowFailed,
		"no agent of kind %q and no %q manager for step %s", step.Kind, s.managerKind, step.ID)
}

// filterByKind returns agents matching kind; an empty kind matches all.
func filterByKind(kind string, pool []agent.Agent) []agent.Agent {
	if kind == "" {
		return pool
	}
	var out []agent.Agent
	for _, a := range pool {
		if a.Kind() == kind {
			out = append(out, a)
		}
	}
	return out
}

// NewStrategy builds a strategy by name. Unknown names fall back to
// round-robin.
func NewStrategy(name, managerKind string) Strategy {
	switch name {
	case "hierarchical":
		if managerKind == "" {
			managerKind = "supervisor"
		}
		return NewHierarchical(managerKind)
	default:
		return NewRoundRobin()
	}
}
