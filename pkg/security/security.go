// Package security gates privileged coordination operations behind a
// configurable policy. Validation is synchronous and side-effect-free; it
// must pass before any registry mutation.
package security

import (
	"sync"

	"github.com/lexgo-dev/lexgo/pkg/protocol"
)

// Level selects how strictly the policy is interpreted.
type Level string

const (
	// LevelStrict denies any agent or workflow kind not explicitly allowed.
	LevelStrict Level = "strict"
	// LevelStandard enforces allow-lists only when they are non-empty.
	LevelStandard Level = "standard"
	// LevelPermissive allows any well-formed request.
	LevelPermissive Level = "permissive"
)

// Policy holds the validation rules applied to spawn and workflow requests.
type Policy struct {
	Level                Level    `yaml:"level"`
	AllowedAgentKinds    []string `yaml:"allowed_agent_kinds"`
	AllowedWorkflowKinds []string `yaml:"allowed_workflow_kinds"`
	RequireSandbox       bool     `yaml:"require_sandbox"`
	MaxWorkflowSteps     int      `yaml:"max_workflow_steps"`
}

// DefaultPolicy returns a standard-level policy with no kind restrictions.
func DefaultPolicy() Policy {
	return Policy{Level: LevelStandard}
}

// Context is the per-server security gate. Reads (validation, policy
// queries) proceed concurrently; policy updates take exclusive access.
type Context struct {
	mu     sync.RWMutex
	policy Policy
}

// NewContext creates a security context with the given policy.
func NewContext(policy Policy) *Context {
	if policy.Level == "" {
		policy.Level = LevelStandard
	}
	return &Context{policy: policy}
}

// Policy returns a copy of the current policy.
func (c *Context) Policy() Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy
}

// UpdatePolicy replaces the current policy. Updates block new validation
// reads until released.
func (c *Context) UpdatePolicy(policy Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if policy.Level == "" {
		policy.Level = LevelStandard
	}
	c.policy = policy
}

// ValidateAgentSpawn checks a (kind, config) pair against the policy.
// Rejections carry CodeSecurityViolation.
func (c *Context) ValidateAgentSpawn(kind string, config map[string]any) error {
	c.mu.RLock()
	policy := c.policy
	c.mu.RUnlock()

	if kind == "" {
		return protocol.Errorf(protocol.CodeSecurityViolation, "agent kind must not be empty")
	}

	if !policy.kindAllowed(kind, policy.AllowedAgentKinds) {
		return protocol.Errorf(protocol.CodeSecurityViolation,
			"agent kind %q not allowed by %s policy", kind, policy.Level).
			WithData("kind", kind)
	}

	if policy.RequireSandbox && !sandboxed(config) {
		return protocol.Errorf(protocol.CodeSecurityViolation,
			"policy requires sandboxed agents").WithData("kind", kind)
	}

	return nil
}

// ValidateWorkflow checks a workflow definition against the policy.
// Rejections carry CodeSecurityViolation.
func (c *Context) ValidateWorkflow(kind string, stepCount int) error {
	c.mu.RLock()
	policy := c.policy
	c.mu.RUnlock()

	if kind == "" {
		return protocol.Errorf(protocol.CodeSecurityViolation, "workflow kind must not be empty")
	}

	if !policy.kindAllowed(kind, policy.AllowedWorkflowKinds) {
		return protocol.Errorf(protocol.CodeSecurityViolation,
			"workflow kind %q not allowed by %s policy", kind, policy.Level).
			WithData("kind", kind)
	}

	if policy.MaxWorkflowSteps > 0 && stepCount > policy.MaxWorkflowSteps {
		return protocol.Errorf(protocol.CodeSecurityViolation,
			"workflow exceeds %d step limit", policy.MaxWorkflowSteps).
			WithData("steps", stepCount)
	}

	return nil
}

func (p Policy) kindAllowed(kind string, allowed []string) bool {
	if len(allowed) == 0 {
		// Strict mode has no implicit allowances.
		return p.Level != LevelStrict
	}
	if p.Level == LevelPermissive {
		return true
	}
	for _, k := range allowed {
		if k == kind {
			return true
		}
	}
	return false
}

func sandboxed(config map[string]any) bool {
	v, ok := config["sandbox"].(bool)
	return ok && v
}
