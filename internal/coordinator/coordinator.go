// Package coordinator routes workflow steps to registered agents through a
// pluggable coordination strategy and tracks every workflow from start to
// terminal status.
package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lexgo-dev/lexgo/internal/agent"
	"github.com/lexgo-dev/lexgo/pkg/audit"
	"github.com/lexgo-dev/lexgo/pkg/memory"
	"github.com/lexgo-dev/lexgo/pkg/observability"
	"github.com/lexgo-dev/lexgo/pkg/protocol"
	"github.com/lexgo-dev/lexgo/pkg/security"
)

// Coordinator applies the configured strategy to drive workflows across the
// registered agent pool. It implements agent.Registrar.
type Coordinator struct {
	strategy Strategy
	sec      *security.Context
	auditor  audit.Logger
	store    memory.Store

	mu        sync.RWMutex
	agents    map[string]agent.Agent
	order     []string // registration order, for deterministic assignment
	defs      map[string]Definition
	workflows map[string]*Workflow
	cancels   map[string]context.CancelFunc
	stopped   bool

	wg sync.WaitGroup
}

// New creates a coordinator with the given strategy and collaborators.
func New(strategy Strategy, sec *security.Context, auditor audit.Logger, store memory.Store) *Coordinator {
	return &Coordinator{
		strategy:  strategy,
		sec:       sec,
		auditor:   auditor,
		store:     store,
		agents:    make(map[string]agent.Agent),
		defs:      make(map[string]Definition),
		workflows: make(map[string]*Workflow),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Strategy returns the active coordination strategy.
func (c *Coordinator) Strategy() Strategy { return c.strategy }

// RegisterAgent makes an agent eligible for step assignment.
func (c *Coordinator) RegisterAgent(a agent.Agent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.agents[a.ID()]; exists {
		return
	}
	c.agents[a.ID()] = a
	c.order = append(c.order, a.ID())
}

// UnregisterAgent removes an agent from the assignable pool.
func (c *Coordinator) UnregisterAgent(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.agents[id]; !exists {
		return
	}
	delete(c.agents, id)
	for i, n := range c.order {
		if n == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Agents returns the assignable pool in registration order.
func (c *Coordinator) Agents() []agent.Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pool := make([]agent.Agent, 0, len(c.order))
	for _, id := range c.order {
		pool = append(pool, c.agents[id])
	}
	return pool
}

// RegisterDefinition registers a workflow template under its kind.
func (c *Coordinator) RegisterDefinition(def Definition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if def.Kind == "" {
		return protocol.Errorf(protocol.CodeInvalidParams, "workflow kind must not be empty")
	}
	if len(def.Steps) == 0 {
		return protocol.Errorf(protocol.CodeInvalidParams, "workflow %q has no steps", def.Kind)
	}
	if _, exists := c.defs[def.Kind]; exists {
		return protocol.Errorf(protocol.CodeInvalidParams, "workflow kind %q already registered", def.Kind)
	}
	c.defs[def.Kind] = def
	return nil
}

// Definitions returns the registered workflow kinds in sorted order.
func (c *Coordinator) Definitions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	kinds := make([]string, 0, len(c.defs))
	for k := range c.defs {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Start validates, registers, and asynchronously executes a workflow of the
// given kind.
//
// A security rejection stores nothing and audits nothing. Once the workflow
// is stored, its start and its completion each produce exactly one audit
// event, in that order.
func (c *Coordinator) Start(ctx context.Context, kind string, config map[string]any) (*Workflow, error) {
	c.mu.RLock()
	stopped := c.stopped
	def, known := c.defs[kind]
	c.mu.RUnlock()

	if stopped {
		return nil, protocol.Errorf(protocol.CodeInvalidRequest, "coordinator is stopped")
	}

	if !known {
		return nil, protocol.Errorf(protocol.CodeWorkflowFailed, "unknown workflow kind: %s", kind)
	}
	// The policy check runs against the registered definition, so step-count
	// rules always see the real step count.
	if err := c.sec.ValidateWorkflow(kind, len(def.Steps)); err != nil {
		return nil, err
	}

	steps := make([]Step, len(def.Steps))
	copy(steps, def.Steps)
	wf := newWorkflow(uuid.New().String(), kind, config, steps)

	// The run context detaches from the caller so a short-lived request
	// context does not cancel the execution it started.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		cancel()
		return nil, protocol.Errorf(protocol.CodeInvalidRequest, "coordinator is stopped")
	}
	c.workflows[wf.ID] = wf
	c.cancels[wf.ID] = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	c.auditor.Log(audit.NewEvent(audit.EventWorkflowStarted, "workflow", wf.ID).
		WithMetadata("kind", kind).
		WithMetadata("steps", len(steps)))
	observability.RecordAuditEvent(string(audit.EventWorkflowStarted))

	go func() {
		defer c.wg.Done()
		defer c.clearCancel(wf.ID)
		c.run(runCtx, wf)
	}()

	return wf, nil
}

// Get returns a tracked workflow by id.
func (c *Coordinator) Get(id string) (*Workflow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	wf, ok := c.workflows[id]
	if !ok {
		return nil, protocol.Errorf(protocol.CodeWorkflowFailed, "workflow not found: %s", id)
	}
	return wf, nil
}

// Workflows returns all tracked workflows, completed ones included.
func (c *Coordinator) Workflows() []*Workflow {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Workflow, 0, len(c.workflows))
	for _, wf := range c.workflows {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Await blocks until the workflow finishes or the context is done.
func (c *Coordinator) Await(ctx context.Context, id string) (*Result, error) {
	wf, err := c.Get(id)
	if err != nil {
		return nil, err
	}

	select {
	case <-wf.Done():
		result, _ := wf.Result()
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop halts in-flight coordination: all running workflows are cancelled and
// awaited, then the agent pool is released. Called during server shutdown
// after agents have been stopped.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	cancels := make([]context.CancelFunc, 0, len(c.cancels))
	for _, cancel := range c.cancels {
		cancels = append(cancels, cancel)
	}
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	c.agents = make(map[string]agent.Agent)
	c.order = nil
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) clearCancel(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cancels, id)
}

func (c *Coordinator) run(ctx context.Context, wf *Workflow) {
	ctx, span := observability.StartSpan(ctx, "coordinator.workflow",
		trace.WithAttributes(
			attribute.String("workflow.id", wf.ID),
			attribute.String("workflow.kind", wf.Kind),
			attribute.String("strategy", c.strategy.Name()),
			attribute.Int("workflow.steps", len(wf.Steps)),
		),
	)
	defer span.End()

	start := time.Now()
	wf.markRunning()

	scope := memory.ScopeFor(c.store, wf.ID)
	outputs := make(map[string]map[string]any)
	err := c.runSteps(ctx, wf, scope, outputs)

	result := &Result{WorkflowID: wf.ID, Status: StatusCompleted, Outputs: outputs}
	if err != nil {
		result.Status = StatusFailed
		result.Err = err.Error()
		span.RecordError(err)
	}
	wf.finish(result)

	// Failures are audited as completion with the failure result, never
	// silently dropped.
	c.auditor.Log(audit.NewEvent(audit.EventWorkflowCompleted, "workflow", wf.ID).
		WithMetadata("kind", wf.Kind).
		WithMetadata("status", string(result.Status)))
	observability.RecordAuditEvent(string(audit.EventWorkflowCompleted))
	observability.RecordWorkflow(wf.Kind, string(result.Status), time.Since(start))
}

// runSteps executes the step list in order. Consecutive steps sharing a
// non-empty group run concurrently.
func (c *Coordinator) runSteps(ctx context.Context, wf *Workflow, scope *memory.Scope, outputs map[string]map[string]any) error {
	i := 0
	for i < len(wf.Steps) {
		group := wf.Steps[i].Group
		if group == "" {
			step := wf.Steps[i]
			out, err := c.runStep(ctx, wf, &step, scope)
			if err != nil {
				return err
			}
			outputs[step.ID] = out
			i++
			continue
		}

		j := i
		for j < len(wf.Steps) && wf.Steps[j].Group == group {
			j++
		}

		g, gctx := errgroup.WithContext(ctx)
		var mu sync.Mutex
		for _, step := range wf.Steps[i:j] {
			g.Go(func() error {
				out, err := c.runStep(gctx, wf, &step, scope)
				if err != nil {
					return err
				}
				mu.Lock()
				outputs[step.ID] = out
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		i = j
	}
	return nil
}

func (c *Coordinator) runStep(ctx context.Context, wf *Workflow, step *Step, scope *memory.Scope) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, protocol.Errorf(protocol.CodeWorkflowFailed, "step %s cancelled", step.ID)
	}

	assignee, err := c.strategy.Assign(step, c.Agents())
	if err != nil {
		return nil, err
	}

	input := make(map[string]any, len(wf.Config)+len(step.Input))
	for k, v := range wf.Config {
		input[k] = v
	}
	for k, v := range step.Input {
		input[k] = v
	}

	out, err := assignee.Execute(ctx, &agent.Task{
		WorkflowID: wf.ID,
		StepID:     step.ID,
		Input:      input,
		Shared:     scope,
	})
	if err != nil {
		return nil, protocol.Errorf(protocol.CodeWorkflowFailed,
			"step %s failed on agent %s: %v", step.ID, assignee.ID(), err)
	}
	return out, nil
}
