// Package agent defines the worker unit the coordinator dispatches to, and
// the manager that owns every live agent for its lifetime.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/lexgo-dev/lexgo/pkg/memory"
)

// Config is the immutable spawn configuration of an agent.
type Config map[string]any

// Task is one unit of work handed to an agent during workflow execution.
type Task struct {
	WorkflowID string
	StepID     string
	Input      map[string]any
	// Shared is the workflow-scoped memory the agent may read and write to
	// exchange intermediate results.
	Shared *memory.Scope
}

// InboxMessage is one inter-agent message accepted for delivery.
type InboxMessage struct {
	From       string
	Payload    string
	ReceivedAt time.Time
}

// Agent is an independently tracked worker of a declared kind. The internal
// behavior of a kind is opaque to the coordinator; only this surface is
// relied upon.
type Agent interface {
	ID() string
	Kind() string

	// Execute processes one task synchronously. Implementations must be
	// safe for concurrent use.
	Execute(ctx context.Context, task *Task) (map[string]any, error)

	// Deliver offers an inter-agent message. It reports whether the message
	// was accepted for delivery; it never blocks.
	Deliver(msg InboxMessage) bool

	// Stop releases the agent's resources. Safe to call more than once.
	Stop(ctx context.Context) error
}

// Factory constructs an agent of one kind from its spawn configuration.
type Factory func(id string, config Config) (Agent, error)

const inboxSize = 100

// Base carries the identity, configuration, and inbox shared by agent
// implementations. Embed it and implement Execute.
type Base struct {
	id     string
	kind   string
	config Config

	inbox    chan InboxMessage
	stopOnce sync.Once
	mu       sync.RWMutex
	stopped  bool
}

// NewBase creates the common agent core.
func NewBase(id, kind string, config Config) *Base {
	return &Base{
		id:     id,
		kind:   kind,
		config: config,
		inbox:  make(chan InboxMessage, inboxSize),
	}
}

// ID returns the agent's unique id.
func (b *Base) ID() string { return b.id }

// Kind returns the agent's kind tag.
func (b *Base) Kind() string { return b.kind }

// Config returns the immutable spawn configuration.
func (b *Base) Config() Config { return b.config }

// Deliver offers a message to the inbox without blocking.
func (b *Base) Deliver(msg InboxMessage) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return false
	}

	select {
	case b.inbox <- msg:
		return true
	default:
		return false
	}
}

// Inbox returns the receive side of the agent's message channel.
func (b *Base) Inbox() <-chan InboxMessage { return b.inbox }

// Stop closes the inbox. Idempotent.
func (b *Base) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()
		close(b.inbox)
	})
	return nil
}

// Worker is the built-in general-purpose agent kind. It echoes its task
// input back as output and records its contribution in shared memory, which
// is enough for coordination tests and as a template for domain kinds
// (contract-analyzer, researcher, compliance-checker, drafter) that plug in
// their own Execute.
type Worker struct {
	*Base
}

// WorkerFactory returns a Factory producing Workers tagged with the given
// kind.
func WorkerFactory(kind string) Factory {
	return func(id string, config Config) (Agent, error) {
		return &Worker{Base: NewBase(id, kind, config)}, nil
	}
}

// Execute echoes the task input and notes the executing agent.
func (w *Worker) Execute(ctx context.Context, task *Task) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	output := map[string]any{
		"agent": w.ID(),
		"kind":  w.Kind(),
		"step":  task.StepID,
	}
	for k, v := range task.Input {
		output[k] = v
	}

	if task.Shared != nil {
		if err := task.Shared.Put(ctx, "step:"+task.StepID, output); err != nil {
			return nil, err
		}
	}

	return output, nil
}
