package coordinator

import (
	"sync"
	"time"
)

// Status is the lifecycle state of a workflow.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Step is one unit of a workflow. Steps with the same non-empty Group run
// concurrently; group membership must be contiguous in the step list.
type Step struct {
	ID    string         `yaml:"id"`
	Kind  string         `yaml:"kind"`
	Group string         `yaml:"group"`
	Input map[string]any `yaml:"input"`
}

// Definition is a registered workflow template, instantiated per start
// request with the caller's config merged into each step's input.
type Definition struct {
	Kind  string `yaml:"kind"`
	Steps []Step `yaml:"steps"`
}

// Result is the terminal outcome of one workflow execution.
type Result struct {
	WorkflowID string
	Status     Status
	// Outputs maps step id to that step's output.
	Outputs map[string]map[string]any
	Err     string
}

// Workflow is one tracked execution. It is retained in the registry after
// completion for introspection.
type Workflow struct {
	ID     string
	Kind   string
	Config map[string]any
	Steps  []Step

	mu          sync.RWMutex
	status      Status
	result      *Result
	startedAt   time.Time
	completedAt time.Time
	done        chan struct{}
}

func newWorkflow(id, kind string, config map[string]any, steps []Step) *Workflow {
	return &Workflow{
		ID:     id,
		Kind:   kind,
		Config: config,
		Steps:  steps,
		status: StatusPending,
		done:   make(chan struct{}),
	}
}

// Status returns the current lifecycle state.
func (w *Workflow) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Result returns the terminal result, if the workflow has finished.
func (w *Workflow) Result() (*Result, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.result, w.result != nil
}

// Done is closed when the workflow reaches a terminal status.
func (w *Workflow) Done() <-chan struct{} {
	return w.done
}

func (w *Workflow) markRunning() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = StatusRunning
	w.startedAt = time.Now().UTC()
}

func (w *Workflow) finish(result *Result) {
	w.mu.Lock()
	w.status = result.Status
	w.result = result
	w.completedAt = time.Now().UTC()
	w.mu.Unlock()
	close(w.done)
}

// Duration returns how long the workflow ran, or zero if unfinished.
func (w *Workflow) Duration() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.completedAt.IsZero() {
		return 0
	}
	return w.completedAt.Sub(w.startedAt)
}
