// Package audit records an append-only trail of coordination lifecycle
// events. Append is the only mutation; events are never edited or deleted.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Level controls audit verbosity. Mandatory lifecycle events are recorded at
// every level.
type Level string

const (
	// LevelFull records every event.
	LevelFull Level = "full"
	// LevelSummary records only mandatory lifecycle events.
	LevelSummary Level = "summary"
)

// EventType names one lifecycle transition.
type EventType string

const (
	EventServerStarted     EventType = "server.started"
	EventServerPaused      EventType = "server.paused"
	EventServerResumed     EventType = "server.resumed"
	EventServerStopped     EventType = "server.stopped"
	EventAgentSpawned      EventType = "agent.spawned"
	EventAgentStopped      EventType = "agent.stopped"
	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowCompleted EventType = "workflow.completed"

	// Detail events, dropped at LevelSummary.
	EventToolCalled    EventType = "tool.called"
	EventMessageRouted EventType = "message.routed"
	EventPolicyUpdated EventType = "policy.updated"
)

// mandatory events are recorded regardless of level.
var mandatory = map[EventType]bool{
	EventServerStarted:     true,
	EventServerPaused:      true,
	EventServerResumed:     true,
	EventServerStopped:     true,
	EventAgentSpawned:      true,
	EventAgentStopped:      true,
	EventWorkflowStarted:   true,
	EventWorkflowCompleted: true,
}

// Event is one immutable, timestamped audit record.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entity_id,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, entity, entityID string) Event {
	return Event{Timestamp: time.Now().UTC(), Type: t, Entity: entity, EntityID: entityID}
}

// WithDetail attaches human-readable detail and returns the event.
func (e Event) WithDetail(format string, args ...any) Event {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// WithMetadata attaches one metadata entry and returns the event.
func (e Event) WithMetadata(key string, value any) Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// Logger is the append-only audit sink.
type Logger interface {
	Log(event Event)
	Close() error
}

// MemoryLogger keeps events in memory in append order. Events for a single
// entity are therefore causally ordered; no global ordering across entities
// is promised beyond append sequence.
type MemoryLogger struct {
	level  Level
	mu     sync.RWMutex
	events []Event
}

// NewMemoryLogger creates an in-memory audit logger.
func NewMemoryLogger(level Level) *MemoryLogger {
	if level == "" {
		level = LevelFull
	}
	return &MemoryLogger{level: level}
}

// Log appends an event, subject to the configured level.
func (l *MemoryLogger) Log(event Event) {
	if l.level == LevelSummary && !mandatory[event.Type] {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

// Events returns a copy of the recorded events in append order.
func (l *MemoryLogger) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := make([]Event, len(l.events))
	copy(events, l.events)
	return events
}

// EventsFor returns recorded events for one entity id, in append order.
func (l *MemoryLogger) EventsFor(entityID string) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var events []Event
	for _, e := range l.events {
		if e.EntityID == entityID {
			events = append(events, e)
		}
	}
	return events
}

// Close releases nothing; the in-memory log lives with the process.
func (l *MemoryLogger) Close() error {
	return nil
}

// JSONLogger writes one JSON object per event to an io.Writer, stdout by
// default.
type JSONLogger struct {
	level Level
	mu    sync.Mutex
	out   io.Writer
}

// NewJSONLogger creates a JSON audit logger writing to stdout.
func NewJSONLogger(level Level) *JSONLogger {
	return NewJSONLoggerTo(level, os.Stdout)
}

// NewJSONLoggerTo creates a JSON audit logger writing to the given writer.
func NewJSONLoggerTo(level Level, out io.Writer) *JSONLogger {
	if level == "" {
		level = LevelFull
	}
	return &JSONLogger{level: level, out: out}
}

// Log writes the event as a single JSON line.
func (l *JSONLogger) Log(event Event) {
	if l.level == LevelSummary && !mandatory[event.Type] {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("audit: failed to marshal event: %v", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(data))
}

// Close closes the underlying writer when it owns one. Stdout is left open.
func (l *JSONLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.out.(io.Closer); ok && l.out != io.Writer(os.Stdout) {
		return c.Close()
	}
	return nil
}

// NopLogger discards all events.
type NopLogger struct{}

// NewNopLogger creates a logger that discards everything.
func NewNopLogger() *NopLogger { return &NopLogger{} }

// Log does nothing.
func (NopLogger) Log(Event) {}

// Close does nothing.
func (NopLogger) Close() error { return nil }
