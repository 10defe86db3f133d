package protocol

import (
	"encoding/json"
)

// Version is the protocol version this package speaks. Initialize requests
// carrying any other version are rejected.
const Version = "1.0"

// Type identifies one variant of the closed protocol message set.
type Type string

const (
	TypeInitialize          Type = "initialize"
	TypeInitializeResult    Type = "initialize_result"
	TypeListResources       Type = "resources/list"
	TypeListResourcesResult Type = "resources/list_result"
	TypeReadResource        Type = "resources/read"
	TypeReadResourceResult  Type = "resources/read_result"
	TypeCallTool            Type = "tools/call"
	TypeCallToolResult      Type = "tools/call_result"
	TypeSpawnAgent          Type = "agents/spawn"
	TypeAgentSpawned        Type = "agents/spawned"
	TypeSendMessage         Type = "agents/send"
	TypeMessageReceived     Type = "agents/received"
	TypeStartWorkflow       Type = "workflows/start"
	TypeWorkflowStarted     Type = "workflows/started"
	TypeError               Type = "error"
	TypeNotification        Type = "notification"
)

// Message is one tagged protocol message. Messages are immutable once
// constructed and are passed by value across the transport boundary.
//
// ID is the caller-supplied correlation id shared by a request/response
// pair. Notifications carry no id.
type Message struct {
	Type    Type
	ID      string
	Payload Payload
}

// Payload is implemented by every concrete message payload. The method is
// unexported so the set of variants is closed to this package.
type Payload interface {
	payloadType() Type
}

// ClientInfo identifies the connecting client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo identifies the server in an InitializeResult.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities are the capability flags announced by the client.
type ClientCapabilities struct {
	Sampling bool `json:"sampling,omitempty"`
	Roots    bool `json:"roots,omitempty"`
}

// ServerCapabilities are the capability flags the server returns from
// Initialize.
type ServerCapabilities struct {
	Resources ResourceCapabilities `json:"resources"`
	Tools     ToolCapabilities     `json:"tools"`
	Agents    AgentCapabilities    `json:"agents"`
	Workflows WorkflowCapabilities `json:"workflows"`
}

// ResourceCapabilities describes resource-related capabilities.
type ResourceCapabilities struct {
	Subscribe bool `json:"subscribe"`
}

// ToolCapabilities describes tool-related capabilities.
type ToolCapabilities struct {
	List bool `json:"list"`
}

// AgentCapabilities describes agent-related capabilities.
type AgentCapabilities struct {
	Spawn       bool `json:"spawn"`
	Communicate bool `json:"communicate"`
	Coordinate  bool `json:"coordinate"`
	Sandbox     bool `json:"sandbox"`
}

// WorkflowCapabilities describes workflow-related capabilities.
type WorkflowCapabilities struct {
	Execute    bool `json:"execute"`
	Monitor    bool `json:"monitor"`
	Coordinate bool `json:"coordinate"`
}

// InitializeParams is the payload of an Initialize request.
type InitializeParams struct {
	Version      string             `json:"version"`
	ClientInfo   ClientInfo         `json:"client_info"`
	Capabilities ClientCapabilities `json:"capabilities"`
}

// InitializeResult is the payload of a successful Initialize response.
type InitializeResult struct {
	Version      string             `json:"version"`
	ServerInfo   ServerInfo         `json:"server_info"`
	Capabilities ServerCapabilities `json:"capabilities"`
}

// Resource describes a registered resource, keyed by URI.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
}

// ResourceContents is one block of resource content.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mime_type,omitempty"`
	Text     string `json:"text"`
}

// ListResourcesParams requests the resource listing. Cursor is accepted for
// forward compatibility; the server currently returns a single page.
type ListResourcesParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListResourcesResult carries all registered resources.
type ListResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// ReadResourceParams requests the content of one resource by URI.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ReadResourceResult carries the content of one resource.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// Content is one block of tool output.
type Content struct {
	Type string `json:"type"` // "text", "image", "resource"
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"`
}

// CallToolParams invokes a registered tool by name.
type CallToolParams struct {
	Name      string `json:"name"`
	Arguments Args   `json:"arguments,omitempty"`
}

// CallToolResult is the outcome of a tool invocation. Tool-level failures set
// IsError on a normal result instead of surfacing as a protocol error.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"is_error,omitempty"`
}

// SpawnAgentParams requests a new agent of the given kind.
type SpawnAgentParams struct {
	Kind   string         `json:"kind"`
	Config map[string]any `json:"config,omitempty"`
}

// AgentSpawned acknowledges a successful spawn.
type AgentSpawned struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
}

// SendMessageParams routes a payload from one agent to another.
type SendMessageParams struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

// MessageReceived acknowledges whether a message was accepted for delivery.
type MessageReceived struct {
	Acknowledged bool `json:"acknowledged"`
}

// StartWorkflowParams requests execution of a workflow of the given kind.
type StartWorkflowParams struct {
	Kind   string         `json:"kind"`
	Config map[string]any `json:"config,omitempty"`
}

// WorkflowStarted acknowledges that a workflow was accepted for execution.
type WorkflowStarted struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
}

// ErrorPayload carries a protocol-level failure with a stable numeric code.
type ErrorPayload struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// NotificationParams is a one-way message with no correlation id.
type NotificationParams struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

func (InitializeParams) payloadType() Type    { return TypeInitialize }
func (InitializeResult) payloadType() Type    { return TypeInitializeResult }
func (ListResourcesParams) payloadType() Type { return TypeListResources }
func (ListResourcesResult) payloadType() Type { return TypeListResourcesResult }
func (ReadResourceParams) payloadType() Type  { return TypeReadResource }
func (ReadResourceResult) payloadType() Type  { return TypeReadResourceResult }
func (CallToolParams) payloadType() Type      { return TypeCallTool }
func (CallToolResult) payloadType() Type      { return TypeCallToolResult }
func (SpawnAgentParams) payloadType() Type    { return TypeSpawnAgent }
func (AgentSpawned) payloadType() Type        { return TypeAgentSpawned }
func (SendMessageParams) payloadType() Type   { return TypeSendMessage }
func (MessageReceived) payloadType() Type     { return TypeMessageReceived }
func (StartWorkflowParams) payloadType() Type { return TypeStartWorkflow }
func (WorkflowStarted) payloadType() Type     { return TypeWorkflowStarted }
func (ErrorPayload) payloadType() Type        { return TypeError }
func (NotificationParams) payloadType() Type  { return TypeNotification }

// NewRequest builds a request message. The payload's own tag wins over a
// mismatched caller-supplied type.
func NewRequest(id string, payload Payload) *Message {
	return &Message{Type: payload.payloadType(), ID: id, Payload: payload}
}

// NewNotification builds a one-way notification message.
func NewNotification(method string, params map[string]any) *Message {
	return &Message{
		Type:    TypeNotification,
		Payload: NotificationParams{Method: method, Params: params},
	}
}

// NewError builds an error response correlated to the failed request.
func NewError(id string, code ErrorCode, message string, data map[string]any) *Message {
	return &Message{
		Type:    TypeError,
		ID:      id,
		Payload: ErrorPayload{Code: code, Message: message, Data: data},
	}
}

// Args provides type-safe access to loosely typed arguments.
type Args map[string]any

// String returns a string argument, or "" if absent or mistyped.
func (a Args) String(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

// Int returns an integer argument, tolerating JSON number decoding.
func (a Args) Int(key string) int {
	switch v := a[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
	}
	return 0
}

// Float returns a float argument.
func (a Args) Float(key string) float64 {
	switch v := a[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return 0.0
}

// Bool returns a boolean argument.
func (a Args) Bool(key string) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return false
}

// Map returns a nested object argument.
func (a Args) Map(key string) map[string]any {
	if v, ok := a[key].(map[string]any); ok {
		return v
	}
	return nil
}
