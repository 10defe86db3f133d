package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{
			name: "initialize",
			msg: NewRequest("req-1", InitializeParams{
				Version:      "2025-06-18",
				ClientInfo:   ClientInfo{Name: "lexgo-cli", Version: "0.3.0"},
				Capabilities: ClientCapabilities{Sampling: true},
			}),
		},
		{
			name: "initialize result",
			msg: NewRequest("req-1", InitializeResult{
				Version:    "2025-06-18",
				ServerInfo: ServerInfo{Name: "lexgo", Version: "0.3.0"},
				Capabilities: ServerCapabilities{
					Resources: ResourceCapabilities{Subscribe: true},
					Tools:     ToolCapabilities{List: true},
					Agents:    AgentCapabilities{Spawn: true, Communicate: true, Coordinate: true, Sandbox: true},
					Workflows: WorkflowCapabilities{Execute: true, Monitor: true, Coordinate: true},
				},
			}),
		},
		{
			name: "list resources",
			msg:  NewRequest("req-2", ListResourcesParams{Cursor: "page-2"}),
		},
		{
			name: "list resources result",
			msg: NewRequest("req-2", ListResourcesResult{
				Resources: []Resource{
					{URI: "doc://contracts/nda", Name: "NDA template", MimeType: "text/markdown"},
				},
			}),
		},
		{
			name: "read resource",
			msg:  NewRequest("req-3", ReadResourceParams{URI: "doc://contracts/nda"}),
		},
		{
			name: "read resource result",
			msg: NewRequest("req-3", ReadResourceResult{
				Contents: []ResourceContents{{URI: "doc://contracts/nda", Text: "..."}},
			}),
		},
		{
			name: "call tool",
			msg: NewRequest("req-4", CallToolParams{
				Name:      "clause_extract",
				Arguments: Args{"section": "indemnification", "limit": float64(3)},
			}),
		},
		{
			name: "call tool result",
			msg: NewRequest("req-4", CallToolResult{
				Content: []Content{{Type: "text", Text: "3 clauses found"}},
			}),
		},
		{
			name: "call tool error result",
			msg: NewRequest("req-4", CallToolResult{
				Content: []Content{{Type: "text", Text: "extraction failed"}},
				IsError: true,
			}),
		},
		{
			name: "spawn agent",
			msg: NewRequest("req-5", SpawnAgentParams{
				Kind:   "contract-analyzer",
				Config: map[string]any{"jurisdiction": "DE"},
			}),
		},
		{
			name: "agent spawned",
			msg:  NewRequest("req-5", AgentSpawned{AgentID: "agent-abc", Status: "spawned"}),
		},
		{
			name: "send message",
			msg: NewRequest("req-6", SendMessageParams{
				From: "agent-abc", To: "agent-def", Message: "clause summary ready",
			}),
		},
		{
			name: "message received",
			msg:  NewRequest("req-6", MessageReceived{Acknowledged: true}),
		},
		{
			name: "start workflow",
			msg: NewRequest("req-7", StartWorkflowParams{
				Kind:   "contract-review",
				Config: map[string]any{"depth": "full"},
			}),
		},
		{
			name: "workflow started",
			msg:  NewRequest("req-7", WorkflowStarted{WorkflowID: "wf-123", Status: "started"}),
		},
		{
			name: "error",
			msg:  NewError("req-8", CodeResourceNotFound, "resource not found", map[string]any{"uri": "doc://missing"}),
		},
		{
			name: "notification",
			msg:  NewNotification("agents/status_changed", map[string]any{"agent_id": "agent-abc"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)

			assert.Equal(t, tt.msg.Type, decoded.Type)
			assert.Equal(t, tt.msg.ID, decoded.ID)
			assert.Equal(t, tt.msg.Payload, decoded.Payload)
		})
	}
}

func TestDecode_MalformedInput(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeParseError))
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"agents/teleport","id":"x"}`))
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeMethodNotFound))
}

func TestDecode_NotificationHasNoID(t *testing.T) {
	msg := NewNotification("server/status", nil)
	data, err := Encode(msg)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Empty(t, decoded.ID)
}

func TestAsError_WrapsUnknownFaults(t *testing.T) {
	perr := AsError(assert.AnError)
	assert.Equal(t, CodeInternalError, perr.Code)

	orig := Errorf(CodeSecurityViolation, "kind not allowed")
	assert.Same(t, orig, AsError(orig))
}

func TestArgs_Accessors(t *testing.T) {
	args := Args{
		"name":    "analyzer",
		"count":   float64(4),
		"ratio":   0.5,
		"enabled": true,
		"nested":  map[string]any{"k": "v"},
	}

	assert.Equal(t, "analyzer", args.String("name"))
	assert.Equal(t, 4, args.Int("count"))
	assert.Equal(t, 0.5, args.Float("ratio"))
	assert.True(t, args.Bool("enabled"))
	assert.Equal(t, map[string]any{"k": "v"}, args.Map("nested"))

	assert.Empty(t, args.String("missing"))
	assert.Zero(t, args.Int("missing"))
}
