package lexgo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexgo-dev/lexgo/internal/coordinator"
	"github.com/lexgo-dev/lexgo/pkg/protocol"
	"github.com/lexgo-dev/lexgo/pkg/security"
)

type mapFileReader map[string]string

func (r mapFileReader) ReadFile(path string) ([]byte, error) {
	content, ok := r[path]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	return []byte(content), nil
}

const testConfig = `
server:
  name: lexgo-firm
  version: 1.4.0
  max_agents: 4
  strategy: hierarchical
  manager_kind: supervisor
security:
  level: standard
  max_workflow_steps: 10
audit:
  level: full
  output: memory
memory:
  backend: memory
agents:
  - kind: supervisor
  - kind: researcher
  - kind: drafter
resources:
  - uri: lexgo://playbooks/nda
    name: NDA playbook
    mime_type: text/markdown
    text: "Fallback positions for NDA negotiation."
tools:
  - echo
workflows:
  - kind: contract-review
    steps:
      - id: intake
      - id: analyze
        kind: researcher
      - id: draft
        kind: drafter
`

func TestLoadConfig(t *testing.T) {
	reader := mapFileReader{"lexgo.yaml": testConfig}
	config, err := NewConfigLoader(reader).LoadConfig("lexgo.yaml")
	require.NoError(t, err)

	assert.Equal(t, "lexgo-firm", config.Server.Name)
	assert.Equal(t, 4, config.Server.MaxAgents)
	assert.Equal(t, "hierarchical", config.Server.Strategy)
	assert.Equal(t, security.LevelStandard, config.Security.Level)
	assert.Len(t, config.Agents, 3)
	assert.Len(t, config.Workflows, 1)
	assert.Equal(t, "researcher", config.Workflows[0].Steps[1].Kind)
}

func TestLoadConfig_Defaults(t *testing.T) {
	reader := mapFileReader{"min.yaml": "server:\n  name: bare\n"}
	config, err := NewConfigLoader(reader).LoadConfig("min.yaml")
	require.NoError(t, err)

	assert.Equal(t, "dev", config.Server.Version)
	assert.Equal(t, "round-robin", config.Server.Strategy)
	assert.Equal(t, "full", config.Audit.Level)
	assert.Equal(t, "stdout", config.Audit.Output)
	assert.Equal(t, "memory", config.Memory.Backend)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed", "server: ["},
		{"bad audit level", "audit:\n  level: verbose\n"},
		{"bad memory backend", "memory:\n  backend: dynamo\n"},
		{"redis without addr", "memory:\n  backend: redis\n"},
		{"unknown tool", "tools:\n  - shred\n"},
		{"bad schedule", "schedules:\n  - name: s\n    kind: contract-review\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := mapFileReader{"bad.yaml": tt.yaml}
			_, err := NewConfigLoader(reader).LoadConfig("bad.yaml")
			assert.Error(t, err)
		})
	}

	_, err := NewConfigLoader(mapFileReader{}).LoadConfig("missing.yaml")
	assert.Error(t, err)
}

func TestBuildSystem_EndToEnd(t *testing.T) {
	reader := mapFileReader{"lexgo.yaml": testConfig}
	config, err := NewConfigLoader(reader).LoadConfig("lexgo.yaml")
	require.NoError(t, err)

	sys, err := BuildSystem(config)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sys.Start(ctx))
	defer func() { require.NoError(t, sys.Stop(ctx)) }()

	// Handshake.
	resp, err := sys.Transport.Send(ctx, protocol.NewRequest("init", protocol.InitializeParams{
		Version:    protocol.Version,
		ClientInfo: protocol.ClientInfo{Name: "lexctl", Version: "0.1.0"},
	}))
	require.NoError(t, err)
	require.Equal(t, protocol.TypeInitializeResult, resp.Type)
	assert.Equal(t, "lexgo-firm", resp.Payload.(protocol.InitializeResult).ServerInfo.Name)

	// Configured resources and tools are served.
	resp, err = sys.Transport.Send(ctx, protocol.NewRequest("read", protocol.ReadResourceParams{
		URI: "lexgo://playbooks/nda",
	}))
	require.NoError(t, err)
	read := resp.Payload.(protocol.ReadResourceResult)
	assert.Contains(t, read.Contents[0].Text, "NDA negotiation")

	// Spawn the crew and run the configured workflow through it.
	for _, kind := range []string{"supervisor", "researcher", "drafter"} {
		resp, err = sys.Transport.Send(ctx, protocol.NewRequest("spawn-"+kind, protocol.SpawnAgentParams{Kind: kind}))
		require.NoError(t, err)
		require.Equal(t, protocol.TypeAgentSpawned, resp.Type)
	}

	resp, err = sys.Transport.Send(ctx, protocol.NewRequest("wf", protocol.StartWorkflowParams{
		Kind:   "contract-review",
		Config: map[string]any{"matter": "acme-nda"},
	}))
	require.NoError(t, err)
	require.Equal(t, protocol.TypeWorkflowStarted, resp.Type)
	wfID := resp.Payload.(protocol.WorkflowStarted).WorkflowID

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	result, err := sys.Server.Coordinator().Await(waitCtx, wfID)
	require.NoError(t, err)
	assert.Equal(t, coordinator.StatusCompleted, result.Status)
	assert.Len(t, result.Outputs, 3)
	// Hierarchical assignment: typed steps go to their specialists.
	assert.Equal(t, "researcher", result.Outputs["analyze"]["kind"])
	assert.Equal(t, "drafter", result.Outputs["draft"]["kind"])
}

func TestBuildSystem_RejectsDuplicateAgentKind(t *testing.T) {
	config := &Config{
		Server: ServerDef{Name: "dup"},
		Agents: []AgentDef{{Kind: "researcher"}, {Kind: "researcher"}},
	}
	config.applyDefaults()

	_, err := BuildSystem(config)
	assert.Error(t, err)
}
