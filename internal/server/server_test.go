package server

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexgo-dev/lexgo/internal/agent"
	"github.com/lexgo-dev/lexgo/internal/coordinator"
	"github.com/lexgo-dev/lexgo/pkg/audit"
	"github.com/lexgo-dev/lexgo/pkg/protocol"
	"github.com/lexgo-dev/lexgo/pkg/security"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *audit.MemoryLogger) {
	t.Helper()

	auditor := audit.NewMemoryLogger(audit.LevelFull)
	opts = append([]Option{WithAuditLogger(auditor), WithMaxAgents(8)}, opts...)
	srv := New("lexgo-test", "0.1.0", opts...)
	require.NoError(t, srv.Manager().RegisterKind("researcher", agent.WorkerFactory("researcher")))
	require.NoError(t, srv.Manager().RegisterKind("drafter", agent.WorkerFactory("drafter")))
	return srv, auditor
}

func eventTypes(events []audit.Event) []audit.EventType {
	out := make([]audit.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestServer_Lifecycle(t *testing.T) {
	ctx := context.Background()
	srv, auditor := newTestServer(t)

	state, _ := srv.State()
	assert.Equal(t, StateStarting, state)
	assert.False(t, srv.Healthy())

	require.NoError(t, srv.Start(ctx))
	state, _ = srv.State()
	assert.Equal(t, StateRunning, state)
	assert.True(t, srv.Healthy())

	// Start is single-shot.
	require.Error(t, srv.Start(ctx))

	require.NoError(t, srv.Pause())
	assert.True(t, srv.Healthy())
	require.Error(t, srv.Pause())
	require.NoError(t, srv.Resume())
	require.Error(t, srv.Resume())

	require.NoError(t, srv.Stop(ctx))
	state, _ = srv.State()
	assert.Equal(t, StateStopped, state)
	assert.False(t, srv.Healthy())

	// Stop is idempotent and audits shutdown exactly once, as the final
	// event.
	require.NoError(t, srv.Stop(ctx))
	events := auditor.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, []audit.EventType{
		audit.EventServerStarted,
		audit.EventServerPaused,
		audit.EventServerResumed,
		audit.EventServerStopped,
	}, eventTypes(events))
}

func TestServer_StopShutsDownAgentsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	srv, auditor := newTestServer(t)
	require.NoError(t, srv.Start(ctx))

	for i := 0; i < 3; i++ {
		_, err := srv.Manager().Spawn(ctx, "researcher", nil)
		require.NoError(t, err)
	}

	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, srv.Stop(ctx))

	assert.Zero(t, srv.Manager().Count())
	stopped := 0
	for _, e := range auditor.Events() {
		if e.Type == audit.EventAgentStopped {
			stopped++
		}
	}
	assert.Equal(t, 3, stopped)

	// Shutdown is the last event in the trail.
	events := auditor.Events()
	assert.Equal(t, audit.EventServerStopped, events[len(events)-1].Type)
}

func TestServer_Fail(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.Fail("memory backend unreachable")

	state, reason := srv.State()
	assert.Equal(t, StateError, state)
	assert.Equal(t, "memory backend unreachable", reason)
	assert.False(t, srv.Healthy())
}

func TestServer_GatesByState(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t)
	h := NewHandler(srv)

	// Before Start, nothing is served.
	resp, err := h.Handle(ctx, protocol.NewRequest("r1", protocol.SpawnAgentParams{Kind: "researcher"}))
	require.NoError(t, err)
	require.Equal(t, protocol.TypeError, resp.Type)
	assert.Equal(t, protocol.CodeInvalidRequest, resp.Payload.(protocol.ErrorPayload).Code)

	require.NoError(t, srv.Start(ctx))
	require.NoError(t, srv.Pause())

	// Paused: reads are served, spawn and workflow are not.
	resp, err = h.Handle(ctx, protocol.NewRequest("r2", protocol.ListResourcesParams{}))
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeListResourcesResult, resp.Type)

	resp, err = h.Handle(ctx, protocol.NewRequest("r3", protocol.SpawnAgentParams{Kind: "researcher"}))
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeError, resp.Type)

	resp, err = h.Handle(ctx, protocol.NewRequest("r4", protocol.StartWorkflowParams{Kind: "research"}))
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeError, resp.Type)

	require.NoError(t, srv.Resume())
	require.NoError(t, srv.Stop(ctx))
}

func TestServer_RateLimiter(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t, WithRateLimiter(security.NewRateLimiter(1, 2)))
	require.NoError(t, srv.Start(ctx))
	h := NewHandler(srv)

	// Read-only requests are never limited, even past the burst and even
	// with a fresh correlation id per request.
	for i := 0; i < 5; i++ {
		resp, err := h.Handle(ctx, protocol.NewRequest(fmt.Sprintf("read-%d", i), protocol.ListResourcesParams{}))
		require.NoError(t, err)
		assert.Equal(t, protocol.TypeListResourcesResult, resp.Type)
	}

	// Mutating requests from one client share a single budget regardless of
	// the correlation id.
	limited := 0
	for i := 0; i < 5; i++ {
		resp, err := h.Handle(ctx, protocol.NewRequest(fmt.Sprintf("spawn-%d", i), protocol.SpawnAgentParams{Kind: "researcher"}))
		require.NoError(t, err)
		if resp.Type == protocol.TypeError {
			limited++
			assert.Equal(t, protocol.CodeInvalidRequest, resp.Payload.(protocol.ErrorPayload).Code)
		}
	}
	assert.GreaterOrEqual(t, limited, 1)

	require.NoError(t, srv.Stop(ctx))
}

func TestServer_StrategyOption(t *testing.T) {
	srv, _ := newTestServer(t, WithStrategy(coordinator.NewHierarchical("supervisor")))
	assert.Equal(t, "hierarchical", srv.Coordinator().Strategy().Name())
}
