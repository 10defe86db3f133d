package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexgo-dev/lexgo/pkg/audit"
	"github.com/lexgo-dev/lexgo/pkg/protocol"
	"github.com/lexgo-dev/lexgo/pkg/security"
)

type recordingRegistrar struct {
	mu         sync.Mutex
	registered []string
	removed    []string
}

func (r *recordingRegistrar) RegisterAgent(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, a.ID())
}

func (r *recordingRegistrar) UnregisterAgent(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
}

func newTestManager(t *testing.T, maxAgents int, policy security.Policy) (*Manager, *audit.MemoryLogger, *recordingRegistrar) {
	t.Helper()

	auditor := audit.NewMemoryLogger(audit.LevelFull)
	m := NewManager(maxAgents, security.NewContext(policy), auditor)
	reg := &recordingRegistrar{}
	m.SetRegistrar(reg)
	require.NoError(t, m.RegisterKind("researcher", WorkerFactory("researcher")))
	require.NoError(t, m.RegisterKind("drafter", WorkerFactory("drafter")))
	return m, auditor, reg
}

func auditCount(l *audit.MemoryLogger, t audit.EventType) int {
	n := 0
	for _, e := range l.Events() {
		if e.Type == t {
			n++
		}
	}
	return n
}

func TestManager_SpawnOverCapacity(t *testing.T) {
	ctx := context.Background()
	m, auditor, reg := newTestManager(t, 2, security.DefaultPolicy())

	id1, err := m.Spawn(ctx, "researcher", nil)
	require.NoError(t, err)
	id2, err := m.Spawn(ctx, "researcher", nil)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	_, err = m.Spawn(ctx, "researcher", nil)
	require.Error(t, err)
	assert.True(t, protocol.HasCode(err, protocol.CodeAgentSpawnFailed))

	assert.Equal(t, 2, m.Count())
	// Exactly one audit event per successful spawn, none for the rejection.
	assert.Equal(t, 2, auditCount(auditor, audit.EventAgentSpawned))
	assert.Len(t, reg.registered, 2)
}

func TestManager_SpawnSecurityRejectionLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	m, auditor, reg := newTestManager(t, 10, security.Policy{
		Level:             security.LevelStrict,
		AllowedAgentKinds: []string{"drafter"},
	})

	_, err := m.Spawn(ctx, "researcher", nil)
	require.Error(t, err)
	assert.True(t, protocol.HasCode(err, protocol.CodeSecurityViolation))

	assert.Zero(t, m.Count())
	assert.Empty(t, auditor.Events())
	assert.Empty(t, reg.registered)
}

func TestManager_ConcurrentSpawnsNeverExceedCapacity(t *testing.T) {
	const maxAgents = 5
	const attempts = 40

	ctx := context.Background()
	m, auditor, _ := newTestManager(t, maxAgents, security.DefaultPolicy())

	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded, capacityErrs int

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Spawn(ctx, "researcher", nil)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case protocol.HasCode(err, protocol.CodeAgentSpawnFailed):
				capacityErrs++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, maxAgents, succeeded)
	assert.Equal(t, attempts-maxAgents, capacityErrs)
	assert.Equal(t, maxAgents, m.Count())
	assert.Equal(t, maxAgents, auditCount(auditor, audit.EventAgentSpawned))
}

func TestManager_SpawnUnknownKindReleasesReservation(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, 1, security.DefaultPolicy())

	_, err := m.Spawn(ctx, "litigator", nil)
	require.Error(t, err)
	assert.True(t, protocol.HasCode(err, protocol.CodeAgentSpawnFailed))

	// The failed construct must not leak its capacity reservation.
	_, err = m.Spawn(ctx, "researcher", nil)
	assert.NoError(t, err)
}

func TestManager_Stop(t *testing.T) {
	ctx := context.Background()
	m, auditor, reg := newTestManager(t, 5, security.DefaultPolicy())

	id, err := m.Spawn(ctx, "researcher", nil)
	require.NoError(t, err)

	require.NoError(t, m.Stop(ctx, id))
	assert.Zero(t, m.Count())
	assert.Equal(t, []string{id}, reg.removed)
	assert.Equal(t, 1, auditCount(auditor, audit.EventAgentStopped))

	err = m.Stop(ctx, id)
	require.Error(t, err)
	assert.True(t, protocol.HasCode(err, protocol.CodeAgentNotFound))
}

type failingStopAgent struct {
	*Worker
}

func (a *failingStopAgent) Stop(ctx context.Context) error {
	_ = a.Worker.Stop(ctx)
	return errors.New("release handle: connection reset")
}

func TestManager_StopAuditsFailedShutdown(t *testing.T) {
	ctx := context.Background()
	m, auditor, reg := newTestManager(t, 5, security.DefaultPolicy())
	require.NoError(t, m.RegisterKind("flaky", func(id string, config Config) (Agent, error) {
		return &failingStopAgent{Worker: &Worker{Base: NewBase(id, "flaky", config)}}, nil
	}))

	id, err := m.Spawn(ctx, "flaky", nil)
	require.NoError(t, err)

	// The shutdown error propagates, but the agent is gone and its stop is
	// still in the trail.
	err = m.Stop(ctx, id)
	require.Error(t, err)
	assert.Zero(t, m.Count())
	assert.Equal(t, []string{id}, reg.removed)
	assert.Equal(t, 1, auditCount(auditor, audit.EventAgentStopped))
}

func TestManager_StopAll(t *testing.T) {
	ctx := context.Background()
	m, auditor, _ := newTestManager(t, 5, security.DefaultPolicy())

	for i := 0; i < 3; i++ {
		_, err := m.Spawn(ctx, "researcher", nil)
		require.NoError(t, err)
	}

	require.NoError(t, m.StopAll(ctx))
	assert.Zero(t, m.Count())
	// Each agent stopped exactly once.
	assert.Equal(t, 3, auditCount(auditor, audit.EventAgentStopped))

	// Idempotent on an empty registry.
	assert.NoError(t, m.StopAll(ctx))
}

func TestManager_Route(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, 5, security.DefaultPolicy())

	from, err := m.Spawn(ctx, "researcher", nil)
	require.NoError(t, err)
	to, err := m.Spawn(ctx, "drafter", nil)
	require.NoError(t, err)

	accepted, err := m.Route(ctx, from, to, "clause summary ready")
	require.NoError(t, err)
	assert.True(t, accepted)

	recipient, err := m.Get(to)
	require.NoError(t, err)
	msg := <-recipient.(*Worker).Inbox()
	assert.Equal(t, from, msg.From)
	assert.Equal(t, "clause summary ready", msg.Payload)

	_, err = m.Route(ctx, from, "nobody", "hello")
	require.Error(t, err)
	assert.True(t, protocol.HasCode(err, protocol.CodeAgentNotFound))
}

func TestManager_RegisterKindValidation(t *testing.T) {
	m, _, _ := newTestManager(t, 5, security.DefaultPolicy())

	err := m.RegisterKind("researcher", WorkerFactory("researcher"))
	require.Error(t, err)
	assert.True(t, protocol.HasCode(err, protocol.CodeInvalidParams))

	err = m.RegisterKind("", WorkerFactory(""))
	require.Error(t, err)

	assert.Equal(t, []string{"drafter", "researcher"}, m.Kinds())
}
