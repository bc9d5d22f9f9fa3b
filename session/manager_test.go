package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskmesh/riskmesh/internal/metrics"
	"github.com/riskmesh/riskmesh/types"
)

type releaserStub struct {
	mu    sync.Mutex
	calls [][]string
	ret   int
}

func (r *releaserStub) CancelRunningFor(_ context.Context, agentIDs []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, agentIDs)
	return r.ret
}

func (r *releaserStub) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestManager() *Manager {
	return NewManager(Config{TTL: 30 * time.Minute, SweepInterval: 10 * time.Millisecond}, nil)
}

func TestManager_CreateSession(t *testing.T) {
	m := newTestManager()

	s1 := m.CreateSession()
	s2 := m.CreateSession()
	assert.NotEmpty(t, s1.ID)
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Equal(t, 2, m.SessionCount())

	got, err := m.Get(s1.ID)
	require.NoError(t, err)
	assert.Equal(t, s1.ID, got.ID)
}

func TestManager_UpdateAgentState(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession()

	require.NoError(t, m.UpdateAgentState(s.ID, "risk-agent-1", StatusIdle))
	require.NoError(t, m.UpdateAgentState(s.ID, "risk-agent-1", StatusBusy))
	require.NoError(t, m.UpdateAgentState(s.ID, "risk-agent-1", StatusIdle))

	st, err := m.GetAgentState(s.ID, "risk-agent-1")
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, st.Status)
}

func TestManager_UpdateAgentState_IllegalTransition(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession()
	require.NoError(t, m.UpdateAgentState(s.ID, "a1", StatusIdle))

	err := m.UpdateAgentState(s.ID, "a1", StatusRecovering)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(err))

	// The record is left untouched by the refused transition.
	st, err := m.GetAgentState(s.ID, "a1")
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, st.Status)
}

func TestManager_UpdateAgentState_FirstTouchSemantics(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession()

	// First touch enrolls as IDLE, so a direct BUSY works but a direct
	// RECOVERING cannot.
	require.NoError(t, m.UpdateAgentState(s.ID, "a1", StatusBusy))
	st, err := m.GetAgentState(s.ID, "a1")
	require.NoError(t, err)
	assert.Equal(t, StatusBusy, st.Status)

	err = m.UpdateAgentState(s.ID, "a2", StatusRecovering)
	assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(err))
	st, err = m.GetAgentState(s.ID, "a2")
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, st.Status)
}

func TestManager_UpdateAgentState_Validation(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession()

	err := m.UpdateAgentState(s.ID, "", StatusIdle)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	err = m.UpdateAgentState(s.ID, "a1", AgentStatus("NAPPING"))
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	err = m.UpdateAgentState("no-such-session", "a1", StatusIdle)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestManager_AgentOwnedByOneSession(t *testing.T) {
	m := newTestManager()
	s1 := m.CreateSession()
	s2 := m.CreateSession()

	require.NoError(t, m.UpdateAgentState(s1.ID, "a1", StatusIdle))
	err := m.UpdateAgentState(s2.ID, "a1", StatusIdle)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(err))
}

func TestManager_ListAgents(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession()
	require.NoError(t, m.UpdateAgentState(s.ID, "beta", StatusIdle))
	require.NoError(t, m.UpdateAgentState(s.ID, "alpha", StatusBusy))

	agents, err := m.ListAgents(s.ID)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "alpha", agents[0].AgentID)
	assert.Equal(t, StatusBusy, agents[0].Status)
	assert.Equal(t, "beta", agents[1].AgentID)
}

func TestManager_MarkBusyAndRelease(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession()
	require.NoError(t, m.UpdateAgentState(s.ID, "a1", StatusIdle))

	require.NoError(t, m.MarkBusy("a1"))
	st, _ := m.GetAgentState(s.ID, "a1")
	assert.Equal(t, StatusBusy, st.Status)

	// Already busy: not claimable.
	err := m.MarkBusy("a1")
	assert.Equal(t, types.ErrAgentUnavailable, types.GetErrorCode(err))

	m.Release("a1")
	st, _ = m.GetAgentState(s.ID, "a1")
	assert.Equal(t, StatusIdle, st.Status)
}

func TestManager_MarkBusyUnknownAgent(t *testing.T) {
	m := newTestManager()
	err := m.MarkBusy("ghost")
	assert.Equal(t, types.ErrAgentUnavailable, types.GetErrorCode(err))
}

func TestManager_ReleaseNeverOverridesError(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession()
	require.NoError(t, m.UpdateAgentState(s.ID, "a1", StatusBusy))
	m.MarkError("a1")

	m.Release("a1")
	st, _ := m.GetAgentState(s.ID, "a1")
	assert.Equal(t, StatusError, st.Status)
}

func TestManager_MarkErrorAndRecovered(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession()
	require.NoError(t, m.UpdateAgentState(s.ID, "a1", StatusBusy))

	m.MarkError("a1")
	st, _ := m.GetAgentState(s.ID, "a1")
	assert.Equal(t, StatusError, st.Status)

	assert.Equal(t, types.ErrAgentUnavailable, types.GetErrorCode(m.MarkBusy("a1")))

	m.MarkRecovered("a1")
	st, _ = m.GetAgentState(s.ID, "a1")
	assert.Equal(t, StatusIdle, st.Status)
	assert.NoError(t, m.MarkBusy("a1"))
}

func TestManager_MarkHelpersIgnoreUnknownAgents(t *testing.T) {
	m := newTestManager()
	assert.NotPanics(t, func() {
		m.MarkError("ghost")
		m.MarkRecovered("ghost")
		m.Release("ghost")
	})
}

func TestManager_ExpireSession(t *testing.T) {
	m := newTestManager()
	stub := &releaserStub{ret: 2}
	m.SetTaskReleaser(stub)

	s := m.CreateSession()
	require.NoError(t, m.UpdateAgentState(s.ID, "beta", StatusBusy))
	require.NoError(t, m.UpdateAgentState(s.ID, "alpha", StatusBusy))

	require.NoError(t, m.ExpireSession(context.Background(), s.ID))

	require.Equal(t, 1, stub.callCount())
	assert.Equal(t, []string{"alpha", "beta"}, stub.calls[0])

	_, err := m.Get(s.ID)
	assert.Equal(t, types.ErrSessionExpired, types.GetErrorCode(err))
	err = m.UpdateAgentState(s.ID, "alpha", StatusIdle)
	assert.Equal(t, types.ErrSessionExpired, types.GetErrorCode(err))

	// Distinct from a session that never existed.
	_, err = m.Get("never-created")
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestManager_ExpireSessionFreesAgentIDs(t *testing.T) {
	m := newTestManager()
	s1 := m.CreateSession()
	require.NoError(t, m.UpdateAgentState(s1.ID, "a1", StatusIdle))
	require.NoError(t, m.ExpireSession(context.Background(), s1.ID))

	s2 := m.CreateSession()
	assert.NoError(t, m.UpdateAgentState(s2.ID, "a1", StatusIdle))
}

func TestManager_ExpireSessionTwice(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession()
	require.NoError(t, m.ExpireSession(context.Background(), s.ID))

	err := m.ExpireSession(context.Background(), s.ID)
	assert.Equal(t, types.ErrSessionExpired, types.GetErrorCode(err))
}

func TestManager_TTLSweep(t *testing.T) {
	m := NewManager(Config{TTL: 30 * time.Minute, SweepInterval: 5 * time.Millisecond}, nil)
	stub := &releaserStub{}
	m.SetTaskReleaser(stub)

	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := base
	m.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	s := m.CreateSession()
	require.NoError(t, m.UpdateAgentState(s.ID, "a1", StatusBusy))

	m.Start(context.Background())
	defer m.Stop()

	// Still fresh: the sweep must leave it alone.
	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, 1, m.SessionCount())

	mu.Lock()
	now = base.Add(31 * time.Minute)
	mu.Unlock()

	assert.Eventually(t, func() bool { return m.SessionCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return stub.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err := m.Get(s.ID)
	assert.Equal(t, types.ErrSessionExpired, types.GetErrorCode(err))
}

func TestManager_SweepPrunesTombstones(t *testing.T) {
	m := newTestManager()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }

	s := m.CreateSession()
	require.NoError(t, m.ExpireSession(context.Background(), s.ID))

	now = base.Add(31 * time.Minute)
	m.sweep(context.Background())

	// Past the retention window the tombstone is gone.
	_, err := m.Get(s.ID)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestManager_SessionContextValues(t *testing.T) {
	m := newTestManager()
	s := m.CreateSession()

	_, ok, err := m.Value(s.ID, "request")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.SetValue(s.ID, "request", "assess portfolio X"))
	v, ok, err := m.Value(s.ID, "request")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "assess portfolio X", v)

	// Overwrite is allowed; the store is a plain per-run scratch space.
	require.NoError(t, m.SetValue(s.ID, "request", "revised"))
	v, _, _ = m.Value(s.ID, "request")
	assert.Equal(t, "revised", v)

	assert.Equal(t, types.ErrValidation, types.GetErrorCode(m.SetValue(s.ID, "", 1)))

	require.NoError(t, m.ExpireSession(context.Background(), s.ID))
	err = m.SetValue(s.ID, "request", "late")
	assert.Equal(t, types.ErrSessionExpired, types.GetErrorCode(err))
	_, _, err = m.Value(s.ID, "request")
	assert.Equal(t, types.ErrSessionExpired, types.GetErrorCode(err))
}

var metricsNamespaceSeq atomic.Uint64

// gatherTransitions reads the agent-transition counter samples back out of
// the default prometheus registry, keyed "FROM>TO".
func gatherTransitions(t *testing.T, namespace string) map[string]float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	out := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != namespace+"_agent_transitions_total" {
			continue
		}
		for _, sample := range mf.GetMetric() {
			var from, to string
			for _, label := range sample.GetLabel() {
				switch label.GetName() {
				case "from_status":
					from = label.GetValue()
				case "to_status":
					to = label.GetValue()
				}
			}
			out[from+">"+to] = sample.GetCounter().GetValue()
		}
	}
	return out
}

func TestManager_RecordsAgentTransitions(t *testing.T) {
	ns := fmt.Sprintf("session_test_%d", metricsNamespaceSeq.Add(1))
	m := NewManager(Config{TTL: time.Hour, SweepInterval: time.Minute}, nil,
		WithMetrics(metrics.NewCollector(ns, nil)))
	s := m.CreateSession()

	require.NoError(t, m.UpdateAgentState(s.ID, "a1", StatusIdle))
	require.NoError(t, m.MarkBusy("a1"))
	m.Release("a1")
	m.MarkError("a1")
	m.MarkRecovered("a1")

	st, err := m.GetAgentState(s.ID, "a1")
	require.NoError(t, err)
	require.Equal(t, StatusIdle, st.Status)

	// Recovery steps through RECOVERING; ERROR>IDLE never appears.
	assert.Equal(t, map[string]float64{
		"IDLE>BUSY":        1,
		"BUSY>IDLE":        1,
		"IDLE>ERROR":       1,
		"ERROR>RECOVERING": 1,
		"RECOVERING>IDLE":  1,
	}, gatherTransitions(t, ns))
}

func TestManager_MarkRecoveredFromRecovering(t *testing.T) {
	ns := fmt.Sprintf("session_test_%d", metricsNamespaceSeq.Add(1))
	m := NewManager(Config{TTL: time.Hour, SweepInterval: time.Minute}, nil,
		WithMetrics(metrics.NewCollector(ns, nil)))
	s := m.CreateSession()

	require.NoError(t, m.UpdateAgentState(s.ID, "a1", StatusIdle))
	m.MarkError("a1")
	require.NoError(t, m.UpdateAgentState(s.ID, "a1", StatusRecovering))
	m.MarkRecovered("a1")

	st, err := m.GetAgentState(s.ID, "a1")
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, st.Status)

	got := gatherTransitions(t, ns)
	assert.Equal(t, float64(1), got["RECOVERING>IDLE"])
	assert.NotContains(t, got, "ERROR>IDLE")
}
