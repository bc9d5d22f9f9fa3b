package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	riskmesh "github.com/riskmesh/riskmesh"
	"github.com/riskmesh/riskmesh/config"
	"github.com/riskmesh/riskmesh/internal/metrics"
	"github.com/riskmesh/riskmesh/session"
	"github.com/riskmesh/riskmesh/task"
)

// Context returns a context bounded to 30s and cancelled on test cleanup.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ContextWithTimeout is Context with an explicit deadline.
func ContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext returns an already-cancelled context.
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

var namespaceSeq atomic.Uint64

// Collector returns a metrics collector under a process-unique namespace,
// so tests can build any number of meshes without colliding in the
// default prometheus registry.
func Collector() *metrics.Collector {
	return metrics.NewCollector(fmt.Sprintf("riskmesh_e2e_%d", namespaceSeq.Add(1)), nil)
}

// NewMesh assembles and starts a mesh for one test. A nil cfg selects the
// defaults (in-memory artifact backend). The mesh is stopped on cleanup.
func NewMesh(t *testing.T, cfg *config.Config, opts ...riskmesh.Option) *riskmesh.Mesh {
	t.Helper()
	opts = append([]riskmesh.Option{riskmesh.WithCollector(Collector())}, opts...)
	m, err := riskmesh.New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

// AwaitTaskState polls until the task reaches want.
func AwaitTaskState(t *testing.T, tasks *task.Manager, taskID string, want task.State) task.Task {
	t.Helper()
	var got task.Task
	require.Eventually(t, func() bool {
		tk, err := tasks.Get(taskID)
		if err != nil {
			return false
		}
		got = tk
		return tk.State == want
	}, 5*time.Second, 10*time.Millisecond, "task %s never reached %s", taskID, want)
	return got
}

// AwaitAgentStatus polls until the agent's session entry reaches want.
func AwaitAgentStatus(t *testing.T, sessions *session.Manager, sessionID, agentID string, want session.AgentStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := sessions.GetAgentState(sessionID, agentID)
		return err == nil && st.Status == want
	}, 5*time.Second, 10*time.Millisecond, "agent %s never reached %s", agentID, want)
}
