package e2e

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskmesh/riskmesh/a2a"
	"github.com/riskmesh/riskmesh/artifact"
	"github.com/riskmesh/riskmesh/config"
	"github.com/riskmesh/riskmesh/session"
	"github.com/riskmesh/riskmesh/task"
	"github.com/riskmesh/riskmesh/testutil"
	"github.com/riskmesh/riskmesh/testutil/fixtures"
	"github.com/riskmesh/riskmesh/transport"
	"github.com/riskmesh/riskmesh/types"
)

func TestCoordination_UnassignedTaskTimesOut(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Task.SweepInterval = 20 * time.Millisecond
	m := testutil.NewMesh(t, cfg)

	tk, err := m.Tasks.Create("orphaned work", 100*time.Millisecond, a2a.PriorityNormal)
	require.NoError(t, err)
	require.Equal(t, task.StateCreated, tk.State)

	got := testutil.AwaitTaskState(t, m.Tasks, tk.ID, task.StateTimeout)
	assert.Empty(t, got.AssignedAgent)
}

func TestCoordination_AssignCompleteReleasesAgent(t *testing.T) {
	m := testutil.NewMesh(t, nil)
	ctx := testutil.Context(t)

	s := m.Sessions.CreateSession()
	require.NoError(t, m.Sessions.UpdateAgentState(s.ID, "agent-a", session.StatusIdle))

	tk, err := m.Tasks.Create("score the portfolio", 5*time.Second, a2a.PriorityHigh)
	require.NoError(t, err)
	require.NoError(t, m.Tasks.Assign(tk.ID, "agent-a"))

	st, err := m.Sessions.GetAgentState(s.ID, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, session.StatusBusy, st.Status)

	ref, err := m.Artifacts.Store(ctx, &artifact.Artifact{
		Meta: artifact.Meta{
			Name:  "portfolio-score",
			Type:  a2a.ContentTypeJSON,
			Owner: "agent-a",
		},
		Content: fixtures.PortfolioPayload(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ref.Version)

	require.NoError(t, m.Tasks.Complete(tk.ID, ref))
	got, err := m.Tasks.Get(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateCompleted, got.State)
	testutil.AwaitAgentStatus(t, m.Sessions, s.ID, "agent-a", session.StatusIdle)

	stored, err := m.Artifacts.RetrieveVersion(ctx, ref.Name, 1, "agent-b")
	require.NoError(t, err)
	assert.Equal(t, ref.Checksum, stored.Checksum)
}

func TestCoordination_ReRegisterReplacesCapabilities(t *testing.T) {
	m := testutil.NewMesh(t, nil)

	inbox := transport.NewChannelInbox(4, time.Second)
	t.Cleanup(func() { _ = inbox.Close() })
	require.NoError(t, m.Router.Register(fixtures.Card("agent-a", a2a.CapabilityValidateData), inbox))
	require.NoError(t, m.Router.Register(fixtures.Card("agent-a", a2a.CapabilityAnalyzeRisk), inbox))

	assert.Empty(t, m.Router.AgentsByCapability(a2a.CapabilityValidateData))
	assert.Equal(t, []string{"agent-a"}, m.Router.AgentsByCapability(a2a.CapabilityAnalyzeRisk))
}

func TestCoordination_ExpiredMessageNeverTransmitted(t *testing.T) {
	m := testutil.NewMesh(t, nil)
	ctx := testutil.Context(t)

	inbox := transport.NewChannelInbox(4, time.Second)
	t.Cleanup(func() { _ = inbox.Close() })
	require.NoError(t, m.Router.Register(fixtures.Card("agent-a"), inbox))

	msg, err := a2a.NewMessage("sender", []string{"agent-a"}, a2a.MessageTypeNotification,
		[]a2a.Part{a2a.TextPart("stale alert")}, a2a.WithTTL(time.Millisecond))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	receipt, routeErr := m.Router.Route(ctx, msg)
	require.Error(t, routeErr)
	require.Len(t, receipt.Failures, 1)
	assert.Equal(t, types.ErrExpiredMessage, receipt.Failures[0].Code)
	assert.Empty(t, receipt.Delivered)
	select {
	case got := <-inbox.Receive():
		t.Fatalf("expired message %s was transmitted", got.ID)
	default:
	}
}

func TestCoordination_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.Breaker.Threshold = 5
	cfg.Breaker.Cooldown = time.Minute
	m := testutil.NewMesh(t, cfg)
	ctx := testutil.Context(t)

	// A one-slot inbox nobody drains: the first send fills it, every
	// later send times out and counts as a delivery failure.
	inbox := transport.NewChannelInbox(1, 10*time.Millisecond)
	t.Cleanup(func() { _ = inbox.Close() })
	require.NoError(t, m.Router.Register(fixtures.Card("agent-b"), inbox))

	send := func() *a2a.Message {
		msg, err := a2a.NewMessage("sender", []string{"agent-b"}, a2a.MessageTypeNotification,
			[]a2a.Part{a2a.DataPart(map[string]any{"probe": true})})
		require.NoError(t, err)
		return msg
	}

	receipt, err := m.Router.Route(ctx, send())
	require.NoError(t, err)
	require.Len(t, receipt.Delivered, 1)

	for i := 0; i < 5; i++ {
		receipt, err = m.Router.Route(ctx, send())
		require.Error(t, err)
		require.Len(t, receipt.Failures, 1)
		assert.Equal(t, types.ErrDeliveryFailed, receipt.Failures[0].Code)
	}

	receipt, err = m.Router.Route(ctx, send())
	require.Error(t, err)
	require.Len(t, receipt.Failures, 1)
	assert.Equal(t, types.ErrCircuitOpen, receipt.Failures[0].Code)
}
