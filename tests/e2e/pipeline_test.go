package e2e

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	riskmesh "github.com/riskmesh/riskmesh"
	"github.com/riskmesh/riskmesh/a2a"
	"github.com/riskmesh/riskmesh/testutil"
	"github.com/riskmesh/riskmesh/testutil/fixtures"
)

func TestPipeline_RunEndToEnd(t *testing.T) {
	m := testutil.NewMesh(t, nil)
	ctx := testutil.Context(t)

	var analystSeen testutil.Recorder
	agents := []struct {
		id         string
		capability a2a.Capability
	}{
		{"validator", a2a.CapabilityValidateData},
		{"analyst", a2a.CapabilityAnalyzeRisk},
		{"advisor", a2a.CapabilityRecommend},
	}
	for _, ag := range agents {
		handler := testutil.EchoHandler()
		if ag.id == "analyst" {
			handler = analystSeen.Wrap(handler)
		}
		w := m.NewWorker(ag.id).Handle(ag.capability, handler)
		require.NoError(t, w.Register())
		w.Start(ctx)
		t.Cleanup(w.Stop)
	}

	res, err := m.Run(ctx, fixtures.PortfolioRequest)
	require.NoError(t, err)
	require.Len(t, res.Stages, 3)
	for _, st := range res.Stages {
		assert.False(t, st.Artifact.IsZero(), "stage %s produced no artifact", st.Stage)
	}

	// The analyst consumed the validator's output.
	reqs := analystSeen.Requests()
	require.Len(t, reqs, 1)
	require.NotNil(t, reqs[0].Input)
	assert.Equal(t, res.Stages[0].Artifact.Name, reqs[0].Input.Name)
	assert.Equal(t, fixtures.PortfolioRequest, reqs[0].Request)

	// The run's final output is readable and reflects the last stage.
	stored, err := m.Artifacts.Retrieve(ctx, res.Output.Name, "observer")
	require.NoError(t, err)
	content := stored.Content.(map[string]any)
	assert.Equal(t, a2a.CapabilityRecommend.String(), content["capability"])
}

func TestPipeline_RetriesTransientFailure(t *testing.T) {
	m := testutil.NewMesh(t, nil, riskmesh.WithPipeline(fixtures.RetryPipeline(2)))
	ctx := testutil.Context(t)

	flaky := testutil.NewFlakyHandler(1, fixtures.PortfolioPayload())
	w := m.NewWorker("analyst").Handle(a2a.CapabilityAnalyzeRisk, flaky.Handle)
	require.NoError(t, w.Register())
	w.Start(ctx)
	t.Cleanup(w.Stop)

	res, err := m.Run(ctx, fixtures.PortfolioRequest)
	require.NoError(t, err)
	require.Len(t, res.Stages, 1)
	assert.Equal(t, 2, res.Stages[0].Attempts)
	assert.Equal(t, 2, flaky.Calls())

	stored, err := m.Artifacts.Retrieve(ctx, res.Output.Name, "observer")
	require.NoError(t, err)
	assert.Equal(t, "P-1042", stored.Content.(map[string]any)["portfolio"])
}

func TestPipeline_FailsAfterRetryBudget(t *testing.T) {
	m := testutil.NewMesh(t, nil, riskmesh.WithPipeline(fixtures.RetryPipeline(1)))
	ctx := testutil.Context(t)

	w := m.NewWorker("analyst").Handle(a2a.CapabilityAnalyzeRisk,
		testutil.FailingHandler("model diverged"))
	require.NoError(t, w.Register())
	w.Start(ctx)
	t.Cleanup(w.Stop)

	_, err := m.Run(ctx, fixtures.PortfolioRequest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model diverged")
}
