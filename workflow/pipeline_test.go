package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskmesh/riskmesh/a2a"
)

func TestPipeline_Validate(t *testing.T) {
	valid := Stage{Name: "s1", Capability: a2a.CapabilityAnalyzeRisk, Priority: a2a.PriorityNormal}

	cases := []struct {
		name     string
		pipeline Pipeline
		wantErr  string
	}{
		{
			name:     "ok",
			pipeline: Pipeline{Name: "p", Stages: []Stage{valid}},
		},
		{
			name:     "missing name",
			pipeline: Pipeline{Stages: []Stage{valid}},
			wantErr:  "name is required",
		},
		{
			name:     "no stages",
			pipeline: Pipeline{Name: "p"},
			wantErr:  "no stages",
		},
		{
			name:     "unnamed stage",
			pipeline: Pipeline{Name: "p", Stages: []Stage{{Capability: "x", Priority: a2a.PriorityNormal}}},
			wantErr:  "has no name",
		},
		{
			name:     "missing capability",
			pipeline: Pipeline{Name: "p", Stages: []Stage{{Name: "s1", Priority: a2a.PriorityNormal}}},
			wantErr:  "no capability",
		},
		{
			name: "negative retries",
			pipeline: Pipeline{Name: "p", Stages: []Stage{
				{Name: "s1", Capability: "x", Retries: -1, Priority: a2a.PriorityNormal},
			}},
			wantErr: "negative retries",
		},
		{
			name: "priority out of range",
			pipeline: Pipeline{Name: "p", Stages: []Stage{
				{Name: "s1", Capability: "x", Priority: a2a.Priority(42)},
			}},
			wantErr: "priority out of range",
		},
		{
			name:     "duplicate stage names",
			pipeline: Pipeline{Name: "p", Stages: []Stage{valid, valid}},
			wantErr:  "duplicate stage name",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.pipeline.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRiskAnalysisPipeline(t *testing.T) {
	p := RiskAnalysisPipeline()
	require.NoError(t, p.Validate())
	require.Len(t, p.Stages, 3)

	assert.Equal(t, a2a.CapabilityValidateData, p.Stages[0].Capability)
	assert.Equal(t, a2a.CapabilityAnalyzeRisk, p.Stages[1].Capability)
	assert.Equal(t, a2a.CapabilityRecommend, p.Stages[2].Capability)

	for _, s := range p.Stages {
		assert.GreaterOrEqual(t, s.Retries, 1, "stage %s", s.Name)
		assert.Equal(t, time.Duration(0), s.Timeout, "stages defer to the task manager default")
	}
}
