// Package fixtures holds prebuilt cards, pipelines and payloads for
// riskmesh tests.
package fixtures

import (
	"time"

	"github.com/riskmesh/riskmesh/a2a"
	"github.com/riskmesh/riskmesh/workflow"
)

// Card builds a registrable agent card. With no capabilities it defaults
// to validate-data.
func Card(agentID string, capabilities ...a2a.Capability) *a2a.AgentCard {
	if len(capabilities) == 0 {
		capabilities = []a2a.Capability{a2a.CapabilityValidateData}
	}
	return a2a.NewAgentCard(agentID, capabilities...)
}

// SingleStagePipeline is a one-stage pipeline over the given capability.
func SingleStagePipeline(capability a2a.Capability) *workflow.Pipeline {
	return &workflow.Pipeline{
		Name: "single",
		Stages: []workflow.Stage{
			{Name: "only", Capability: capability, Priority: a2a.PriorityNormal},
		},
	}
}

// RetryPipeline is a one-stage pipeline with a retry budget and a short
// per-attempt timeout, for exercising the coordinator's retry path.
func RetryPipeline(retries int) *workflow.Pipeline {
	return &workflow.Pipeline{
		Name: "retrying",
		Stages: []workflow.Stage{
			{
				Name:       "attempt",
				Capability: a2a.CapabilityAnalyzeRisk,
				Timeout:    2 * time.Second,
				Retries:    retries,
				Priority:   a2a.PriorityHigh,
			},
		},
	}
}

// PortfolioRequest is a representative analysis request string.
const PortfolioRequest = "assess concentration risk for portfolio P-1042"

// PortfolioPayload is a representative structured stage output: the kind
// of content analysis stages store as artifacts.
func PortfolioPayload() map[string]any {
	return map[string]any{
		"portfolio": "P-1042",
		"positions": []any{
			map[string]any{"symbol": "XAU", "weight": 0.35},
			map[string]any{"symbol": "SPX", "weight": 0.45},
			map[string]any{"symbol": "BTC", "weight": 0.20},
		},
		"score":  0.62,
		"rating": "elevated",
	}
}

// RequestMessage builds a REQUEST carrying a structured payload.
func RequestMessage(sender, recipient string, payload map[string]any) (*a2a.Message, error) {
	return a2a.NewMessage(sender, []string{recipient}, a2a.MessageTypeRequest,
		[]a2a.Part{a2a.DataPart(payload)})
}
