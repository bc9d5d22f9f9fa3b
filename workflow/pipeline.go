package workflow

import (
	"fmt"
	"time"

	"github.com/riskmesh/riskmesh/a2a"
)

// Stage is one step of a pipeline: the capability an executing agent must
// advertise, plus per-task tuning.
type Stage struct {
	// Name labels the stage in results and logs.
	Name string

	// Capability selects which agents may execute the stage.
	Capability a2a.Capability

	// Timeout bounds each task attempt. Zero selects the task manager's
	// default.
	Timeout time.Duration

	// Retries is how many fresh tasks the coordinator creates after a
	// FAILED or TIMEOUT attempt before giving up on the run.
	Retries int

	// Priority is carried on the stage's tasks and messages.
	Priority a2a.Priority
}

// Pipeline is an ordered sequence of stages. Each stage consumes the
// artifact produced by the previous one.
type Pipeline struct {
	Name   string
	Stages []Stage
}

// Validate rejects pipelines the coordinator cannot run.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("workflow: pipeline name is required")
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("workflow: pipeline %q has no stages", p.Name)
	}
	seen := make(map[string]struct{}, len(p.Stages))
	for i, s := range p.Stages {
		if s.Name == "" {
			return fmt.Errorf("workflow: pipeline %q stage %d has no name", p.Name, i)
		}
		if s.Capability == "" {
			return fmt.Errorf("workflow: stage %q has no capability", s.Name)
		}
		if s.Retries < 0 {
			return fmt.Errorf("workflow: stage %q has negative retries", s.Name)
		}
		if !s.Priority.Valid() {
			return fmt.Errorf("workflow: stage %q priority out of range", s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("workflow: duplicate stage name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

// RiskAnalysisPipeline is the standard three-stage analysis flow: validate
// the input data, analyze the risk, then generate recommendations.
func RiskAnalysisPipeline() *Pipeline {
	return &Pipeline{
		Name: "risk-analysis",
		Stages: []Stage{
			{
				Name:       "validate",
				Capability: a2a.CapabilityValidateData,
				Retries:    1,
				Priority:   a2a.PriorityNormal,
			},
			{
				Name:       "analyze",
				Capability: a2a.CapabilityAnalyzeRisk,
				Retries:    1,
				Priority:   a2a.PriorityHigh,
			},
			{
				Name:       "recommend",
				Capability: a2a.CapabilityRecommend,
				Retries:    1,
				Priority:   a2a.PriorityNormal,
			},
		},
	}
}
