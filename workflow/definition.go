package workflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/riskmesh/riskmesh/a2a"
)

// PipelineDefinition is the YAML shape of a declarative pipeline file.
// Deployments define custom flows without code:
//
//	name: credit-review
//	stages:
//	  - name: validate
//	    capability: validate-data
//	    retries: 1
//	  - name: analyze
//	    capability: analyze-risk
//	    timeout: 2m
//	    priority: high
type PipelineDefinition struct {
	Name   string            `yaml:"name"`
	Stages []StageDefinition `yaml:"stages"`
}

// StageDefinition is one stage entry of a pipeline file.
type StageDefinition struct {
	Name       string        `yaml:"name"`
	Capability string        `yaml:"capability"`
	Timeout    time.Duration `yaml:"timeout"`
	Retries    int           `yaml:"retries"`
	Priority   string        `yaml:"priority"`
}

// ParsePipeline decodes and validates a pipeline definition.
func ParsePipeline(data []byte) (*Pipeline, error) {
	var def PipelineDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("workflow: parse pipeline definition: %w", err)
	}

	p := &Pipeline{Name: def.Name}
	for _, s := range def.Stages {
		priority, err := parsePriority(s.Priority)
		if err != nil {
			return nil, fmt.Errorf("workflow: stage %q: %w", s.Name, err)
		}
		p.Stages = append(p.Stages, Stage{
			Name:       s.Name,
			Capability: a2a.Capability(s.Capability),
			Timeout:    s.Timeout,
			Retries:    s.Retries,
			Priority:   priority,
		})
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadPipeline reads a pipeline definition file.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read pipeline definition: %w", err)
	}
	return ParsePipeline(data)
}

// parsePriority maps a definition-file priority label to its level. Empty
// selects normal.
func parsePriority(label string) (a2a.Priority, error) {
	switch label {
	case "", a2a.PriorityNormal.String():
		return a2a.PriorityNormal, nil
	case a2a.PriorityLow.String():
		return a2a.PriorityLow, nil
	case a2a.PriorityHigh.String():
		return a2a.PriorityHigh, nil
	case a2a.PriorityCritical.String():
		return a2a.PriorityCritical, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", label)
	}
}
