package workflow

import (
	"fmt"

	"github.com/riskmesh/riskmesh/a2a"
	"github.com/riskmesh/riskmesh/artifact"
)

// Stage dispatch payload fields. Requests and responses travel as
// structured-data parts so remote agents can interoperate over the wire
// format without Go types.
const (
	fieldTaskID   = "taskId"
	fieldStage    = "stage"
	fieldRequest  = "request"
	fieldOutput   = "output"
	fieldInput    = "input"
	fieldStatus   = "status"
	fieldError    = "error"
	fieldArtifact = "artifact"
)

// Stage response statuses.
const (
	statusCompleted = "completed"
	statusFailed    = "failed"
)

// StageRequest is the decoded work order one agent receives for one task.
type StageRequest struct {
	TaskID     string
	Capability a2a.Capability
	Request    string
	OutputName string

	// InputRef points at the previous stage's artifact; zero for the
	// first stage.
	InputRef artifact.Ref

	// Input is the fetched input artifact, nil when InputRef is zero.
	// The worker resolves it before invoking the handler.
	Input *artifact.Artifact
}

// stageRequestPart encodes a work order as a structured-data part.
func stageRequestPart(taskID string, capability a2a.Capability, request, output string, input artifact.Ref) a2a.Part {
	payload := map[string]any{
		fieldTaskID:  taskID,
		fieldStage:   capability.String(),
		fieldRequest: request,
		fieldOutput:  output,
	}
	if !input.IsZero() {
		payload[fieldInput] = refToMap(input)
	}
	return a2a.DataPart(payload)
}

// stageResponseParts encodes a terminal stage report.
func stageResponseParts(taskID, status, errText string, ref artifact.Ref) []a2a.Part {
	payload := map[string]any{
		fieldTaskID: taskID,
		fieldStatus: status,
	}
	if errText != "" {
		payload[fieldError] = errText
	}
	if !ref.IsZero() {
		payload[fieldArtifact] = refToMap(ref)
	}
	return []a2a.Part{a2a.DataPart(payload)}
}

// parseStageRequest decodes the first structured-data part of a dispatch
// message. It tolerates JSON-decoded numerics so requests arriving over a
// WebSocket inbox parse the same as in-process ones.
func parseStageRequest(msg *a2a.Message) (*StageRequest, error) {
	var payload map[string]any
	for _, p := range msg.Parts {
		if p.ContentType == a2a.ContentTypeJSON {
			if m, ok := p.Payload.(map[string]any); ok {
				payload = m
				break
			}
		}
	}
	if payload == nil {
		return nil, fmt.Errorf("workflow: dispatch message %s has no structured-data part", msg.ID)
	}

	req := &StageRequest{
		TaskID:     stringField(payload, fieldTaskID),
		Capability: a2a.Capability(stringField(payload, fieldStage)),
		Request:    stringField(payload, fieldRequest),
		OutputName: stringField(payload, fieldOutput),
	}
	if req.TaskID == "" {
		return nil, fmt.Errorf("workflow: dispatch message %s missing task id", msg.ID)
	}
	if req.Capability == "" {
		return nil, fmt.Errorf("workflow: dispatch message %s missing stage", msg.ID)
	}
	if req.OutputName == "" {
		return nil, fmt.Errorf("workflow: dispatch message %s missing output name", msg.ID)
	}
	if raw, ok := payload[fieldInput].(map[string]any); ok {
		req.InputRef = refFromMap(raw)
	}
	return req, nil
}

func refToMap(ref artifact.Ref) map[string]any {
	return map[string]any{
		"name":     ref.Name,
		"version":  ref.Version,
		"checksum": ref.Checksum,
	}
}

func refFromMap(m map[string]any) artifact.Ref {
	return artifact.Ref{
		Name:     stringField(m, "name"),
		Version:  intField(m, "version"),
		Checksum: stringField(m, "checksum"),
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
