package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/riskmesh/riskmesh/workflow"
)

// StaticHandler returns the same output for every stage invocation.
func StaticHandler(output map[string]any) workflow.Handler {
	return func(ctx context.Context, req *workflow.StageRequest) (map[string]any, error) {
		return output, nil
	}
}

// EchoHandler reflects the stage request back as the stage output, so
// tests can assert on what the worker actually received.
func EchoHandler() workflow.Handler {
	return func(ctx context.Context, req *workflow.StageRequest) (map[string]any, error) {
		out := map[string]any{
			"capability": req.Capability.String(),
			"request":    req.Request,
		}
		if req.Input != nil {
			out["input"] = req.Input.Name
		}
		return out, nil
	}
}

// FailingHandler fails every invocation with msg.
func FailingHandler(msg string) workflow.Handler {
	return func(ctx context.Context, req *workflow.StageRequest) (map[string]any, error) {
		return nil, errors.New(msg)
	}
}

// SlowHandler sleeps for d before returning output, honoring
// cancellation.
func SlowHandler(d time.Duration, output map[string]any) workflow.Handler {
	return func(ctx context.Context, req *workflow.StageRequest) (map[string]any, error) {
		select {
		case <-time.After(d):
			return output, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// FlakyHandler fails the first failures invocations, then returns output.
// Calls reports how many invocations happened.
type FlakyHandler struct {
	failures int64
	output   map[string]any
	calls    atomic.Int64
}

func NewFlakyHandler(failures int, output map[string]any) *FlakyHandler {
	return &FlakyHandler{failures: int64(failures), output: output}
}

func (f *FlakyHandler) Handle(ctx context.Context, req *workflow.StageRequest) (map[string]any, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("scripted transient failure")
	}
	return f.output, nil
}

func (f *FlakyHandler) Calls() int {
	return int(f.calls.Load())
}

// Recorder wraps a handler and records every stage request it sees.
type Recorder struct {
	mu   sync.Mutex
	reqs []*workflow.StageRequest
}

func (r *Recorder) Wrap(h workflow.Handler) workflow.Handler {
	return func(ctx context.Context, req *workflow.StageRequest) (map[string]any, error) {
		r.mu.Lock()
		r.reqs = append(r.reqs, req)
		r.mu.Unlock()
		return h(ctx, req)
	}
}

// Requests returns a snapshot of the recorded stage requests.
func (r *Recorder) Requests() []*workflow.StageRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*workflow.StageRequest, len(r.reqs))
	copy(out, r.reqs)
	return out
}
