package task

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/riskmesh/riskmesh/a2a"
	"github.com/riskmesh/riskmesh/artifact"
	"github.com/riskmesh/riskmesh/types"
)

// opName enumerates the mutations the property machine can attempt.
var opNames = []string{"assign", "complete", "fail", "cancel", "timeout"}

// TestManager_PropertyLegalTransitionsOnly drives one task through random
// operation sequences and checks two things after every step: the state
// only ever follows the legal graph, and a rejected operation leaves the
// snapshot unchanged.
func TestManager_PropertyLegalTransitionsOnly(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m := newTestManager(newGateStub())
		tk, err := m.Create("prop", time.Minute, a2a.PriorityNormal)
		if err != nil {
			rt.Fatalf("create: %v", err)
		}

		steps := rapid.IntRange(1, 12).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			before, _ := m.Get(tk.ID)
			op := rapid.SampledFrom(opNames).Draw(rt, "op")

			var opErr error
			var target State
			switch op {
			case "assign":
				opErr = m.Assign(tk.ID, "agent-a")
				target = StateRunning
			case "complete":
				opErr = m.Complete(tk.ID, artifact.Ref{Name: "r", Version: 1, Checksum: "c"})
				target = StateCompleted
			case "fail":
				opErr = m.Fail(tk.ID, "boom")
				target = StateFailed
			case "cancel":
				opErr = m.Cancel(tk.ID)
				target = StateCancelled
			case "timeout":
				saved := m.now
				m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
				m.sweep()
				m.now = saved
				target = StateTimeout
			}

			after, getErr := m.Get(tk.ID)
			if getErr != nil {
				rt.Fatalf("task vanished mid-run: %v", getErr)
			}

			if after.State != before.State {
				if !before.State.CanTransitionTo(after.State) {
					rt.Fatalf("illegal transition %s -> %s via %s", before.State, after.State, op)
				}
				if after.State != target {
					rt.Fatalf("op %s produced %s, expected %s", op, after.State, target)
				}
			}

			// A rejected mutation must not move the task. Cancel on a
			// terminal task reports success but is defined as a no-op.
			if opErr != nil {
				code := types.GetErrorCode(opErr)
				if code != types.ErrInvalidState && code != types.ErrValidation {
					rt.Fatalf("op %s failed with unexpected code %s: %v", op, code, opErr)
				}
				if after.State != before.State {
					rt.Fatalf("op %s errored but moved the task %s -> %s", op, before.State, after.State)
				}
			}

			if before.State.IsTerminal() && after.State != before.State {
				rt.Fatalf("terminal state %s changed to %s", before.State, after.State)
			}
		}
	})
}
