package task

import (
	"time"

	"github.com/riskmesh/riskmesh/a2a"
	"github.com/riskmesh/riskmesh/artifact"
)

// State is a task's position in the lifecycle state machine.
type State string

const (
	// StateCreated means the task exists but no agent holds it.
	StateCreated State = "CREATED"

	// StateRunning means the task is assigned and being executed.
	StateRunning State = "RUNNING"

	// StateCompleted means the task finished and its result artifact is
	// pinned on the record.
	StateCompleted State = "COMPLETED"

	// StateFailed means the assigned agent reported a failure.
	StateFailed State = "FAILED"

	// StateCancelled means the task was cancelled before it finished.
	StateCancelled State = "CANCELLED"

	// StateTimeout means the sweep expired the task after its deadline
	// passed without a terminal report.
	StateTimeout State = "TIMEOUT"
)

// Valid reports whether s is a defined state.
func (s State) Valid() bool {
	switch s {
	case StateCreated, StateRunning, StateCompleted, StateFailed, StateCancelled, StateTimeout:
		return true
	}
	return false
}

// IsTerminal reports whether s admits no further transitions.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateTimeout:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving to next is legal. CREATED tasks
// may time out too: a task nobody ever picks up still has a deadline.
func (s State) CanTransitionTo(next State) bool {
	switch s {
	case StateCreated:
		return next == StateRunning || next == StateCancelled || next == StateTimeout
	case StateRunning:
		return next == StateCompleted || next == StateFailed ||
			next == StateCancelled || next == StateTimeout
	}
	return false
}

// Task is a read snapshot of one unit of work. The manager owns the live
// record; callers never hold a mutable view.
type Task struct {
	ID            string
	Description   string
	State         State
	Priority      a2a.Priority
	Timeout       time.Duration
	CreatedAt     time.Time
	UpdatedAt     time.Time
	AssignedAgent string

	// Result is set only in COMPLETED.
	Result artifact.Ref

	// Error is set only in FAILED.
	Error string
}

// record is the manager-internal mutable task. All mutations happen under
// the manager lock, which serializes writers per task id.
type record struct {
	Task

	// cancelCh is closed when the task is cancelled or timed out, so the
	// executing agent can observe the signal mid-flight.
	cancelCh chan struct{}

	// doneCh is closed on any terminal transition; Watch hands it out.
	doneCh chan struct{}
}

func (r *record) snapshot() Task {
	t := r.Task
	return t
}
