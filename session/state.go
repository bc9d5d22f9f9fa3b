package session

import "time"

// AgentStatus is an agent's position in the availability state machine.
type AgentStatus string

const (
	// StatusIdle means the agent can accept an assignment.
	StatusIdle AgentStatus = "IDLE"

	// StatusBusy means the agent is executing a task.
	StatusBusy AgentStatus = "BUSY"

	// StatusError means the agent failed or stopped heartbeating; it must
	// pass through RECOVERING before becoming assignable again.
	StatusError AgentStatus = "ERROR"

	// StatusRecovering means the agent is re-establishing itself after an
	// error.
	StatusRecovering AgentStatus = "RECOVERING"
)

// Valid reports whether s is a defined status.
func (s AgentStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusBusy, StatusError, StatusRecovering:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving to next is legal. Identity
// transitions are allowed so that idempotent updates don't error. An idle
// agent has nothing to recover from, so IDLE never moves to RECOVERING
// directly.
func (s AgentStatus) CanTransitionTo(next AgentStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusIdle:
		return next == StatusBusy || next == StatusError
	case StatusBusy:
		return next == StatusIdle || next == StatusError
	case StatusError:
		return next == StatusRecovering
	case StatusRecovering:
		return next == StatusIdle || next == StatusError
	}
	return false
}

// AgentState is one agent's availability record inside a session.
type AgentState struct {
	AgentID      string
	Status       AgentStatus
	LastChangeAt time.Time
}
