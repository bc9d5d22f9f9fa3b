package session

import (
	"sort"
	"time"
)

// Session is the explicit handle for one orchestration run. It exclusively
// owns the availability state of the agents enrolled in it; nothing outside
// the manager mutates these records.
type Session struct {
	ID        string
	CreatedAt time.Time

	// lastActive drives TTL expiry; refreshed by every operation that
	// touches the session.
	lastActive time.Time
	agents     map[string]*AgentState

	// values is the opaque context store scoped to this run.
	values map[string]any
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:         id,
		CreatedAt:  now,
		lastActive: now,
		agents:     make(map[string]*AgentState),
		values:     make(map[string]any),
	}
}

// snapshotAgents copies the session's agent records, sorted by agent id.
// Callers hold the manager lock.
func (s *Session) snapshotAgents() []AgentState {
	out := make([]AgentState, 0, len(s.agents))
	for _, st := range s.agents {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func (s *Session) agentIDs() []string {
	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
