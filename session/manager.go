package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riskmesh/riskmesh/internal/metrics"
	"github.com/riskmesh/riskmesh/types"
)

// TaskReleaser cancels the running work of agents whose session ended.
// Implemented by the task manager; injected after construction to keep the
// packages independent.
type TaskReleaser interface {
	// CancelRunningFor cancels RUNNING tasks assigned to the given agents
	// and returns how many were cancelled.
	CancelRunningFor(ctx context.Context, agentIDs []string) int
}

// Config tunes session lifetime management.
type Config struct {
	// TTL expires sessions with no activity for this long. Zero disables
	// TTL expiry; sessions then live until expired explicitly.
	TTL time.Duration

	// SweepInterval is how often the expiry sweep runs.
	SweepInterval time.Duration
}

// DefaultConfig matches the shipped configuration defaults.
func DefaultConfig() Config {
	return Config{TTL: 30 * time.Minute, SweepInterval: time.Minute}
}

// Manager owns sessions and, through them, all agent availability state.
// Every status change flows through here, which is what makes the legal
// transition graph enforceable in one place.
type Manager struct {
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu         sync.RWMutex
	sessions   map[string]*Session
	agentOwner map[string]string
	expired    map[string]time.Time

	releaser TaskReleaser

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option customizes a Manager.
type Option func(*Manager)

// WithMetrics records agent status transitions on the collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// NewManager builds a session manager. The expiry sweep does not run until
// Start is called.
func NewManager(cfg Config, logger *zap.Logger, opts ...Option) *Manager {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "session_manager")),
		now:        time.Now,
		sessions:   make(map[string]*Session),
		agentOwner: make(map[string]string),
		expired:    make(map[string]time.Time),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetTaskReleaser wires the task manager in after both sides exist.
func (m *Manager) SetTaskReleaser(r TaskReleaser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaser = r
}

// CreateSession opens a new session with a fresh, empty agent-state map.
func (m *Manager) CreateSession() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := newSession(uuid.New().String(), m.now().UTC())
	m.sessions[s.ID] = s
	m.logger.Info("session created", zap.String("session_id", s.ID))
	return s
}

// resolve returns the live session or the reason it is gone. Callers hold
// the lock.
func (m *Manager) resolve(sessionID string) (*Session, error) {
	if s, ok := m.sessions[sessionID]; ok {
		return s, nil
	}
	if _, ok := m.expired[sessionID]; ok {
		return nil, types.NewError(types.ErrSessionExpired, "session expired")
	}
	return nil, types.NewError(types.ErrNotFound, "session not found")
}

// Get returns the session handle, failing with a session-expired error for
// sessions that have been expired rather than never created.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resolve(sessionID)
}

// UpdateAgentState enrolls the agent on first touch and applies the status
// transition. Illegal transitions fail with an invalid-state error and
// leave the record unchanged. An agent belongs to exactly one session for
// its lifetime.
func (m *Manager) UpdateAgentState(sessionID, agentID string, status AgentStatus) error {
	if agentID == "" {
		return types.NewError(types.ErrValidation, "empty agent id")
	}
	if !status.Valid() {
		return types.NewError(types.ErrValidation, "unknown agent status: "+string(status))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.resolve(sessionID)
	if err != nil {
		return err
	}
	if owner, ok := m.agentOwner[agentID]; ok && owner != sessionID {
		return types.NewError(types.ErrInvalidState, "agent enrolled in another session").WithAgent(agentID)
	}

	now := m.now().UTC()
	st, ok := s.agents[agentID]
	if !ok {
		st = &AgentState{AgentID: agentID, Status: StatusIdle, LastChangeAt: now}
		s.agents[agentID] = st
		m.agentOwner[agentID] = sessionID
	}
	if !st.Status.CanTransitionTo(status) {
		return types.NewError(types.ErrInvalidState,
			"illegal agent transition "+string(st.Status)+" -> "+string(status)).WithAgent(agentID)
	}
	if st.Status != status {
		m.logger.Debug("agent state change",
			zap.String("session_id", sessionID),
			zap.String("agent_id", agentID),
			zap.String("from", string(st.Status)),
			zap.String("to", string(status)),
		)
		m.metrics.RecordAgentTransition(string(st.Status), string(status))
	}
	st.Status = status
	st.LastChangeAt = now
	s.lastActive = now
	return nil
}

// GetAgentState returns one agent's availability record.
func (m *Manager) GetAgentState(sessionID, agentID string) (AgentState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.resolve(sessionID)
	if err != nil {
		return AgentState{}, err
	}
	st, ok := s.agents[agentID]
	if !ok {
		return AgentState{}, types.NewError(types.ErrNotFound, "agent not enrolled").WithAgent(agentID)
	}
	return *st, nil
}

// SetValue stores one entry in the session's opaque context. The context
// carries run-scoped facts (original request, routing hints) between
// operations without widening their signatures.
func (m *Manager) SetValue(sessionID, key string, value any) error {
	if key == "" {
		return types.NewError(types.ErrValidation, "empty context key")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.resolve(sessionID)
	if err != nil {
		return err
	}
	s.values[key] = value
	s.lastActive = m.now().UTC()
	return nil
}

// Value reads one entry from the session's opaque context.
func (m *Manager) Value(sessionID, key string) (any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.resolve(sessionID)
	if err != nil {
		return nil, false, err
	}
	v, ok := s.values[key]
	return v, ok, nil
}

// ListAgents returns the session's agent records sorted by agent id.
func (m *Manager) ListAgents(sessionID string) ([]AgentState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.resolve(sessionID)
	if err != nil {
		return nil, err
	}
	return s.snapshotAgents(), nil
}

// ExpireSession removes the session and cancels the RUNNING tasks of its
// agents. Task cancellation happens after the session state is gone so the
// task manager's agent release finds nothing left to flip.
func (m *Manager) ExpireSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, err := m.resolve(sessionID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	agents := s.agentIDs()
	delete(m.sessions, sessionID)
	for _, id := range agents {
		delete(m.agentOwner, id)
	}
	m.expired[sessionID] = m.now()
	releaser := m.releaser
	m.mu.Unlock()

	cancelled := 0
	if releaser != nil && len(agents) > 0 {
		cancelled = releaser.CancelRunningFor(ctx, agents)
	}
	m.logger.Info("session expired",
		zap.String("session_id", sessionID),
		zap.Int("agents", len(agents)),
		zap.Int("tasks_cancelled", cancelled),
	)
	return nil
}

// MarkBusy atomically claims an idle agent for an assignment. Fails with an
// agent-unavailable error when the agent is unknown or not IDLE.
func (m *Manager) MarkBusy(agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, ok := m.agentOwner[agentID]
	if !ok {
		return types.NewError(types.ErrAgentUnavailable, "agent not enrolled in any session").WithAgent(agentID)
	}
	s := m.sessions[owner]
	st := s.agents[agentID]
	if st.Status != StatusIdle {
		return types.NewError(types.ErrAgentUnavailable,
			"agent not idle: "+string(st.Status)).WithAgent(agentID)
	}
	now := m.now().UTC()
	st.Status = StatusBusy
	st.LastChangeAt = now
	s.lastActive = now
	m.metrics.RecordAgentTransition(string(StatusIdle), string(StatusBusy))
	return nil
}

// Release returns a busy agent to idle after its task reaches a terminal
// state. Agents in ERROR or RECOVERING keep their status; release never
// overrides a health verdict.
func (m *Manager) Release(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, ok := m.agentOwner[agentID]
	if !ok {
		return
	}
	s := m.sessions[owner]
	st := s.agents[agentID]
	if st.Status != StatusBusy {
		return
	}
	now := m.now().UTC()
	st.Status = StatusIdle
	st.LastChangeAt = now
	s.lastActive = now
	m.metrics.RecordAgentTransition(string(StatusBusy), string(StatusIdle))
}

// MarkError flags an agent as failed, typically on missed heartbeats.
// Unknown agents are ignored.
func (m *Manager) MarkError(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, ok := m.agentOwner[agentID]
	if !ok {
		return
	}
	s := m.sessions[owner]
	st := s.agents[agentID]
	if !st.Status.CanTransitionTo(StatusError) {
		return
	}
	if st.Status != StatusError {
		m.logger.Warn("agent marked error", zap.String("agent_id", agentID))
		m.metrics.RecordAgentTransition(string(st.Status), string(StatusError))
	}
	now := m.now().UTC()
	st.Status = StatusError
	st.LastChangeAt = now
	s.lastActive = now
}

// MarkRecovered walks a failed agent back to idle through RECOVERING,
// typically after it re-registers. Healthy agents are left alone.
func (m *Manager) MarkRecovered(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, ok := m.agentOwner[agentID]
	if !ok {
		return
	}
	s := m.sessions[owner]
	st := s.agents[agentID]
	switch st.Status {
	case StatusError, StatusRecovering:
	default:
		return
	}
	now := m.now().UTC()
	// Walk ERROR through RECOVERING so the recorded status sequence only
	// ever contains legal edges. Both writes happen under the lock.
	if st.Status == StatusError {
		st.Status = StatusRecovering
		m.metrics.RecordAgentTransition(string(StatusError), string(StatusRecovering))
	}
	st.Status = StatusIdle
	st.LastChangeAt = now
	s.lastActive = now
	m.metrics.RecordAgentTransition(string(StatusRecovering), string(StatusIdle))
	m.logger.Info("agent recovered", zap.String("agent_id", agentID))
}

// SessionCount returns the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Start launches the TTL expiry sweep. No-op when TTL is disabled.
func (m *Manager) Start(ctx context.Context) {
	if m.cfg.TTL <= 0 {
		return
	}
	m.wg.Add(1)
	go m.sweepLoop(ctx)
}

// Stop halts the sweep and waits for it to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep expires idle sessions and prunes old tombstones.
func (m *Manager) sweep(ctx context.Context) {
	now := m.now()

	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		if now.Sub(s.lastActive) > m.cfg.TTL {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		if err := m.ExpireSession(ctx, id); err != nil {
			m.logger.Warn("sweep expire failed", zap.String("session_id", id), zap.Error(err))
		}
	}

	m.mu.Lock()
	for id, at := range m.expired {
		if now.Sub(at) > m.cfg.TTL {
			delete(m.expired, id)
		}
	}
	m.mu.Unlock()
}
