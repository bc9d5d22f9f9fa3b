package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riskmesh/riskmesh/a2a"
	"github.com/riskmesh/riskmesh/artifact"
	"github.com/riskmesh/riskmesh/internal/metrics"
	"github.com/riskmesh/riskmesh/types"
)

// AgentGate claims and releases agents around assignments. Implemented by
// the session manager; tests use stubs.
type AgentGate interface {
	// MarkBusy atomically claims an idle agent. Fails when the agent is
	// unknown or not IDLE.
	MarkBusy(agentID string) error

	// Release returns a busy agent to idle.
	Release(agentID string)
}

// Config tunes lifecycle enforcement.
type Config struct {
	// DefaultTimeout applies to tasks created without one.
	DefaultTimeout time.Duration

	// SweepInterval is how often the timeout/retention sweep runs.
	SweepInterval time.Duration

	// RetentionWindow is how long terminal tasks stay readable before the
	// sweep purges them. Zero keeps them forever.
	RetentionWindow time.Duration
}

// DefaultConfig matches the shipped configuration defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:  5 * time.Minute,
		SweepInterval:   time.Second,
		RetentionWindow: time.Hour,
	}
}

// Manager owns every task record and enforces the lifecycle state machine.
// Cross-entity writes keep one order: the task record changes first, the
// agent's availability second. A crash between the two leaves a RUNNING
// task whose agent was never claimed or released; the sweep reconciles it
// when the deadline passes.
type Manager struct {
	cfg     Config
	logger  *zap.Logger
	gate    AgentGate
	metrics *metrics.Collector
	now     func() time.Time

	mu    sync.Mutex
	tasks map[string]*record

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option customizes manager construction.
type Option func(*Manager)

// WithMetrics records task lifecycle traffic on the collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// NewManager builds a task manager over the agent gate. A nil gate skips
// availability checks, which only tests should rely on. The sweep does not
// run until Start is called.
func NewManager(cfg Config, gate AgentGate, logger *zap.Logger, opts ...Option) *Manager {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "task_manager")),
		gate:   gate,
		now:    time.Now,
		tasks:  make(map[string]*record),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a new task in CREATED state. A zero timeout selects the
// configured default.
func (m *Manager) Create(description string, timeout time.Duration, priority a2a.Priority) (Task, error) {
	if description == "" {
		return Task{}, types.NewError(types.ErrValidation, "empty task description")
	}
	if timeout < 0 {
		return Task{}, types.NewError(types.ErrValidation, "negative task timeout")
	}
	if !priority.Valid() {
		return Task{}, types.NewError(types.ErrValidation, "priority out of range")
	}
	if timeout == 0 {
		timeout = m.cfg.DefaultTimeout
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	rec := &record{
		Task: Task{
			ID:          uuid.New().String(),
			Description: description,
			State:       StateCreated,
			Priority:    priority,
			Timeout:     timeout,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		cancelCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	m.tasks[rec.ID] = rec
	m.publishActiveLocked()

	m.logger.Info("task created",
		zap.String("task_id", rec.ID),
		zap.Duration("timeout", timeout),
		zap.String("priority", priority.String()),
	)
	return rec.snapshot(), nil
}

// Get returns a read snapshot of the task.
func (m *Manager) Get(taskID string) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tasks[taskID]
	if !ok {
		return Task{}, types.NewError(types.ErrNotFound, "task not found: "+taskID)
	}
	return rec.snapshot(), nil
}

// List returns snapshots of every retained task, oldest first.
func (m *Manager) List() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Task, 0, len(m.tasks))
	for _, rec := range m.tasks {
		out = append(out, rec.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Assign hands a CREATED task to an idle agent, moving it to RUNNING. The
// task record transitions first, then the agent is claimed; if the claim
// fails the transition is undone before the lock is released, so callers
// never observe the intermediate state.
func (m *Manager) Assign(taskID, agentID string) error {
	if agentID == "" {
		return types.NewError(types.ErrValidation, "empty agent id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tasks[taskID]
	if !ok {
		return types.NewError(types.ErrNotFound, "task not found: "+taskID)
	}
	if rec.State != StateCreated {
		return types.NewError(types.ErrInvalidState,
			"cannot assign task in state "+string(rec.State))
	}

	prev := rec.UpdatedAt
	rec.State = StateRunning
	rec.AssignedAgent = agentID
	rec.UpdatedAt = m.now().UTC()

	if m.gate != nil {
		if err := m.gate.MarkBusy(agentID); err != nil {
			rec.State = StateCreated
			rec.AssignedAgent = ""
			rec.UpdatedAt = prev
			return types.NewError(types.ErrAgentUnavailable, "agent cannot take the task").
				WithCause(err).WithAgent(agentID)
		}
	}

	m.metrics.RecordTaskTransition(string(StateCreated), string(StateRunning))
	m.logger.Info("task assigned",
		zap.String("task_id", taskID),
		zap.String("agent_id", agentID),
	)
	return nil
}

// Complete finishes a RUNNING task with its result artifact. Completing an
// already-COMPLETED task with the same ref is a no-op; a different ref is
// rejected because a completed result is immutable.
func (m *Manager) Complete(taskID string, ref artifact.Ref) error {
	if ref.IsZero() {
		return types.NewError(types.ErrValidation, "empty artifact ref")
	}

	m.mu.Lock()
	rec, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return types.NewError(types.ErrNotFound, "task not found: "+taskID)
	}
	if rec.State == StateCompleted {
		same := rec.Result == ref
		m.mu.Unlock()
		if same {
			return nil
		}
		return types.NewError(types.ErrInvalidState,
			"task already completed with a different artifact")
	}
	if rec.State != StateRunning {
		m.mu.Unlock()
		return types.NewError(types.ErrInvalidState,
			"cannot complete task in state "+string(rec.State))
	}

	agent := rec.AssignedAgent
	rec.Result = ref
	m.finishLocked(rec, StateCompleted)
	m.mu.Unlock()

	m.releaseAgent(agent)
	m.logger.Info("task completed",
		zap.String("task_id", taskID),
		zap.String("artifact", ref.Name),
		zap.Int("version", ref.Version),
	)
	return nil
}

// Fail marks a RUNNING task failed, recording the error context. Retrying
// is the coordinator's decision at the task-creation level; the manager
// never resubmits work.
func (m *Manager) Fail(taskID string, errContext string) error {
	m.mu.Lock()
	rec, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return types.NewError(types.ErrNotFound, "task not found: "+taskID)
	}
	if rec.State != StateRunning {
		m.mu.Unlock()
		return types.NewError(types.ErrInvalidState,
			"cannot fail task in state "+string(rec.State))
	}

	agent := rec.AssignedAgent
	rec.Error = errContext
	m.finishLocked(rec, StateFailed)
	m.mu.Unlock()

	m.releaseAgent(agent)
	m.logger.Warn("task failed",
		zap.String("task_id", taskID),
		zap.String("error", errContext),
	)
	return nil
}

// Cancel moves a CREATED or RUNNING task to CANCELLED and closes its
// cancellation channel so in-flight work can observe the signal.
// Cancelling an already-terminal task is a no-op.
func (m *Manager) Cancel(taskID string) error {
	m.mu.Lock()
	rec, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return types.NewError(types.ErrNotFound, "task not found: "+taskID)
	}
	if rec.State.IsTerminal() {
		m.mu.Unlock()
		return nil
	}

	agent := rec.AssignedAgent
	m.finishLocked(rec, StateCancelled)
	m.mu.Unlock()

	m.releaseAgent(agent)
	m.logger.Info("task cancelled", zap.String("task_id", taskID))
	return nil
}

// CancelRunningFor cancels every RUNNING task assigned to one of the given
// agents. The session manager calls this when a session expires.
func (m *Manager) CancelRunningFor(ctx context.Context, agentIDs []string) int {
	targets := make(map[string]struct{}, len(agentIDs))
	for _, id := range agentIDs {
		targets[id] = struct{}{}
	}

	m.mu.Lock()
	var ids []string
	for id, rec := range m.tasks {
		if rec.State != StateRunning {
			continue
		}
		if _, ok := targets[rec.AssignedAgent]; ok {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	cancelled := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if err := m.Cancel(id); err == nil {
			cancelled++
		}
	}
	return cancelled
}

// Watch returns a channel closed when the task reaches a terminal state.
// Watching a terminal task yields an already-closed channel.
func (m *Manager) Watch(taskID string) (<-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tasks[taskID]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "task not found: "+taskID)
	}
	return rec.doneCh, nil
}

// Cancelled returns the task's cancellation signal channel. Workers select
// on it alongside their own context while executing.
func (m *Manager) Cancelled(taskID string) (<-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tasks[taskID]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "task not found: "+taskID)
	}
	return rec.cancelCh, nil
}

// ActiveCount returns how many tasks are not yet terminal.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

// Start launches the timeout/retention sweep.
func (m *Manager) Start(ctx context.Context) {
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
			m.sweep()
		}
	}
}

// sweep expires overdue tasks and purges terminal tasks past retention.
// Expiry treats CREATED and RUNNING alike: a task nobody picked up still
// owes its caller an answer by the deadline.
func (m *Manager) sweep() {
	now := m.now().UTC()

	m.mu.Lock()
	type expired struct {
		id    string
		agent string
	}
	var timedOut []expired
	var purged []string
	for id, rec := range m.tasks {
		switch {
		case !rec.State.IsTerminal():
			if now.Sub(rec.UpdatedAt) > rec.Timeout {
				timedOut = append(timedOut, expired{id: id, agent: rec.AssignedAgent})
				m.finishLocked(rec, StateTimeout)
			}
		case m.cfg.RetentionWindow > 0 && now.Sub(rec.UpdatedAt) > m.cfg.RetentionWindow:
			// Purge removes only the record; artifacts referenced by the
			// result live in the artifact store and are untouched.
			delete(m.tasks, id)
			purged = append(purged, id)
		}
	}
	if len(purged) > 0 {
		m.publishActiveLocked()
	}
	m.mu.Unlock()

	for _, e := range timedOut {
		m.releaseAgent(e.agent)
		m.logger.Warn("task timed out",
			zap.String("task_id", e.id),
			zap.String("agent_id", e.agent),
		)
	}
	if len(purged) > 0 {
		m.logger.Debug("purged terminal tasks", zap.Int("count", len(purged)))
	}
}

// finishLocked applies a terminal transition: timestamps, the done and
// cancel channels, and metrics. Callers hold the manager lock and have
// already validated the transition.
func (m *Manager) finishLocked(rec *record, final State) {
	from := rec.State
	rec.State = final
	rec.UpdatedAt = m.now().UTC()

	// Cancellation and timeout interrupt in-flight work; completion and
	// failure mean the worker already stopped on its own.
	if final == StateCancelled || final == StateTimeout {
		select {
		case <-rec.cancelCh:
		default:
			close(rec.cancelCh)
		}
	}
	close(rec.doneCh)

	m.metrics.RecordTaskTransition(string(from), string(final))
	m.metrics.RecordTaskDone(string(final), rec.UpdatedAt.Sub(rec.CreatedAt))
	m.publishActiveLocked()
}

func (m *Manager) releaseAgent(agentID string) {
	if agentID == "" || m.gate == nil {
		return
	}
	m.gate.Release(agentID)
}

func (m *Manager) activeLocked() int {
	n := 0
	for _, rec := range m.tasks {
		if !rec.State.IsTerminal() {
			n++
		}
	}
	return n
}

func (m *Manager) publishActiveLocked() {
	m.metrics.SetTasksActive(m.activeLocked())
}
