package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riskmesh/riskmesh/a2a"
	"github.com/riskmesh/riskmesh/artifact"
	"github.com/riskmesh/riskmesh/internal/pool"
	"github.com/riskmesh/riskmesh/router"
	"github.com/riskmesh/riskmesh/session"
	"github.com/riskmesh/riskmesh/task"
	"github.com/riskmesh/riskmesh/transport"
	"github.com/riskmesh/riskmesh/types"
)

// CoordinatorConfig tunes run orchestration.
type CoordinatorConfig struct {
	// Identity is the agent id the coordinator registers under and sends
	// dispatches from.
	Identity string

	// MaxConcurrentRuns bounds pipeline runs executing at once.
	MaxConcurrentRuns int

	// RunQueueSize bounds runs waiting for a slot.
	RunQueueSize int

	// DispatchTTL expires dispatch envelopes that sit undelivered. Zero
	// disables expiry.
	DispatchTTL time.Duration
}

// DefaultCoordinatorConfig matches the shipped configuration defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Identity:          "coordinator",
		MaxConcurrentRuns: 8,
		RunQueueSize:      32,
		DispatchTTL:       time.Minute,
	}
}

// StageResult records how one stage of a run ended.
type StageResult struct {
	Stage    string
	TaskID   string
	Agent    string
	Attempts int
	State    task.State
	Artifact artifact.Ref
}

// Result is the outcome of one pipeline run. Output is the artifact
// reference produced by the final stage.
type Result struct {
	RunID     string
	SessionID string
	Request   string
	Stages    []StageResult
	Output    artifact.Ref
}

// Coordinator sequences task creation across agents to satisfy a request:
// for each pipeline stage it picks an idle capable agent, creates and
// assigns a task, dispatches a REQUEST envelope, awaits the terminal state
// and feeds the produced artifact to the next stage. FAILED and TIMEOUT
// attempts are retried with fresh tasks up to the stage's retry budget;
// retrying lives here, at task-creation level, never inside the task
// manager. Runs execute on a bounded pool so a burst of requests cannot
// spawn unbounded orchestration goroutines.
type Coordinator struct {
	cfg      CoordinatorConfig
	pipeline *Pipeline
	router   *router.Router
	tasks    *task.Manager
	sessions *session.Manager
	logger   *zap.Logger

	runs  *pool.Pool
	inbox *transport.ChannelInbox

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCoordinator builds a coordinator for one pipeline.
func NewCoordinator(cfg CoordinatorConfig, p *Pipeline, rt *router.Router, tasks *task.Manager, sessions *session.Manager, logger *zap.Logger) (*Coordinator, error) {
	if p == nil {
		return nil, fmt.Errorf("workflow: nil pipeline")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if cfg.Identity == "" {
		cfg.Identity = "coordinator"
	}
	if cfg.MaxConcurrentRuns < 1 {
		cfg.MaxConcurrentRuns = 8
	}
	if cfg.RunQueueSize < 0 {
		cfg.RunQueueSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:      cfg,
		pipeline: p,
		router:   rt,
		tasks:    tasks,
		sessions: sessions,
		logger:   logger.With(zap.String("component", "coordinator")),
		runs:     pool.New(cfg.MaxConcurrentRuns, cfg.RunQueueSize),
		inbox:    transport.NewChannelInbox(256, 5*time.Second),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start registers the coordinator's own inbox so workers' RESPONSE
// envelopes have a live destination, and launches the drain loop.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.router.Register(a2a.NewAgentCard(c.cfg.Identity), c.inbox); err != nil {
		return err
	}
	c.wg.Add(1)
	go c.drain(ctx)
	return nil
}

// Stop shuts the run pool down and stops consuming responses.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.runs.Close()
	c.wg.Wait()
}

// drain consumes worker responses. Task state is the source of truth for
// run progress; responses exist for audit and remote interoperability, so
// they are logged and dropped.
func (c *Coordinator) drain(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-c.inbox.Done():
			return
		case msg := <-c.inbox.Receive():
			c.logger.Debug("stage response received",
				zap.String("correlation_id", msg.CorrelationID),
				zap.String("sender", msg.Sender),
			)
		}
	}
}

// Run executes the pipeline for one request, blocking until the run
// finishes or ctx is cancelled. Concurrency is bounded by the run pool.
func (c *Coordinator) Run(ctx context.Context, request string) (*Result, error) {
	if request == "" {
		return nil, types.NewError(types.ErrValidation, "empty request")
	}

	var result *Result
	err := c.runs.SubmitWait(ctx, func(ctx context.Context) error {
		var runErr error
		result, runErr = c.execute(ctx, request)
		return runErr
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

// execute drives one run through every stage inside its own session. The
// session is expired on the way out, which cancels any task the run left
// RUNNING.
func (c *Coordinator) execute(ctx context.Context, request string) (*Result, error) {
	sess := c.sessions.CreateSession()
	defer func() {
		if err := c.sessions.ExpireSession(context.WithoutCancel(ctx), sess.ID); err != nil {
			c.logger.Warn("session cleanup failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}()

	result := &Result{
		RunID:     uuid.New().String(),
		SessionID: sess.ID,
		Request:   request,
	}
	if err := c.sessions.SetValue(sess.ID, "request", request); err != nil {
		c.logger.Warn("session context write failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
	if err := c.sessions.SetValue(sess.ID, "run_id", result.RunID); err != nil {
		c.logger.Warn("session context write failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
	log := c.logger.With(zap.String("run_id", result.RunID))
	log.Info("run started", zap.String("pipeline", c.pipeline.Name), zap.Int("stages", len(c.pipeline.Stages)))

	var input artifact.Ref
	for _, stage := range c.pipeline.Stages {
		sr, err := c.runStage(ctx, sess.ID, result.RunID, stage, request, input)
		result.Stages = append(result.Stages, sr)
		if err != nil {
			log.Warn("run failed",
				zap.String("stage", stage.Name),
				zap.Int("attempts", sr.Attempts),
				zap.Error(err),
			)
			return result, err
		}
		input = sr.Artifact
	}

	result.Output = input
	log.Info("run completed",
		zap.String("artifact", result.Output.Name),
		zap.Int("version", result.Output.Version),
	)
	return result, nil
}

// runStage retries one stage at task-creation level until it completes or
// the retry budget is spent.
func (c *Coordinator) runStage(ctx context.Context, sessionID, runID string, stage Stage, request string, input artifact.Ref) (StageResult, error) {
	sr := StageResult{Stage: stage.Name}
	outputName := fmt.Sprintf("%s.%s", runID, stage.Name)

	var lastErr error
	for attempt := 0; attempt <= stage.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return sr, err
		}
		sr.Attempts = attempt + 1

		state, taskID, agentID, err := c.attemptStage(ctx, sessionID, stage, request, input, outputName)
		sr.TaskID, sr.Agent, sr.State = taskID, agentID, state
		if err != nil {
			lastErr = err
			continue
		}

		switch state {
		case task.StateCompleted:
			done, getErr := c.tasks.Get(taskID)
			if getErr != nil {
				return sr, getErr
			}
			sr.Artifact = done.Result
			return sr, nil
		case task.StateCancelled:
			// Cancellation is externally driven; retrying would fight it.
			return sr, types.NewError(types.ErrInvalidState,
				fmt.Sprintf("stage %q cancelled", stage.Name))
		case task.StateFailed:
			done, _ := c.tasks.Get(taskID)
			lastErr = types.NewError(types.ErrInternal,
				fmt.Sprintf("stage %q failed: %s", stage.Name, done.Error))
		case task.StateTimeout:
			lastErr = types.NewError(types.ErrTaskTimeout,
				fmt.Sprintf("stage %q timed out", stage.Name))
		default:
			lastErr = types.NewError(types.ErrInternal,
				fmt.Sprintf("stage %q ended in unexpected state %s", stage.Name, state))
		}
	}

	if lastErr == nil {
		lastErr = types.NewError(types.ErrInternal, fmt.Sprintf("stage %q produced no attempts", stage.Name))
	}
	return sr, lastErr
}

// attemptStage runs one task attempt end to end: pick an agent, create and
// assign the task, dispatch the work order, await the terminal state.
func (c *Coordinator) attemptStage(ctx context.Context, sessionID string, stage Stage, request string, input artifact.Ref, outputName string) (task.State, string, string, error) {
	description := fmt.Sprintf("%s: %s", stage.Name, request)
	tk, err := c.tasks.Create(description, stage.Timeout, stage.Priority)
	if err != nil {
		return "", "", "", err
	}

	agentID, err := c.claimAgent(sessionID, stage.Capability, tk.ID)
	if err != nil {
		_ = c.tasks.Cancel(tk.ID)
		return "", tk.ID, "", err
	}

	if err := c.dispatch(ctx, agentID, stage, tk.ID, request, input, outputName); err != nil {
		_ = c.tasks.Cancel(tk.ID)
		return "", tk.ID, agentID, err
	}

	done, err := c.tasks.Watch(tk.ID)
	if err != nil {
		return "", tk.ID, agentID, err
	}
	select {
	case <-ctx.Done():
		_ = c.tasks.Cancel(tk.ID)
		return "", tk.ID, agentID, ctx.Err()
	case <-done:
	}

	final, err := c.tasks.Get(tk.ID)
	if err != nil {
		return "", tk.ID, agentID, err
	}
	return final.State, tk.ID, agentID, nil
}

// claimAgent assigns the task to the first idle capable agent. Agents
// enrolled in other sessions or busy elsewhere are skipped; the claim
// itself is the assignment, so two concurrent runs can never pick the
// same agent.
func (c *Coordinator) claimAgent(sessionID string, capability a2a.Capability, taskID string) (string, error) {
	candidates := c.router.AgentsByCapability(capability)
	for _, agentID := range candidates {
		// First touch enrolls the agent into this run's session as IDLE.
		if err := c.sessions.UpdateAgentState(sessionID, agentID, session.StatusIdle); err != nil {
			continue
		}
		if err := c.tasks.Assign(taskID, agentID); err != nil {
			continue
		}
		return agentID, nil
	}
	return "", types.NewError(types.ErrAgentUnavailable,
		fmt.Sprintf("no idle agent with capability %q among %d candidates", capability, len(candidates)))
}

// dispatch routes the stage work order to the assigned agent.
func (c *Coordinator) dispatch(ctx context.Context, agentID string, stage Stage, taskID, request string, input artifact.Ref, outputName string) error {
	opts := []a2a.MessageOption{a2a.WithPriority(stage.Priority)}
	if c.cfg.DispatchTTL > 0 {
		opts = append(opts, a2a.WithTTL(c.cfg.DispatchTTL))
	}
	msg, err := a2a.NewMessage(c.cfg.Identity, []string{agentID}, a2a.MessageTypeRequest,
		[]a2a.Part{stageRequestPart(taskID, stage.Capability, request, outputName, input)}, opts...)
	if err != nil {
		return err
	}

	receipt, err := c.router.Route(ctx, msg)
	if err != nil {
		return types.NewError(types.ErrDeliveryFailed,
			fmt.Sprintf("dispatching stage %q to %s", stage.Name, agentID)).WithCause(err)
	}
	_ = receipt
	return nil
}
