package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/riskmesh/riskmesh/a2a"
	"github.com/riskmesh/riskmesh/artifact"
	"github.com/riskmesh/riskmesh/router"
	"github.com/riskmesh/riskmesh/task"
	"github.com/riskmesh/riskmesh/transport"
	"github.com/riskmesh/riskmesh/types"
)

// Handler executes one stage of work. It returns the structured content of
// the artifact the stage produces. The context is cancelled when the task
// is cancelled or timed out, and the handler is expected to stop within
// the worker's grace period.
type Handler func(ctx context.Context, req *StageRequest) (map[string]any, error)

// WorkerConfig tunes one agent's worker loop.
type WorkerConfig struct {
	// InboxSize is the buffered capacity of the worker's channel inbox.
	InboxSize int

	// SendTimeout bounds deliveries into the inbox.
	SendTimeout time.Duration

	// HeartbeatInterval is how often the worker signals liveness. Zero
	// disables heartbeating (tests).
	HeartbeatInterval time.Duration

	// CancelGrace is how long an interrupted handler gets to return
	// before its in-flight work is abandoned.
	CancelGrace time.Duration
}

// DefaultWorkerConfig matches the shipped configuration defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		InboxSize:         64,
		SendTimeout:       5 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		CancelGrace:       3 * time.Second,
	}
}

// Worker is one agent's execution loop: it consumes dispatch requests from
// its inbox, runs the registered capability handler, stores the produced
// artifact, reports the terminal state to the task manager and answers
// with a RESPONSE envelope. Cancellation arrives as a closed channel from
// the task manager, never as an unwind.
type Worker struct {
	agentID   string
	cfg       WorkerConfig
	handlers  map[a2a.Capability]Handler
	inbox     *transport.ChannelInbox
	router    *router.Router
	tasks     *task.Manager
	artifacts *artifact.Manager
	logger    *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker builds a worker for one agent. Handlers are registered with
// Handle before Start; the agent card advertises exactly the handled
// capabilities.
func NewWorker(agentID string, cfg WorkerConfig, rt *router.Router, tasks *task.Manager, artifacts *artifact.Manager, logger *zap.Logger) *Worker {
	if cfg.InboxSize < 1 {
		cfg.InboxSize = 64
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		agentID:   agentID,
		cfg:       cfg,
		handlers:  make(map[a2a.Capability]Handler),
		inbox:     transport.NewChannelInbox(cfg.InboxSize, cfg.SendTimeout),
		router:    rt,
		tasks:     tasks,
		artifacts: artifacts,
		logger:    logger.With(zap.String("component", "worker"), zap.String("agent_id", agentID)),
		stopCh:    make(chan struct{}),
	}
}

// Handle registers the handler for one capability. Returns the worker for
// chaining.
func (w *Worker) Handle(capability a2a.Capability, h Handler) *Worker {
	w.handlers[capability] = h
	return w
}

// Card builds the registration card advertising the handled capabilities.
func (w *Worker) Card() *a2a.AgentCard {
	caps := make([]a2a.Capability, 0, len(w.handlers))
	for c := range w.handlers {
		caps = append(caps, c)
	}
	return a2a.NewAgentCard(w.agentID, caps...)
}

// Inbox exposes the delivery target for registration.
func (w *Worker) Inbox() *transport.ChannelInbox {
	return w.inbox
}

// Register registers the worker's card and inbox with the router.
func (w *Worker) Register() error {
	return w.router.Register(w.Card(), w.inbox)
}

// Start launches the consume loop and the heartbeat ticker.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
	if w.cfg.HeartbeatInterval > 0 {
		w.wg.Add(1)
		go w.heartbeatLoop(ctx)
	}
}

// Stop halts the loops and waits for the in-flight request to settle.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-w.inbox.Done():
			return
		case msg := <-w.inbox.Receive():
			if msg.Type != a2a.MessageTypeRequest {
				continue
			}
			w.handleRequest(ctx, msg)
		}
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.router.Heartbeat(w.agentID); err != nil {
				w.logger.Warn("heartbeat rejected", zap.Error(err))
			}
		}
	}
}

// handleRequest runs one dispatch to its terminal report.
func (w *Worker) handleRequest(ctx context.Context, msg *a2a.Message) {
	req, err := parseStageRequest(msg)
	if err != nil {
		w.logger.Warn("unparseable dispatch", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	log := w.logger.With(zap.String("task_id", req.TaskID), zap.String("stage", req.Capability.String()))

	handler, ok := w.handlers[req.Capability]
	if !ok {
		w.reportFailure(ctx, msg, req, fmt.Sprintf("agent %s does not handle %s", w.agentID, req.Capability))
		return
	}

	if !req.InputRef.IsZero() {
		input, err := w.artifacts.RetrieveVersion(ctx, req.InputRef.Name, req.InputRef.Version, w.agentID)
		if err != nil {
			w.reportFailure(ctx, msg, req, "input artifact unavailable: "+err.Error())
			return
		}
		req.Input = input
	}

	cancelCh, err := w.tasks.Cancelled(req.TaskID)
	if err != nil {
		log.Warn("task unknown at execution time", zap.Error(err))
		return
	}

	out, err := w.execute(ctx, handler, req, cancelCh)
	if errors.Is(err, errAbandoned) {
		// The task manager already owns the terminal state.
		log.Warn("in-flight work abandoned after cancellation")
		return
	}
	if err != nil {
		w.reportFailure(ctx, msg, req, err.Error())
		return
	}

	ref, err := w.artifacts.Store(ctx, &artifact.Artifact{
		Meta: artifact.Meta{
			Name:  req.OutputName,
			Type:  a2a.ContentTypeJSON,
			Owner: w.agentID,
		},
		Content: out,
	})
	if err != nil {
		w.reportFailure(ctx, msg, req, "storing result: "+err.Error())
		return
	}

	if err := w.tasks.Complete(req.TaskID, ref); err != nil {
		// Lost the race against cancel or timeout; the result artifact
		// stays stored but unreferenced.
		log.Warn("completion rejected", zap.Error(err))
		return
	}

	w.reply(ctx, msg, stageResponseParts(req.TaskID, statusCompleted, "", ref))
	log.Info("stage completed", zap.String("artifact", ref.Name), zap.Int("version", ref.Version))
}

// errAbandoned marks handler work dropped after a cancellation signal.
var errAbandoned = errors.New("workflow: work abandoned")

// execute runs the handler while watching the task's cancellation channel.
// On cancellation the handler's context is cancelled and it gets the grace
// period to return; after that the work is abandoned and its eventual
// result dropped.
func (w *Worker) execute(ctx context.Context, handler Handler, req *StageRequest, cancelCh <-chan struct{}) (map[string]any, error) {
	hctx, hcancel := context.WithCancel(ctx)
	defer hcancel()

	type outcome struct {
		out map[string]any
		err error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		out, err := handler(hctx, req)
		resultCh <- outcome{out: out, err: err}
	}()

	select {
	case res := <-resultCh:
		return res.out, res.err
	case <-cancelCh:
		hcancel()
		grace := time.NewTimer(w.cfg.CancelGrace)
		defer grace.Stop()
		select {
		case <-resultCh:
		case <-grace.C:
		}
		return nil, errAbandoned
	}
}

// reportFailure records the failure on the task and answers the dispatch.
func (w *Worker) reportFailure(ctx context.Context, msg *a2a.Message, req *StageRequest, reason string) {
	if err := w.tasks.Fail(req.TaskID, reason); err != nil {
		if types.GetErrorCode(err) != types.ErrNotFound {
			w.logger.Warn("failure report rejected",
				zap.String("task_id", req.TaskID), zap.Error(err))
		}
	}
	w.reply(ctx, msg, stageResponseParts(req.TaskID, statusFailed, reason, artifact.Ref{}))
}

// reply answers the dispatch with a correlated RESPONSE. Reply delivery is
// best-effort: the task manager's state, not the response, is the source
// of truth for the coordinator.
func (w *Worker) reply(ctx context.Context, msg *a2a.Message, parts []a2a.Part) {
	resp, err := msg.Reply(w.agentID, parts)
	if err != nil {
		w.logger.Warn("building response failed", zap.Error(err))
		return
	}
	if _, err := w.router.Route(ctx, resp); err != nil {
		w.logger.Warn("response undelivered",
			zap.String("correlation_id", resp.CorrelationID), zap.Error(err))
	}
}
