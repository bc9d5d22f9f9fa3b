package router

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/riskmesh/riskmesh/a2a"
	"github.com/riskmesh/riskmesh/internal/metrics"
	"github.com/riskmesh/riskmesh/resilience"
	"github.com/riskmesh/riskmesh/transport"
	"github.com/riskmesh/riskmesh/types"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("router: closed")

// HealthSink receives the heartbeat monitor's liveness verdicts.
// Implemented by the session manager; a nil sink drops them.
type HealthSink interface {
	MarkError(agentID string)
	MarkRecovered(agentID string)
}

// Config tunes delivery and liveness tracking.
type Config struct {
	// HeartbeatInterval is how often agents must signal liveness.
	HeartbeatInterval time.Duration

	// MissedHeartbeatLimit is how many intervals may pass without a
	// heartbeat before the agent is suppressed.
	MissedHeartbeatLimit int

	// RatePerSecond throttles deliveries per destination. Zero disables
	// the limiter.
	RatePerSecond float64

	// RateBurst is the limiter burst size when RatePerSecond is set.
	RateBurst int
}

// DefaultConfig matches the shipped configuration defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:    10 * time.Second,
		MissedHeartbeatLimit: 3,
	}
}

// registration is one admitted agent: its card, its delivery target and
// its liveness state. Suppression survives heartbeats and is lifted only
// by re-registration.
type registration struct {
	card          *a2a.AgentCard
	inbox         transport.Inbox
	limiter       *rate.Limiter
	registeredAt  time.Time
	lastHeartbeat time.Time
	suppressed    bool
}

// pendingRequest tracks a delivered REQUEST awaiting its RESPONSE.
type pendingRequest struct {
	sender string
	at     time.Time
}

// Router admits agents and delivers envelopes to their inboxes. Direct
// delivery is per-recipient isolated: one unreachable recipient never
// blocks the others, and the caller sees exactly which recipients failed.
// Route returns only after every recipient's outcome is settled, so a
// sender that awaits each call observes send-order delivery per recipient.
type Router struct {
	cfg       Config
	logger    *zap.Logger
	authority *a2a.TokenAuthority
	health    HealthSink
	metrics   *metrics.Collector
	retryer   resilience.Retryer
	breakers  *resilience.BreakerGroup
	tracer    trace.Tracer
	now       func() time.Time

	mu          sync.RWMutex
	agents      map[string]*registration
	capIndex    map[a2a.Capability]map[string]struct{}
	outstanding map[string]pendingRequest
	closed      bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option customizes router construction.
type Option func(*Router)

// WithAuthority enables bearer-token verification of agent cards. Without
// an authority, cards are admitted on structural validation alone.
func WithAuthority(authority *a2a.TokenAuthority) Option {
	return func(r *Router) { r.authority = authority }
}

// WithHealthSink wires the monitor's verdicts into agent state.
func WithHealthSink(sink HealthSink) Option {
	return func(r *Router) { r.health = sink }
}

// WithMetrics records routing traffic on the collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(r *Router) { r.metrics = collector }
}

// WithRetryer replaces the default delivery retry policy.
func WithRetryer(retryer resilience.Retryer) Option {
	return func(r *Router) { r.retryer = retryer }
}

// WithBreakerGroup replaces the default per-destination breakers.
func WithBreakerGroup(group *resilience.BreakerGroup) Option {
	return func(r *Router) { r.breakers = group }
}

// NewRouter builds a router. The heartbeat monitor does not run until
// StartMonitor is called.
func NewRouter(cfg Config, logger *zap.Logger, opts ...Option) *Router {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.MissedHeartbeatLimit <= 0 {
		cfg.MissedHeartbeatLimit = 3
	}
	if cfg.RatePerSecond > 0 && cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Router{
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "router")),
		tracer:      otel.Tracer("riskmesh/router"),
		now:         time.Now,
		agents:      make(map[string]*registration),
		capIndex:    make(map[a2a.Capability]map[string]struct{}),
		outstanding: make(map[string]pendingRequest),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.retryer == nil {
		r.retryer = resilience.NewRetryer(resilience.DefaultPolicy(), logger)
	}
	if r.breakers == nil {
		r.breakers = resilience.NewBreakerGroup(resilience.DefaultBreakerConfig(), logger)
	}
	return r
}

// Register admits the agent or refreshes an existing registration.
// Re-registration replaces the card and inbox, resets the heartbeat
// clock, lifts suppression and resets the destination's breaker; exactly
// one entry per agent id exists afterwards.
func (r *Router) Register(card *a2a.AgentCard, inbox transport.Inbox) error {
	if err := card.Validate(); err != nil {
		return types.NewError(types.ErrValidation, "invalid agent card").WithCause(err)
	}
	if inbox == nil {
		return types.NewError(types.ErrValidation, "nil inbox").WithAgent(card.AgentID)
	}
	if r.authority != nil {
		if err := r.authority.VerifyCard(card); err != nil {
			return types.NewError(types.ErrPermissionDenied, "registration token rejected").
				WithCause(err).WithAgent(card.AgentID)
		}
	}

	var (
		replaced      bool
		wasSuppressed bool
		oldInbox      transport.Inbox
	)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}

	now := r.now().UTC()
	if existing, ok := r.agents[card.AgentID]; ok {
		replaced = true
		wasSuppressed = existing.suppressed
		r.unindexCapabilities(existing.card)
		if existing.inbox != inbox {
			oldInbox = existing.inbox
		}
	}

	reg := &registration{
		card:          card.Clone(),
		inbox:         inbox,
		registeredAt:  now,
		lastHeartbeat: now,
	}
	if r.cfg.RatePerSecond > 0 {
		reg.limiter = rate.NewLimiter(rate.Limit(r.cfg.RatePerSecond), r.cfg.RateBurst)
	}
	r.agents[card.AgentID] = reg
	for _, tag := range reg.card.Capabilities {
		if r.capIndex[tag] == nil {
			r.capIndex[tag] = make(map[string]struct{})
		}
		r.capIndex[tag][card.AgentID] = struct{}{}
	}
	total := len(r.agents)
	r.mu.Unlock()

	// A returning agent starts with a clean delivery record.
	r.breakers.Remove(card.AgentID)
	if oldInbox != nil {
		if err := oldInbox.Close(); err != nil {
			r.logger.Warn("failed to close replaced inbox",
				zap.String("agent_id", card.AgentID), zap.Error(err))
		}
	}
	if wasSuppressed && r.health != nil {
		r.health.MarkRecovered(card.AgentID)
	}

	r.metrics.SetAgentsRegistered(total)
	r.logger.Info("agent registered",
		zap.String("agent_id", card.AgentID),
		zap.Int("capabilities", len(card.Capabilities)),
		zap.Bool("replaced", replaced),
	)
	return nil
}

// Deregister removes the agent and closes its inbox. Routing to it fails
// as unregistered afterwards.
func (r *Router) Deregister(agentID string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	reg, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return types.NewError(types.ErrNotFound, "agent not registered").WithAgent(agentID)
	}
	delete(r.agents, agentID)
	r.unindexCapabilities(reg.card)
	total := len(r.agents)
	r.mu.Unlock()

	r.breakers.Remove(agentID)
	if err := reg.inbox.Close(); err != nil {
		r.logger.Warn("failed to close inbox", zap.String("agent_id", agentID), zap.Error(err))
	}

	r.metrics.SetAgentsRegistered(total)
	r.logger.Info("agent deregistered", zap.String("agent_id", agentID))
	return nil
}

// Heartbeat records a liveness signal. It does not lift suppression: a
// suppressed agent stays unreachable until it re-registers.
func (r *Router) Heartbeat(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	reg, ok := r.agents[agentID]
	if !ok {
		return types.NewError(types.ErrNotFound, "agent not registered").WithAgent(agentID)
	}
	reg.lastHeartbeat = r.now().UTC()
	return nil
}

// Card returns a copy of the agent's registration card.
func (r *Router) Card(agentID string) (*a2a.AgentCard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.agents[agentID]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "agent not registered").WithAgent(agentID)
	}
	return reg.card.Clone(), nil
}

// Agents returns all registered agent ids sorted.
func (r *Router) Agents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.agents))
	for id := range r.agents {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AgentsByCapability returns the live (non-suppressed) agents advertising
// the tag, sorted. The coordinator picks stage executors from this set.
func (r *Router) AgentsByCapability(tag a2a.Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.capIndex[tag]
	out := make([]string, 0, len(ids))
	for id := range ids {
		if reg, ok := r.agents[id]; ok && !reg.suppressed {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// CapabilitiesOf returns the agent's advertised capability tags, nil for
// unknown agents. Satisfies the artifact manager's capability resolver.
func (r *Router) CapabilitiesOf(agentID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.agents[agentID]
	if !ok {
		return nil
	}
	out := make([]string, len(reg.card.Capabilities))
	for i, tag := range reg.card.Capabilities {
		out[i] = tag.String()
	}
	return out
}

// IsSuppressed reports whether routing to the agent is currently blocked
// by the heartbeat monitor.
func (r *Router) IsSuppressed(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.agents[agentID]
	return ok && reg.suppressed
}

// OutstandingRequests returns how many delivered REQUESTs still await a
// RESPONSE.
func (r *Router) OutstandingRequests() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outstanding)
}

// Close stops the monitor and closes every registered inbox. Subsequent
// operations fail with ErrClosed.
func (r *Router) Close() error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	inboxes := make([]transport.Inbox, 0, len(r.agents))
	for _, reg := range r.agents {
		inboxes = append(inboxes, reg.inbox)
	}
	r.mu.Unlock()

	for _, inbox := range inboxes {
		if err := inbox.Close(); err != nil {
			r.logger.Warn("failed to close inbox on shutdown", zap.Error(err))
		}
	}
	r.metrics.SetAgentsRegistered(0)
	r.logger.Info("router closed", zap.Int("inboxes_closed", len(inboxes)))
	return nil
}

// unindexCapabilities removes the card's tags from the capability index.
// Callers hold the write lock.
func (r *Router) unindexCapabilities(card *a2a.AgentCard) {
	for _, tag := range card.Capabilities {
		if ids, ok := r.capIndex[tag]; ok {
			delete(ids, card.AgentID)
			if len(ids) == 0 {
				delete(r.capIndex, tag)
			}
		}
	}
}
