package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned without invoking the protected call while a
// destination's breaker is open, and to concurrent callers while a
// half-open trial is in flight.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is a breaker's position in the closed/open/half-open cycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes one breaker.
type BreakerConfig struct {
	// Threshold is the consecutive failure count that opens the breaker.
	Threshold int

	// Cooldown is how long the breaker stays open before admitting a
	// half-open trial call.
	Cooldown time.Duration

	// OnStateChange observes transitions; called outside the breaker lock.
	OnStateChange func(from, to State)
}

// DefaultBreakerConfig matches the shipped configuration defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second}
}

// Breaker is a consecutive-failure circuit breaker. While open it rejects
// calls immediately; after the cooldown exactly one trial call is admitted,
// and its verdict either closes or re-opens the circuit.
type Breaker struct {
	cfg    BreakerConfig
	logger *zap.Logger
	now    func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	trialInFlight bool
}

// NewBreaker builds a closed breaker with a normalized config.
func NewBreaker(cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		state:  StateClosed,
	}
}

// Call runs fn under the breaker. Rejections return ErrCircuitOpen and
// never invoke fn; fn's own error is passed through on failure.
func (b *Breaker) Call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.beforeCall(); err != nil {
		return err
	}
	err := fn()
	b.afterCall(err == nil)
	return err
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.cfg.Cooldown {
			b.setState(StateHalfOpen)
			b.trialInFlight = true
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		// One trial at a time; everyone else keeps seeing an open circuit.
		if b.trialInFlight {
			return ErrCircuitOpen
		}
		b.trialInFlight = true
		return nil

	default:
		return ErrCircuitOpen
	}
}

func (b *Breaker) afterCall(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		switch b.state {
		case StateClosed:
			b.failures = 0
		case StateHalfOpen:
			b.logger.Info("breaker recovered")
			b.setState(StateClosed)
			b.failures = 0
			b.trialInFlight = false
		}
		return
	}

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.Threshold {
			b.logger.Warn("breaker opened",
				zap.Int("failures", b.failures),
				zap.Int("threshold", b.cfg.Threshold),
			)
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.logger.Warn("breaker trial failed, reopening")
		b.setState(StateOpen)
		b.trialInFlight = false
	}
}

func (b *Breaker) setState(next State) {
	prev := b.state
	b.state = next
	if b.cfg.OnStateChange != nil && prev != next {
		go b.cfg.OnStateChange(prev, next)
	}
}

// State returns the current state without advancing the cooldown.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.state
	b.state = StateClosed
	b.failures = 0
	b.trialInFlight = false
	if b.cfg.OnStateChange != nil && prev != StateClosed {
		go b.cfg.OnStateChange(prev, StateClosed)
	}
}

// BreakerGroup holds one breaker per destination so that a failing agent
// trips only its own circuit.
type BreakerGroup struct {
	cfg    BreakerConfig
	logger *zap.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker
	observe  func(destination string, from, to State)
}

// NewBreakerGroup builds an empty group; breakers are created lazily per
// destination with the group's config.
func NewBreakerGroup(cfg BreakerConfig, logger *zap.Logger) *BreakerGroup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerGroup{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Observe registers a group-wide transition observer, invoked with the
// destination alongside the state change. Set it before the first Call;
// breakers created earlier keep their original hooks.
func (g *BreakerGroup) Observe(fn func(destination string, from, to State)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observe = fn
}

// For returns the destination's breaker, creating it on first use.
func (g *BreakerGroup) For(destination string) *Breaker {
	g.mu.RLock()
	b, ok := g.breakers[destination]
	g.mu.RUnlock()
	if ok {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok = g.breakers[destination]; ok {
		return b
	}
	cfg := g.cfg
	prevHook := cfg.OnStateChange
	observe := g.observe
	dest := destination
	cfg.OnStateChange = func(from, to State) {
		g.logger.Info("breaker state change",
			zap.String("destination", dest),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		if observe != nil {
			observe(dest, from, to)
		}
		if prevHook != nil {
			prevHook(from, to)
		}
	}
	b = NewBreaker(cfg, g.logger.With(zap.String("destination", dest)))
	g.breakers[destination] = b
	return b
}

// Call runs fn under the destination's breaker.
func (g *BreakerGroup) Call(ctx context.Context, destination string, fn func() error) error {
	return g.For(destination).Call(ctx, fn)
}

// Remove drops a destination's breaker, typically after unregistration.
func (g *BreakerGroup) Remove(destination string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.breakers, destination)
}

// States snapshots the group for introspection endpoints.
func (g *BreakerGroup) States() map[string]State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]State, len(g.breakers))
	for dest, b := range g.breakers {
		out[dest] = b.State()
	}
	return out
}
