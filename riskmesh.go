// Package riskmesh assembles the coordination core from one Config: the
// router, the task and session managers, the artifact store, and the
// pipeline coordinator, wired the same way the riskmeshd binary wires
// them.
//
// Usage:
//
//	cfg := config.DefaultConfig()
//	mesh, err := riskmesh.New(cfg, riskmesh.WithLogger(logger))
//	if err != nil { ... }
//	mesh.Start(ctx)
//	defer mesh.Stop(context.Background())
//
//	w := mesh.NewWorker("analyst").Handle(a2a.CapabilityAnalyzeRisk, handler)
//	w.Register()
//	w.Start(ctx)
//
//	result, err := mesh.Run(ctx, "assess portfolio X")
package riskmesh

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/riskmesh/riskmesh/a2a"
	"github.com/riskmesh/riskmesh/artifact"
	"github.com/riskmesh/riskmesh/config"
	"github.com/riskmesh/riskmesh/internal/database"
	"github.com/riskmesh/riskmesh/internal/metrics"
	"github.com/riskmesh/riskmesh/resilience"
	"github.com/riskmesh/riskmesh/router"
	"github.com/riskmesh/riskmesh/session"
	"github.com/riskmesh/riskmesh/task"
	"github.com/riskmesh/riskmesh/workflow"
)

// Mesh is the assembled coordination core. Components are exported for
// callers that need direct access; lifecycle goes through Start and Stop.
type Mesh struct {
	Registry    *a2a.Registry
	Router      *router.Router
	Sessions    *session.Manager
	Tasks       *task.Manager
	Artifacts   *artifact.Manager
	Coordinator *workflow.Coordinator

	cfg       *config.Config
	logger    *zap.Logger
	collector *metrics.Collector
	pipeline  *workflow.Pipeline
	db        *database.PoolManager
	authority *a2a.TokenAuthority
}

// Option customizes mesh assembly.
type Option func(*Mesh)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Mesh) { m.logger = logger }
}

// WithPipeline replaces the default risk-analysis pipeline.
func WithPipeline(p *workflow.Pipeline) Option {
	return func(m *Mesh) { m.pipeline = p }
}

// WithCollector injects a prometheus collector. Without one the mesh
// registers its own under the riskmesh namespace; tests inject collectors
// with unique namespaces to avoid duplicate registration.
func WithCollector(c *metrics.Collector) Option {
	return func(m *Mesh) { m.collector = c }
}

// New assembles a mesh from cfg. A nil cfg selects the defaults, which
// use the in-memory artifact backend.
func New(cfg *config.Config, opts ...Option) (*Mesh, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	m := &Mesh{cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.collector == nil {
		m.collector = metrics.NewCollector("riskmesh", m.logger)
	}
	if m.pipeline == nil {
		m.pipeline = workflow.RiskAnalysisPipeline()
	}

	m.Registry = a2a.NewRegistry(a2a.WithMaxBinaryBytes(int64(cfg.Protocol.MaxBinaryBytes)))

	m.Sessions = session.NewManager(session.Config{
		TTL:           cfg.Session.DefaultTTL,
		SweepInterval: cfg.Session.SweepInterval,
	}, m.logger, session.WithMetrics(m.collector))

	m.Tasks = task.NewManager(task.Config{
		DefaultTimeout:  cfg.Task.DefaultTimeout,
		SweepInterval:   cfg.Task.SweepInterval,
		RetentionWindow: cfg.Task.RetentionWindow,
	}, m.Sessions, m.logger, task.WithMetrics(m.collector))
	m.Sessions.SetTaskReleaser(m.Tasks)

	breakers := resilience.NewBreakerGroup(resilience.BreakerConfig{
		Threshold: cfg.Breaker.Threshold,
		Cooldown:  cfg.Breaker.Cooldown,
	}, m.logger)
	breakers.Observe(func(destination string, from, to resilience.State) {
		m.collector.RecordBreakerTransition(destination, from.String(), to.String())
	})

	routerOpts := []router.Option{
		router.WithHealthSink(m.Sessions),
		router.WithMetrics(m.collector),
		router.WithRetryer(resilience.NewRetryer(resilience.Policy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
			Jitter:       cfg.Retry.Jitter,
		}, m.logger)),
		router.WithBreakerGroup(breakers),
	}
	if cfg.Protocol.Auth.Enabled {
		authority, err := a2a.NewTokenAuthority(
			cfg.Protocol.Auth.Secret,
			cfg.Protocol.Auth.Issuer,
			cfg.Protocol.Auth.TokenTTL,
		)
		if err != nil {
			return nil, fmt.Errorf("riskmesh: registration auth: %w", err)
		}
		m.authority = authority
		routerOpts = append(routerOpts, router.WithAuthority(authority))
	}
	m.Router = router.NewRouter(router.Config{
		HeartbeatInterval:    cfg.Router.HeartbeatInterval,
		MissedHeartbeatLimit: cfg.Router.MissedHeartbeatLimit,
		RatePerSecond:        cfg.Router.RatePerSecond,
		RateBurst:            cfg.Router.RateBurst,
	}, m.logger, routerOpts...)

	store, err := m.openStore()
	if err != nil {
		return nil, err
	}
	m.Artifacts, err = artifact.NewManager(store, m.Registry, m.logger,
		artifact.WithCapabilityResolver(m.Router),
		artifact.WithMetrics(m.collector),
	)
	if err != nil {
		return nil, err
	}

	coord, err := workflow.NewCoordinator(workflow.DefaultCoordinatorConfig(),
		m.pipeline, m.Router, m.Tasks, m.Sessions, m.logger)
	if err != nil {
		return nil, err
	}
	m.Coordinator = coord

	return m, nil
}

// openStore builds the configured artifact backend.
func (m *Mesh) openStore() (artifact.Store, error) {
	switch m.cfg.Artifact.Backend {
	case "", "memory":
		return artifact.NewMemoryStore(), nil
	case "redis":
		r := m.cfg.Artifact.Redis
		return artifact.NewRedisStore(artifact.RedisOptions{
			Addr:         r.Addr,
			Password:     r.Password,
			DB:           r.DB,
			PoolSize:     r.PoolSize,
			MinIdleConns: r.MinIdleConns,
			KeyPrefix:    r.KeyPrefix,
		}, m.logger)
	case "postgres":
		db := m.cfg.Artifact.Database
		pool, err := database.Connect(db.DSN(), database.PoolConfig{
			MaxIdleConns:    db.MaxIdleConns,
			MaxOpenConns:    db.MaxOpenConns,
			ConnMaxLifetime: db.ConnMaxLifetime,
		}, m.logger)
		if err != nil {
			return nil, err
		}
		m.db = pool
		return artifact.NewSQLStore(pool.DB(), m.logger)
	default:
		return nil, fmt.Errorf("riskmesh: unknown artifact backend %q", m.cfg.Artifact.Backend)
	}
}

// Authority returns the registration token authority, nil when auth is
// disabled. Deployments use it to mint tokens for local agents.
func (m *Mesh) Authority() *a2a.TokenAuthority {
	return m.authority
}

// NewWorker builds a worker bound to this mesh's router, task manager and
// artifact store. The caller registers handlers, then Register and Start.
func (m *Mesh) NewWorker(agentID string) *workflow.Worker {
	return workflow.NewWorker(agentID, workflow.WorkerConfig{
		InboxSize:         m.cfg.Router.InboxSize,
		SendTimeout:       m.cfg.Router.SendTimeout,
		HeartbeatInterval: m.cfg.Router.HeartbeatInterval / 2,
		CancelGrace:       m.cfg.Task.CancelGrace,
	}, m.Router, m.Tasks, m.Artifacts, m.logger)
}

// Run executes the configured pipeline for one request.
func (m *Mesh) Run(ctx context.Context, request string) (*workflow.Result, error) {
	return m.Coordinator.Run(ctx, request)
}

// Start launches the background loops: session expiry, task sweeps, the
// heartbeat monitor and the coordinator.
func (m *Mesh) Start(ctx context.Context) error {
	m.Sessions.Start(ctx)
	m.Tasks.Start(ctx)
	m.Router.StartMonitor(ctx)
	return m.Coordinator.Start(ctx)
}

// Stop tears the mesh down in dependency order and closes the artifact
// backend.
func (m *Mesh) Stop(ctx context.Context) error {
	m.Coordinator.Stop()
	m.Tasks.Stop()
	m.Sessions.Stop()

	var errs []error
	if err := m.Router.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.Artifacts.Close(); err != nil {
		errs = append(errs, err)
	}
	if m.db != nil {
		if err := m.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
