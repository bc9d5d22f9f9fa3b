package artifact

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/riskmesh/riskmesh/a2a"
	"github.com/riskmesh/riskmesh/internal/metrics"
	"github.com/riskmesh/riskmesh/types"
)

// CapabilityResolver reports the capability tags an agent registered with.
// The router's registry implements it; tests use CapabilityResolverFunc.
type CapabilityResolver interface {
	CapabilitiesOf(agentID string) []string
}

// CapabilityResolverFunc adapts a function to CapabilityResolver.
type CapabilityResolverFunc func(agentID string) []string

// CapabilitiesOf calls f.
func (f CapabilityResolverFunc) CapabilitiesOf(agentID string) []string {
	return f(agentID)
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithCapabilityResolver wires capability lookups for read-permission
// checks. Without one, capability-scoped artifacts are readable only by
// their owner.
func WithCapabilityResolver(r CapabilityResolver) ManagerOption {
	return func(m *Manager) { m.caps = r }
}

// WithMetrics wires the collector; a nil collector records nothing.
func WithMetrics(c *metrics.Collector) ManagerOption {
	return func(m *Manager) { m.metrics = c }
}

// Manager is the permission and encoding layer over a Store. It assigns
// identity and checksums at store time, enforces write scope per logical
// name and read scope per requester capability, and round-trips content
// through the registered handler for the artifact's type.
type Manager struct {
	store    Store
	registry *a2a.Registry
	caps     CapabilityResolver
	metrics  *metrics.Collector
	logger   *zap.Logger
	backend  string
	tracer   trace.Tracer
	now      func() time.Time

	// writeMu serializes the read-check-append window in Store so two
	// concurrent first writers cannot both establish a name's owner.
	writeMu sync.Mutex
}

// NewManager builds a manager over store. The registry decides which
// artifact types can be encoded at all.
func NewManager(store Store, registry *a2a.Registry, logger *zap.Logger, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("artifact: nil store")
	}
	if registry == nil {
		return nil, fmt.Errorf("artifact: nil content registry")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:    store,
		registry: registry,
		logger:   logger.With(zap.String("component", "artifact_manager")),
		backend:  backendName(store),
		tracer:   otel.Tracer("riskmesh/artifact"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Store encodes the artifact's content, enforces write scope for its name,
// and appends it as the next version. On success the artifact's metadata
// is filled in (id, version, owner, checksum, size, timestamp) and a Ref
// to the stored version is returned.
//
// The first version of a name establishes its owner and scope. Later
// versions keep the original owner; they may be stored by the owner or by
// any agent in the scope's writers list. Supplying a non-zero Permissions
// on a later version is a scope change and is owner-only.
func (m *Manager) Store(ctx context.Context, art *Artifact) (Ref, error) {
	if art == nil {
		return Ref{}, types.NewError(types.ErrValidation, "nil artifact")
	}
	if art.Name == "" {
		return Ref{}, types.NewError(types.ErrValidation, "artifact name is required")
	}
	if art.Owner == "" {
		return Ref{}, types.NewError(types.ErrValidation, "artifact owner is required")
	}
	if art.Type == "" {
		return Ref{}, types.NewError(types.ErrValidation, "artifact type is required")
	}
	if art.Content == nil {
		return Ref{}, types.NewError(types.ErrValidation, "artifact content is required")
	}

	var span trace.Span
	ctx, span = m.tracer.Start(ctx, "artifact.Store", trace.WithAttributes(
		attribute.String("artifact.name", art.Name),
		attribute.String("artifact.type", art.Type),
		attribute.String("artifact.backend", m.backend),
	))
	defer span.End()

	handler, ok := m.registry.Handler(art.Type)
	if !ok {
		return Ref{}, fmt.Errorf("%w: %s", a2a.ErrUnsupportedContentType, art.Type)
	}
	if err := handler.Validate(art.Content); err != nil {
		return Ref{}, err
	}
	data, err := handler.Marshal(art.Content)
	if err != nil {
		return Ref{}, err
	}

	owner := art.Owner
	perms := art.Permissions.Clone()

	// The scope check reads the current latest version and the append that
	// follows must see the same one, otherwise a racing first write could
	// establish a second owner for the name.
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	latest, err := m.store.Latest(ctx, art.Name)
	switch {
	case errors.Is(err, ErrNotFound):
		// First version establishes the name.
	case err != nil:
		m.metrics.RecordArtifactWrite(m.backend, "error", 0)
		return Ref{}, fmt.Errorf("artifact: reading current version of %q: %w", art.Name, err)
	default:
		if !latest.Permissions.AllowsWrite(latest.Owner, art.Owner) {
			m.metrics.RecordArtifactWrite(m.backend, "denied", 0)
			return Ref{}, types.NewError(types.ErrPermissionDenied,
				fmt.Sprintf("agent %q may not write artifact %q", art.Owner, art.Name)).
				WithAgent(art.Owner)
		}
		owner = latest.Owner
		if art.Permissions.IsZero() {
			perms = latest.Permissions.Clone()
		} else if art.Owner != latest.Owner {
			m.metrics.RecordArtifactWrite(m.backend, "denied", 0)
			return Ref{}, types.NewError(types.ErrPermissionDenied,
				fmt.Sprintf("only the owner of %q may change its scope", art.Name)).
				WithAgent(art.Owner)
		}
	}

	rec := &Record{
		Meta: Meta{
			ID:          art.ID,
			Name:        art.Name,
			Type:        art.Type,
			Owner:       owner,
			Checksum:    Checksum(data),
			SizeBytes:   len(data),
			CreatedAt:   m.now().UTC(),
			Permissions: perms,
		},
		Data: data,
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	version, err := m.store.Append(ctx, rec)
	if err != nil {
		m.metrics.RecordArtifactWrite(m.backend, "error", 0)
		return Ref{}, fmt.Errorf("artifact: storing %q: %w", art.Name, err)
	}

	rec.Version = version
	art.Meta = rec.Meta.Clone()

	m.metrics.RecordArtifactWrite(m.backend, "ok", len(data))
	m.logger.Info("artifact stored",
		zap.String("name", art.Name),
		zap.Int("version", version),
		zap.String("owner", owner),
		zap.String("producer", art.Owner),
		zap.Int("size_bytes", len(data)),
	)

	return Ref{Name: art.Name, Version: version, Checksum: rec.Checksum}, nil
}

// Retrieve returns the latest version of name, decoded, after the read
// permission check for requester.
func (m *Manager) Retrieve(ctx context.Context, name, requester string) (*Artifact, error) {
	return m.RetrieveVersion(ctx, name, 0, requester)
}

// RetrieveVersion returns one exact version; version <= 0 means latest.
// Content integrity is verified against the stored checksum before
// decoding.
func (m *Manager) RetrieveVersion(ctx context.Context, name string, version int, requester string) (*Artifact, error) {
	if name == "" {
		return nil, types.NewError(types.ErrValidation, "artifact name is required")
	}

	var span trace.Span
	ctx, span = m.tracer.Start(ctx, "artifact.Retrieve", trace.WithAttributes(
		attribute.String("artifact.name", name),
		attribute.Int("artifact.version", version),
		attribute.String("artifact.backend", m.backend),
	))
	defer span.End()

	var rec *Record
	var err error
	if version <= 0 {
		rec, err = m.store.Latest(ctx, name)
	} else {
		rec, err = m.store.Get(ctx, name, version)
	}
	if errors.Is(err, ErrNotFound) {
		m.metrics.RecordArtifactRead(m.backend, "not_found")
		if version <= 0 {
			return nil, types.NewError(types.ErrNotFound,
				fmt.Sprintf("artifact %q not found", name))
		}
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("artifact %q version %d not found", name, version))
	}
	if err != nil {
		m.metrics.RecordArtifactRead(m.backend, "error")
		return nil, fmt.Errorf("artifact: retrieving %q: %w", name, err)
	}

	if !rec.Permissions.AllowsRead(rec.Owner, requester, m.capsOf(requester)) {
		m.metrics.RecordArtifactRead(m.backend, "denied")
		return nil, types.NewError(types.ErrPermissionDenied,
			fmt.Sprintf("agent %q may not read artifact %q", requester, name)).
			WithAgent(requester)
	}

	if sum := Checksum(rec.Data); sum != rec.Checksum {
		m.metrics.RecordArtifactRead(m.backend, "corrupt")
		m.logger.Error("artifact checksum mismatch",
			zap.String("name", name),
			zap.Int("version", rec.Version),
			zap.String("stored", rec.Checksum),
			zap.String("computed", sum),
		)
		return nil, types.NewError(types.ErrInternal,
			fmt.Sprintf("artifact %q version %d failed checksum verification", name, rec.Version))
	}

	handler, ok := m.registry.Handler(rec.Type)
	if !ok {
		m.metrics.RecordArtifactRead(m.backend, "error")
		return nil, fmt.Errorf("%w: %s", a2a.ErrUnsupportedContentType, rec.Type)
	}
	content, err := handler.Unmarshal(rec.Data)
	if err != nil {
		m.metrics.RecordArtifactRead(m.backend, "error")
		return nil, fmt.Errorf("artifact: decoding %q version %d: %w", name, rec.Version, err)
	}

	m.metrics.RecordArtifactRead(m.backend, "ok")
	return &Artifact{Meta: rec.Meta.Clone(), Content: content}, nil
}

// ListVersions returns metadata for every stored version of name in
// ascending order, for audit. No content is loaded and no read permission
// applies.
func (m *Manager) ListVersions(ctx context.Context, name string) ([]Meta, error) {
	if name == "" {
		return nil, types.NewError(types.ErrValidation, "artifact name is required")
	}
	metas, err := m.store.Versions(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("artifact %q not found", name))
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: listing versions of %q: %w", name, err)
	}
	return metas, nil
}

// Verify re-reads one version and reports whether ref still matches what
// is stored. Task completion idempotency compares refs through this.
func (m *Manager) Verify(ctx context.Context, ref Ref) error {
	if ref.IsZero() {
		return types.NewError(types.ErrValidation, "empty artifact ref")
	}
	rec, err := m.store.Get(ctx, ref.Name, ref.Version)
	if errors.Is(err, ErrNotFound) {
		return types.NewError(types.ErrNotFound,
			fmt.Sprintf("artifact %q version %d not found", ref.Name, ref.Version))
	}
	if err != nil {
		return fmt.Errorf("artifact: verifying %q: %w", ref.Name, err)
	}
	if rec.Checksum != ref.Checksum {
		return types.NewError(types.ErrInternal,
			fmt.Sprintf("artifact %q version %d checksum does not match ref", ref.Name, ref.Version))
	}
	return nil
}

// Ping reports backend health.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// Close closes the backing store.
func (m *Manager) Close() error {
	return m.store.Close()
}

func (m *Manager) capsOf(agentID string) []string {
	if m.caps == nil {
		return nil
	}
	return m.caps.CapabilitiesOf(agentID)
}

func backendName(s Store) string {
	switch s.(type) {
	case *MemoryStore:
		return "memory"
	case *RedisStore:
		return "redis"
	case *SQLStore:
		return "sql"
	default:
		return "custom"
	}
}
