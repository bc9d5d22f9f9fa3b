package artifact

import (
	"context"
	"errors"
	"sync"
)

// Store errors shared by every backend.
var (
	ErrNotFound      = errors.New("artifact: not found")
	ErrStoreClosed   = errors.New("artifact: store is closed")
	ErrInvalidRecord = errors.New("artifact: invalid record")
)

// Record is the storage row for one version: metadata plus the encoded
// content bytes. Backends never interpret Data.
type Record struct {
	Meta
	Data []byte `json:"data"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	out := &Record{Meta: r.Meta.Clone()}
	if r.Data != nil {
		out.Data = append([]byte(nil), r.Data...)
	}
	return out
}

// Store persists artifact versions append-only per logical name. Versions
// are assigned by the store, strictly increasing from 1; an old version is
// never overwritten.
type Store interface {
	// Append persists rec under the next version for rec.Name and returns
	// the assigned version. The caller fills every Meta field but Version.
	Append(ctx context.Context, rec *Record) (int, error)

	// Get returns one exact version, or ErrNotFound.
	Get(ctx context.Context, name string, version int) (*Record, error)

	// Latest returns the highest stored version, or ErrNotFound.
	Latest(ctx context.Context, name string) (*Record, error)

	// Versions returns metadata for every stored version of name in
	// ascending version order, or ErrNotFound for an unknown name.
	Versions(ctx context.Context, name string) ([]Meta, error)

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}

// MemoryStore is an in-memory Store. Suitable for development and testing;
// data is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[string][]*Record
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: make(map[string][]*Record)}
}

// Append stores a copy of rec so later caller mutations cannot reach the
// stored version. Slice index plus one is the version number.
func (s *MemoryStore) Append(ctx context.Context, rec *Record) (int, error) {
	if rec == nil || rec.Name == "" {
		return 0, ErrInvalidRecord
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	stored := rec.Clone()
	stored.Version = len(s.versions[rec.Name]) + 1
	s.versions[rec.Name] = append(s.versions[rec.Name], stored)
	return stored.Version, nil
}

// Get retrieves one exact version.
func (s *MemoryStore) Get(ctx context.Context, name string, version int) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	recs := s.versions[name]
	if version < 1 || version > len(recs) {
		return nil, ErrNotFound
	}
	return recs[version-1].Clone(), nil
}

// Latest retrieves the highest stored version.
func (s *MemoryStore) Latest(ctx context.Context, name string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	recs := s.versions[name]
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[len(recs)-1].Clone(), nil
}

// Versions lists version metadata in ascending order.
func (s *MemoryStore) Versions(ctx context.Context, name string) ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	recs := s.versions[name]
	if len(recs) == 0 {
		return nil, ErrNotFound
	}

	out := make([]Meta, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Meta.Clone())
	}
	return out, nil
}

// Ping checks if the store is healthy.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
