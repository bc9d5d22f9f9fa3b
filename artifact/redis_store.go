package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions configures the redis-backed store.
type RedisOptions struct {
	// Addr is the redis server address, host:port.
	Addr string

	// Password is the redis password (optional).
	Password string

	// DB is the redis database number.
	DB int

	// PoolSize is the connection pool size.
	PoolSize int

	// MinIdleConns is the minimum idle connection count.
	MinIdleConns int

	// KeyPrefix namespaces every key written by this deployment.
	// Defaults to "riskmesh:".
	KeyPrefix string

	// DialTimeout bounds the connectivity check at construction time.
	// Defaults to 5s.
	DialTimeout time.Duration
}

// RedisStore is a redis-backed Store. Suitable for distributed production
// deployments: version counters are atomic INCRs, content lives in plain
// keys, and a per-name sorted set indexes versions for audit listings.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisStore connects to redis and verifies the connection before
// returning the store.
func NewRedisStore(opts RedisOptions, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
	})

	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	keyPrefix := opts.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "riskmesh:"
	}

	store := &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "artifact:",
		logger:    logger.With(zap.String("component", "artifact.redis")),
	}

	logger.Info("redis artifact store connected", zap.String("addr", opts.Addr))

	return store, nil
}

// seqKey holds the version counter for a name.
func (s *RedisStore) seqKey(name string) string {
	return s.keyPrefix + "seq:" + name
}

// recordKey holds one serialized version.
func (s *RedisStore) recordKey(name string, version int) string {
	return s.keyPrefix + "rec:" + name + ":" + strconv.Itoa(version)
}

// indexKey holds the sorted set of versions for a name.
func (s *RedisStore) indexKey(name string) string {
	return s.keyPrefix + "versions:" + name
}

// Append assigns the next version through an atomic INCR, then writes the
// record and its index entry in one transaction. A write failure after the
// INCR leaves a version gap; ordering is still strictly increasing.
func (s *RedisStore) Append(ctx context.Context, rec *Record) (int, error) {
	if rec == nil || rec.Name == "" {
		return 0, ErrInvalidRecord
	}

	version, err := s.client.Incr(ctx, s.seqKey(rec.Name)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to assign version: %w", err)
	}

	stored := rec.Clone()
	stored.Version = int(version)

	data, err := json.Marshal(stored)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(rec.Name, stored.Version), data, 0)
		pipe.ZAdd(ctx, s.indexKey(rec.Name), redis.Z{
			Score:  float64(stored.Version),
			Member: strconv.Itoa(stored.Version),
		})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store version %d of %q: %w", stored.Version, rec.Name, err)
	}

	return stored.Version, nil
}

// Get retrieves one exact version.
func (s *RedisStore) Get(ctx context.Context, name string, version int) (*Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(name, version)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

// Latest retrieves the highest indexed version.
func (s *RedisStore) Latest(ctx context.Context, name string) (*Record, error) {
	members, err := s.client.ZRevRange(ctx, s.indexKey(name), 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, ErrNotFound
	}

	version, err := strconv.Atoi(members[0])
	if err != nil {
		return nil, fmt.Errorf("corrupt version index for %q: %w", name, err)
	}
	return s.Get(ctx, name, version)
}

// Versions lists version metadata in ascending order.
func (s *RedisStore) Versions(ctx context.Context, name string) ([]Meta, error) {
	members, err := s.client.ZRange(ctx, s.indexKey(name), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, ErrNotFound
	}

	out := make([]Meta, 0, len(members))
	for _, member := range members {
		version, err := strconv.Atoi(member)
		if err != nil {
			continue
		}
		rec, err := s.Get(ctx, name, version)
		if err != nil {
			continue
		}
		out = append(out, rec.Meta)
	}
	return out, nil
}

// Ping checks if the store is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
