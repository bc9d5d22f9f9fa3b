package artifact

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func newRedisTestStore(t *testing.T) Store {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := NewRedisStore(RedisOptions{Addr: mr.Addr()}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, newRedisTestStore)
}

func TestRedisStore_ConnectFailure(t *testing.T) {
	_, err := NewRedisStore(RedisOptions{
		Addr:        "localhost:1",
		DialTimeout: 200 * time.Millisecond,
	}, zap.NewNop())
	assert.Error(t, err)
}

func TestRedisStore_KeyPrefixIsolation(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	ctx := context.Background()

	first, err := NewRedisStore(RedisOptions{Addr: mr.Addr(), KeyPrefix: "mesh-a:"}, zap.NewNop())
	require.NoError(t, err)
	defer first.Close()

	second, err := NewRedisStore(RedisOptions{Addr: mr.Addr(), KeyPrefix: "mesh-b:"}, zap.NewNop())
	require.NoError(t, err)
	defer second.Close()

	_, err = first.Append(ctx, sampleRecord("report", "analyzer", []byte(`{}`)))
	require.NoError(t, err)

	_, err = second.Latest(ctx, "report")
	assert.ErrorIs(t, err, ErrNotFound)

	// Same prefix sees the data.
	_, err = first.Latest(ctx, "report")
	assert.NoError(t, err)
}

func TestRedisStore_ConcurrentAppend(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	store, err := NewRedisStore(RedisOptions{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	const writers = 10
	versions := make([]int, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			v, err := store.Append(ctx, sampleRecord("report", "analyzer", []byte(`{}`)))
			assert.NoError(t, err)
			versions[slot] = v
		}(i)
	}
	wg.Wait()

	// INCR hands out each version exactly once.
	seen := make(map[int]bool, writers)
	for _, v := range versions {
		assert.False(t, seen[v], "version %d assigned twice", v)
		seen[v] = true
		assert.GreaterOrEqual(t, v, 1)
		assert.LessOrEqual(t, v, writers)
	}

	latest, err := store.Latest(ctx, "report")
	require.NoError(t, err)
	assert.Equal(t, writers, latest.Version)
}
