package artifact

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(name, owner string, data []byte) *Record {
	return &Record{
		Meta: Meta{
			ID:        "art-" + name,
			Name:      name,
			Type:      "application/json",
			Owner:     owner,
			Checksum:  Checksum(data),
			SizeBytes: len(data),
			CreatedAt: time.Now().UTC().Truncate(time.Second),
			Permissions: Permissions{
				ReadCaps: []string{"analyze-risk", "aggregate-results"},
				Writers:  []string{"writer-1"},
			},
		},
		Data: data,
	}
}

// runStoreSuite exercises the Store contract every backend must satisfy.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("AppendAssignsVersionsFromOne", func(t *testing.T) {
		s := newStore(t)
		for want := 1; want <= 3; want++ {
			data := []byte(fmt.Sprintf(`{"rev":%d}`, want))
			v, err := s.Append(ctx, sampleRecord("risk-report", "analyzer", data))
			require.NoError(t, err)
			assert.Equal(t, want, v)
		}
	})

	t.Run("NamesVersionIndependently", func(t *testing.T) {
		s := newStore(t)
		v, err := s.Append(ctx, sampleRecord("alpha", "analyzer", []byte(`{}`)))
		require.NoError(t, err)
		assert.Equal(t, 1, v)

		v, err = s.Append(ctx, sampleRecord("beta", "analyzer", []byte(`{}`)))
		require.NoError(t, err)
		assert.Equal(t, 1, v)

		v, err = s.Append(ctx, sampleRecord("alpha", "analyzer", []byte(`{}`)))
		require.NoError(t, err)
		assert.Equal(t, 2, v)
	})

	t.Run("GetExactVersion", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Append(ctx, sampleRecord("report", "analyzer", []byte(`{"rev":1}`)))
		require.NoError(t, err)
		_, err = s.Append(ctx, sampleRecord("report", "analyzer", []byte(`{"rev":2}`)))
		require.NoError(t, err)

		rec, err := s.Get(ctx, "report", 1)
		require.NoError(t, err)
		assert.Equal(t, 1, rec.Version)
		assert.Equal(t, []byte(`{"rev":1}`), rec.Data)

		rec, err = s.Get(ctx, "report", 2)
		require.NoError(t, err)
		assert.Equal(t, 2, rec.Version)
		assert.Equal(t, []byte(`{"rev":2}`), rec.Data)
	})

	t.Run("GetUnknownIsNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "never-stored", 1)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.Append(ctx, sampleRecord("report", "analyzer", []byte(`{}`)))
		require.NoError(t, err)
		_, err = s.Get(ctx, "report", 2)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("LatestReturnsHighestVersion", func(t *testing.T) {
		s := newStore(t)
		for rev := 1; rev <= 4; rev++ {
			data := []byte(fmt.Sprintf(`{"rev":%d}`, rev))
			_, err := s.Append(ctx, sampleRecord("report", "analyzer", data))
			require.NoError(t, err)
		}

		rec, err := s.Latest(ctx, "report")
		require.NoError(t, err)
		assert.Equal(t, 4, rec.Version)
		assert.Equal(t, []byte(`{"rev":4}`), rec.Data)
	})

	t.Run("LatestUnknownIsNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Latest(ctx, "never-stored")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("VersionsAscending", func(t *testing.T) {
		s := newStore(t)
		for rev := 1; rev <= 3; rev++ {
			_, err := s.Append(ctx, sampleRecord("report", "analyzer", []byte(`{}`)))
			require.NoError(t, err)
		}

		metas, err := s.Versions(ctx, "report")
		require.NoError(t, err)
		require.Len(t, metas, 3)
		for i, meta := range metas {
			assert.Equal(t, i+1, meta.Version)
			assert.Equal(t, "report", meta.Name)
			assert.Equal(t, "analyzer", meta.Owner)
		}
	})

	t.Run("VersionsUnknownIsNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Versions(ctx, "never-stored")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("RoundTripsMetadata", func(t *testing.T) {
		s := newStore(t)
		want := sampleRecord("report", "analyzer", []byte(`{"severity":"low"}`))
		_, err := s.Append(ctx, want)
		require.NoError(t, err)

		got, err := s.Get(ctx, "report", 1)
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Name, got.Name)
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.Owner, got.Owner)
		assert.Equal(t, want.Checksum, got.Checksum)
		assert.Equal(t, want.SizeBytes, got.SizeBytes)
		assert.Equal(t, want.Permissions.ReadCaps, got.Permissions.ReadCaps)
		assert.Equal(t, want.Permissions.Writers, got.Permissions.Writers)
		assert.True(t, got.CreatedAt.Equal(want.CreatedAt),
			"created at: got %v want %v", got.CreatedAt, want.CreatedAt)
		assert.Equal(t, want.Data, got.Data)
	})

	t.Run("ZeroPermissionsStayZero", func(t *testing.T) {
		s := newStore(t)
		rec := sampleRecord("open-report", "analyzer", []byte(`{}`))
		rec.Permissions = Permissions{}
		_, err := s.Append(ctx, rec)
		require.NoError(t, err)

		got, err := s.Get(ctx, "open-report", 1)
		require.NoError(t, err)
		assert.True(t, got.Permissions.IsZero())
	})

	t.Run("AppendDoesNotAliasCallerState", func(t *testing.T) {
		s := newStore(t)
		rec := sampleRecord("report", "analyzer", []byte(`{"severity":"low"}`))
		_, err := s.Append(ctx, rec)
		require.NoError(t, err)

		rec.Data[2] = 'X'
		rec.Permissions.ReadCaps[0] = "mutated"

		got, err := s.Get(ctx, "report", 1)
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"severity":"low"}`), got.Data)
		assert.Equal(t, "analyze-risk", got.Permissions.ReadCaps[0])
	})

	t.Run("RejectsInvalidRecord", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Append(ctx, nil)
		assert.ErrorIs(t, err, ErrInvalidRecord)

		_, err = s.Append(ctx, sampleRecord("", "analyzer", []byte(`{}`)))
		assert.ErrorIs(t, err, ErrInvalidRecord)
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(ctx))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s := NewMemoryStore()
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMemoryStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Append(ctx, sampleRecord("report", "analyzer", []byte(`{}`)))
	require.NoError(t, err)

	require.NoError(t, s.Close())

	_, err = s.Append(ctx, sampleRecord("report", "analyzer", []byte(`{}`)))
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.Get(ctx, "report", 1)
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.Latest(ctx, "report")
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = s.Versions(ctx, "report")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, s.Ping(ctx), ErrStoreClosed)
}

func TestMemoryStore_ConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	const writers = 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Append(ctx, sampleRecord("report", "analyzer", []byte(`{}`)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	metas, err := s.Versions(ctx, "report")
	require.NoError(t, err)
	require.Len(t, metas, writers)
	for i, meta := range metas {
		assert.Equal(t, i+1, meta.Version)
	}

	latest, err := s.Latest(ctx, "report")
	require.NoError(t, err)
	assert.Equal(t, writers, latest.Version)
}
