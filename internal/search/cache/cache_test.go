package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
	fail bool
	gets atomic.Int64
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

var errDown = errors.New("connection refused")

func (s *memStore) Get(_ context.Context, key string) (string, bool, error) {
	s.gets.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return "", false, errDown
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errDown
	}
	s.data[key] = string(value)
	return nil
}

func (s *memStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errDown
	}
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *memStore) DeleteByPrefix(_ context.Context, prefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func (s *memStore) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func TestLookupCachesResult(t *testing.T) {
	store := newMemStore()
	m := metrics.New(prometheus.NewRegistry())
	c := New(store, time.Minute, m)

	calls := 0
	compute := func() ([]string, error) {
		calls++
		return []string{"/a", "/b"}, nil
	}

	got, cached, err := c.Lookup(context.Background(), "Hydra", compute)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []string{"/a", "/b"}, got)

	got, cached, err = c.Lookup(context.Background(), "Hydra", compute)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, []string{"/a", "/b"}, got)
	assert.Equal(t, 1, calls)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses, "first lookup misses before and inside the flight")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
}

func TestLookupEmptyResult(t *testing.T) {
	c := New(newMemStore(), time.Minute, nil)
	compute := func() ([]string, error) { return []string{}, nil }

	_, _, err := c.Lookup(context.Background(), "nothing", compute)
	require.NoError(t, err)
	got, cached, err := c.Lookup(context.Background(), "nothing", compute)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestLookupPropagatesComputeError(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, nil)
	boom := errors.New("boom")

	_, _, err := c.Lookup(context.Background(), "w", func() ([]string, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	assert.Empty(t, store.data, "failures are not cached")
}

func TestInvalidateWords(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, nil)
	ctx := context.Background()

	for _, w := range []string{"alpha", "beta"} {
		_, _, err := c.Lookup(ctx, w, func() ([]string, error) { return []string{"/x"}, nil })
		require.NoError(t, err)
	}
	require.NoError(t, c.InvalidateWords(ctx, []string{"alpha"}))

	_, cached, err := c.Lookup(ctx, "alpha", func() ([]string, error) { return []string{"/y"}, nil })
	require.NoError(t, err)
	assert.False(t, cached)
	_, cached, err = c.Lookup(ctx, "beta", func() ([]string, error) { return nil, nil })
	require.NoError(t, err)
	assert.True(t, cached)

	require.NoError(t, c.InvalidateWords(ctx, nil))
}

func TestInvalidationDuringComputeIsNotCached(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, nil)
	ctx := context.Background()

	got, _, err := c.Lookup(ctx, "Hydra", func() ([]string, error) {
		// The index changes and evicts the word while the old result is in hand.
		require.NoError(t, c.InvalidateWords(ctx, []string{"Hydra"}))
		return []string{"/stale"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/stale"}, got, "the caller still gets its answer")
	assert.Equal(t, int64(1), c.Skipped())
	assert.Empty(t, store.data)

	got, cached, err := c.Lookup(ctx, "Hydra", func() ([]string, error) { return []string{"/fresh"}, nil })
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []string{"/fresh"}, got)

	_, cached, err = c.Lookup(ctx, "Hydra", func() ([]string, error) { return nil, nil })
	require.NoError(t, err)
	assert.True(t, cached)
}

func TestFullInvalidationDuringComputeIsNotCached(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, nil)
	ctx := context.Background()

	_, _, err := c.Lookup(ctx, "w", func() ([]string, error) {
		require.NoError(t, c.Invalidate(ctx))
		return []string{"/stale"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Skipped())
	assert.Empty(t, store.data)
}

func TestInvalidateAll(t *testing.T) {
	store := newMemStore()
	store.data["unrelated"] = "keep"
	c := New(store, time.Minute, nil)
	ctx := context.Background()
	_, _, err := c.Lookup(ctx, "w", func() ([]string, error) { return []string{"/x"}, nil })
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(ctx))
	assert.Equal(t, map[string]string{"unrelated": "keep"}, store.data)
}

func TestStoreFailureFallsBackToCompute(t *testing.T) {
	store := newMemStore()
	store.setFail(true)
	m := metrics.New(prometheus.NewRegistry())
	c := New(store, time.Minute, m)

	for i := 0; i < 10; i++ {
		got, cached, err := c.Lookup(context.Background(), "w", func() ([]string, error) {
			return []string{"/live"}, nil
		})
		require.NoError(t, err)
		assert.False(t, cached)
		assert.Equal(t, []string{"/live"}, got)
	}
	before := store.gets.Load()
	_, _, err := c.Lookup(context.Background(), "w", func() ([]string, error) { return []string{"/live"}, nil })
	require.NoError(t, err)
	assert.Equal(t, before, store.gets.Load(), "open breaker skips the store")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheBreakerOpen))
	assert.Error(t, c.InvalidateWords(context.Background(), []string{"w"}))
}

func TestKeyIsStable(t *testing.T) {
	assert.Equal(t, Key("Hail"), Key("Hail"))
	assert.NotEqual(t, Key("Hail"), Key("hail"))
	assert.True(t, strings.HasPrefix(Key("x"), KeyPrefix))
	assert.Len(t, Key("x"), len(KeyPrefix)+32)
}
