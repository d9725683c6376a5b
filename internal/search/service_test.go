package search

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/live-index/internal/index"
	"github.com/Adithya-Monish-Kumar-K/live-index/internal/search/cache"
	"github.com/Adithya-Monish-Kumar-K/live-index/internal/token"
	"github.com/Adithya-Monish-Kumar-K/live-index/internal/watcher"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/live-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	s := New(
		config.IndexConfig{Workers: 4, QueueSize: 8},
		token.NewTokenizer(token.NewWeakInterner(), false),
		index.New(),
		opts...,
	)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func tempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func event(path string, kind watcher.ChangeKind) watcher.ChangeEvent {
	return watcher.ChangeEvent{Path: path, Kind: kind, ObservedAt: time.Now()}
}

func eventuallyFinds(t *testing.T, s *Service, word string, want []string) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := s.FindWord(context.Background(), word)
		return err == nil && assert.ObjectsAreEqual(want, got)
	}, 3*time.Second, 5*time.Millisecond, "FindWord(%q) never became %v", word, want)
}

func TestServiceAppliesLifecycle(t *testing.T) {
	dir := tempDir(t)
	path := filepath.Join(dir, "doc.txt")
	write(t, path, "alpha beta, gamma.")
	s := newTestService(t)

	require.NoError(t, s.OnChange(event(path, watcher.Create)))
	eventuallyFinds(t, s, "beta", []string{path})
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, s.TokensOf(path))

	write(t, path, "gamma delta")
	require.NoError(t, s.OnChange(event(path, watcher.Update)))
	eventuallyFinds(t, s, "alpha", []string{})
	eventuallyFinds(t, s, "delta", []string{path})
	eventuallyFinds(t, s, "gamma", []string{path})

	require.NoError(t, s.OnChange(event(path, watcher.Delete)))
	eventuallyFinds(t, s, "gamma", []string{})
	assert.Equal(t, 0, s.Stats().Containers)
}

func TestServicePreservesPerPathOrder(t *testing.T) {
	dir := tempDir(t)
	path := filepath.Join(dir, "doc.txt")
	write(t, path, "stable")
	s := newTestService(t)

	for i := 0; i < 50; i++ {
		require.NoError(t, s.OnChange(event(path, watcher.Create)))
		require.NoError(t, s.OnChange(event(path, watcher.Delete)))
	}
	require.NoError(t, s.OnChange(event(path, watcher.Create)))
	require.NoError(t, s.Close())

	got, err := s.FindWord(context.Background(), "stable")
	require.NoError(t, err)
	assert.Equal(t, []string{path}, got, "last event for the path wins")
	assert.Equal(t, uint64(101), s.Stats().Applied)
}

func TestServiceUpdateForUnknownPathIngests(t *testing.T) {
	dir := tempDir(t)
	path := filepath.Join(dir, "late.txt")
	write(t, path, "late arrival")
	s := newTestService(t)

	require.NoError(t, s.OnChange(event(path, watcher.Update)))
	eventuallyFinds(t, s, "arrival", []string{path})
}

func TestServiceReadFailureIsIsolated(t *testing.T) {
	dir := tempDir(t)
	good := filepath.Join(dir, "good.txt")
	write(t, good, "present")
	m := metrics.New(prometheus.NewRegistry())
	s := newTestService(t, WithMetrics(m))

	require.NoError(t, s.OnChange(event(filepath.Join(dir, "missing.txt"), watcher.Create)))
	require.NoError(t, s.OnChange(event(good, watcher.Create)))
	require.NoError(t, s.Close())

	got, err := s.FindWord(context.Background(), "present")
	require.NoError(t, err)
	assert.Equal(t, []string{good}, got)
	assert.Equal(t, uint64(1), s.Stats().Failed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexOpsTotal.WithLabelValues("create", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexedContainers))
}

func TestServiceIndexesAroundOversizedRun(t *testing.T) {
	dir := tempDir(t)
	path := filepath.Join(dir, "blob.txt")
	write(t, path, "Hail "+strings.Repeat("x", 2<<20)+" Hydra")
	s := newTestService(t)

	require.NoError(t, s.OnChange(event(path, watcher.Create)))
	eventuallyFinds(t, s, "Hail", []string{path})
	eventuallyFinds(t, s, "Hydra", []string{path})
	assert.Equal(t, uint64(0), s.Stats().Failed)
}

func newRetryService(t *testing.T, attempts int) *Service {
	t.Helper()
	s := New(
		config.IndexConfig{Workers: 2, QueueSize: 4, RetryAttempts: attempts, RetryDelay: 20 * time.Millisecond},
		token.NewTokenizer(nil, false),
		index.New(),
	)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestServiceRetriesUnreadableFile(t *testing.T) {
	dir := tempDir(t)
	path := filepath.Join(dir, "doc.txt")
	// Reading through a link to a directory fails with something other than
	// not-exist. Rename swaps the link for a file atomically.
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.Symlink(sub, path))
	s := newRetryService(t, 6)

	require.NoError(t, s.OnChange(event(path, watcher.Create)))
	require.Eventually(t, func() bool { return s.Stats().Retried >= 1 }, 3*time.Second, 5*time.Millisecond)

	staged := filepath.Join(dir, "staged")
	write(t, staged, "recovered content")
	require.NoError(t, os.Rename(staged, path))
	eventuallyFinds(t, s, "recovered", []string{path})
	assert.Equal(t, uint64(0), s.Stats().Failed)
	assert.Equal(t, uint64(1), s.Stats().Applied)
}

func TestServiceGivesUpAfterRetries(t *testing.T) {
	dir := tempDir(t)
	path := filepath.Join(dir, "stuck")
	require.NoError(t, os.Mkdir(path, 0o755))
	s := newRetryService(t, 3)

	require.NoError(t, s.OnChange(event(path, watcher.Create)))
	require.Eventually(t, func() bool { return s.Stats().Failed == 1 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(2), s.Stats().Retried)
	assert.Equal(t, uint64(0), s.Stats().Applied)
}

func TestServiceUnknownKindPanics(t *testing.T) {
	s := newTestService(t)
	assert.Panics(t, func() {
		_ = s.OnChange(watcher.ChangeEvent{Path: "/x", Kind: watcher.ChangeKind(9)})
	})
}

func TestServiceRejectsAfterClose(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	err := s.OnChange(event("/x", watcher.Create))
	assert.ErrorIs(t, err, apperrors.ErrClosed)
}

func TestFindWordNormalisesQuery(t *testing.T) {
	dir := tempDir(t)
	path := filepath.Join(dir, "doc.txt")
	write(t, path, "Hello, World!")
	s := newTestService(t)
	require.NoError(t, s.OnChange(event(path, watcher.Create)))

	eventuallyFinds(t, s, "World", []string{path})
	eventuallyFinds(t, s, " Hello, ", []string{path})
	eventuallyFinds(t, s, "hello", []string{})
	eventuallyFinds(t, s, "", []string{})
	eventuallyFinds(t, s, "Hello World", []string{path})
}

func TestFindWordLowercase(t *testing.T) {
	dir := tempDir(t)
	path := filepath.Join(dir, "doc.txt")
	write(t, path, "Hello World")
	s := New(config.IndexConfig{Workers: 1, QueueSize: 1}, token.NewTokenizer(nil, true), index.New())
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.OnChange(event(path, watcher.Create)))
	eventuallyFinds(t, s, "HELLO", []string{path})
}

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = string(value)
	return nil
}

func (m *memStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memStore) DeleteByPrefix(_ context.Context, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func TestCachedFindWordSeesMutations(t *testing.T) {
	dir := tempDir(t)
	path := filepath.Join(dir, "doc.txt")
	write(t, path, "cached word")
	wc := cache.New(&memStore{data: map[string]string{}}, time.Minute, nil)
	s := newTestService(t, WithCache(wc))
	ctx := context.Background()
	applied := func(n uint64) func() bool {
		return func() bool { return s.Stats().Applied == n }
	}

	got, err := s.FindWord(ctx, "cached")
	require.NoError(t, err)
	assert.Empty(t, got, "empty result is cached before the file is indexed")

	require.NoError(t, s.OnChange(event(path, watcher.Create)))
	require.Eventually(t, applied(1), 3*time.Second, 5*time.Millisecond)
	for i := 0; i < 2; i++ {
		got, err = s.FindWord(ctx, "cached")
		require.NoError(t, err)
		assert.Equal(t, []string{path}, got)
	}

	require.NoError(t, s.OnChange(event(path, watcher.Delete)))
	require.Eventually(t, applied(2), 3*time.Second, 5*time.Millisecond)
	got, err = s.FindWord(ctx, "cached")
	require.NoError(t, err)
	assert.Empty(t, got)

	hits, _ := wc.Stats()
	assert.Equal(t, int64(1), hits)
}

func TestWatcherToIndexEndToEnd(t *testing.T) {
	dir := tempDir(t)
	path := filepath.Join(dir, "hydra.txt")
	write(t, path, "Hail Hydra")

	s := newTestService(t)
	w := watcher.New(config.WatcherConfig{
		Roots:          []string{dir},
		PollInterval:   10 * time.Millisecond,
		Digest:         "sha256",
		InspectWorkers: 2,
		EventBuffer:    8,
	}, nil)
	require.NoError(t, w.RegisterListener(s))
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Close() })

	eventuallyFinds(t, s, "Hail", []string{path})
	eventuallyFinds(t, s, "Hydra", []string{path})

	// Byte-identical rewrite leaves the token set alone.
	before := s.Stats().Applied
	write(t, path, "Hail Hydra")
	future := time.Now().Add(5 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
	cycles := w.Stats().Cycles
	require.Eventually(t, func() bool { return w.Stats().Cycles >= cycles+3 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, before, s.Stats().Applied)
	assert.Equal(t, []string{"Hail", "Hydra"}, s.TokensOf(path))

	require.NoError(t, os.Remove(path))
	eventuallyFinds(t, s, "Hail", []string{})
	eventuallyFinds(t, s, "Hydra", []string{})
}
