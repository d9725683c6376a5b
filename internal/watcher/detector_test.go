package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/live-index/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tempDir returns a resolved temp directory so paths match what the scanner
// reports on systems where the temp dir sits behind a symlink.
func tempDir(t testing.TB) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func writeFile(t testing.TB, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// touch moves path's modification time forward so the pre-filter selects it.
func touch(t *testing.T, path string, offset time.Duration) {
	t.Helper()
	ts := time.Now().Add(offset)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

type recorder struct {
	events []ChangeEvent
}

func (r *recorder) emit(_ context.Context, event ChangeEvent) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) take() []ChangeEvent {
	out := r.events
	r.events = nil
	return out
}

func newTestDetector(t testing.TB, m *metrics.Metrics, roots ...string) (*Detector, *recorder) {
	t.Helper()
	engine, err := digest.New("sha256", 0)
	require.NoError(t, err)
	rec := &recorder{}
	return NewDetector(NewScanner(roots, engine, 4), time.Millisecond, rec.emit, m), rec
}

func kinds(events []ChangeEvent) map[string]ChangeKind {
	out := make(map[string]ChangeKind, len(events))
	for _, e := range events {
		out[e.Path] = e.Kind
	}
	return out
}

func TestDetectorInitialCycleReportsCreates(t *testing.T) {
	dir := tempDir(t)
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "nested", "b.txt")
	writeFile(t, a, "alpha")
	writeFile(t, b, "beta")

	d, rec := newTestDetector(t, nil, dir)
	require.NoError(t, d.Poll(context.Background()))

	events := rec.take()
	require.Len(t, events, 2)
	assert.Equal(t, a, events[0].Path, "creates are emitted in path order")
	assert.Equal(t, b, events[1].Path)
	for _, e := range events {
		assert.Equal(t, Create, e.Kind)
		assert.False(t, e.ObservedAt.IsZero())
	}

	require.NoError(t, d.Poll(context.Background()))
	assert.Empty(t, rec.take(), "unchanged tree yields no events")
}

func TestDetectorUpdateAndDelete(t *testing.T) {
	dir := tempDir(t)
	a := filepath.Join(dir, "a.txt")
	writeFile(t, a, "first")

	d, rec := newTestDetector(t, nil, dir)
	require.NoError(t, d.Poll(context.Background()))
	rec.take()

	writeFile(t, a, "second")
	touch(t, a, 5*time.Second)
	require.NoError(t, d.Poll(context.Background()))
	assert.Equal(t, map[string]ChangeKind{a: Update}, kinds(rec.take()))

	require.NoError(t, os.Remove(a))
	require.NoError(t, d.Poll(context.Background()))
	assert.Equal(t, map[string]ChangeKind{a: Delete}, kinds(rec.take()))

	require.NoError(t, d.Poll(context.Background()))
	assert.Empty(t, rec.take(), "a deleted path is reported once")
}

func TestDetectorIgnoresIdenticalRewrite(t *testing.T) {
	dir := tempDir(t)
	a := filepath.Join(dir, "a.txt")
	writeFile(t, a, "same")

	d, rec := newTestDetector(t, nil, dir)
	require.NoError(t, d.Poll(context.Background()))
	rec.take()

	writeFile(t, a, "same")
	touch(t, a, 5*time.Second)
	require.NoError(t, d.Poll(context.Background()))
	assert.Empty(t, rec.take(), "timestamp change alone is not an update")
	assert.Equal(t, uint64(2), d.Stats().Inspected)
}

func TestDetectorNewFileWithOldTimestamp(t *testing.T) {
	dir := tempDir(t)
	d, rec := newTestDetector(t, nil, dir)
	require.NoError(t, d.Poll(context.Background()))
	require.Empty(t, rec.take())

	// Simulates a file moved in from elsewhere, keeping its mtime.
	old := filepath.Join(dir, "archive.txt")
	writeFile(t, old, "from 2001")
	ts := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(old, ts, ts))

	require.NoError(t, d.Poll(context.Background()))
	assert.Equal(t, map[string]ChangeKind{old: Create}, kinds(rec.take()))
}

func TestDetectorDeleteThenRecreate(t *testing.T) {
	dir := tempDir(t)
	a := filepath.Join(dir, "a.txt")
	writeFile(t, a, "v1")

	d, rec := newTestDetector(t, nil, dir)
	require.NoError(t, d.Poll(context.Background()))
	rec.take()

	require.NoError(t, os.Remove(a))
	require.NoError(t, d.Poll(context.Background()))
	rec.take()

	writeFile(t, a, "v1")
	require.NoError(t, d.Poll(context.Background()))
	assert.Equal(t, map[string]ChangeKind{a: Create}, kinds(rec.take()))
}

func TestDetectorRetriesFailedInspection(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	dir := tempDir(t)
	a := filepath.Join(dir, "locked.txt")
	writeFile(t, a, "secret")
	require.NoError(t, os.Chmod(a, 0o000))
	t.Cleanup(func() { _ = os.Chmod(a, 0o644) })

	d, rec := newTestDetector(t, nil, dir)
	require.NoError(t, d.Poll(context.Background()))
	assert.Empty(t, rec.take(), "unreadable file is skipped for the cycle")
	assert.Equal(t, uint64(1), d.Stats().Errors)

	// Restoring permissions does not move mtime; the retry set still selects it.
	require.NoError(t, os.Chmod(a, 0o644))
	require.NoError(t, d.Poll(context.Background()))
	assert.Equal(t, map[string]ChangeKind{a: Create}, kinds(rec.take()))
}

func TestDetectorCancelledCycleKeepsState(t *testing.T) {
	dir := tempDir(t)
	writeFile(t, filepath.Join(dir, "a.txt"), "x")

	d, rec := newTestDetector(t, nil, dir)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, d.Poll(ctx), context.Canceled)
	assert.Empty(t, rec.take())
	assert.Equal(t, uint64(0), d.Stats().Cycles)

	require.NoError(t, d.Poll(context.Background()))
	assert.Len(t, rec.take(), 1)
}

func TestDetectorRecordsMetrics(t *testing.T) {
	dir := tempDir(t)
	writeFile(t, filepath.Join(dir, "a.txt"), "x")
	writeFile(t, filepath.Join(dir, "b.txt"), "y")

	m := metrics.New(prometheus.NewRegistry())
	d, _ := newTestDetector(t, m, dir)
	require.NoError(t, d.Poll(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollCyclesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FilesInspectedTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChangeEventsTotal.WithLabelValues("create")))

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Cycles)
	assert.Equal(t, 2, stats.FilesSeen)
	assert.Equal(t, uint64(2), stats.Creates)
}

func TestDetectorRunStopsOnCancel(t *testing.T) {
	dir := tempDir(t)
	d, _ := newTestDetector(t, nil, dir)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return d.Stats().Cycles >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

// BenchmarkPollQuiescent measures a cycle over an unchanged tree, where the
// mtime pre-filter should skip every digest.
func BenchmarkPollQuiescent(b *testing.B) {
	dir := tempDir(b)
	for i := 0; i < 1000; i++ {
		writeFile(b, filepath.Join(dir, fmt.Sprintf("d%02d", i%20), fmt.Sprintf("f%04d.txt", i)), "quiescent file body")
	}
	past := time.Now().Add(-time.Hour)
	require.NoError(b, filepath.WalkDir(dir, func(path string, _ os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Chtimes(path, past, past)
	}))
	d, rec := newTestDetector(b, nil, dir)
	require.NoError(b, d.Poll(context.Background()))
	require.NoError(b, d.Poll(context.Background()))
	rec.take()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := d.Poll(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()
	assert.Empty(b, rec.take())
}
