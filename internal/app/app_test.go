package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Watcher.Roots = []string{dir}
	cfg.Watcher.PollInterval = 10 * time.Millisecond
	cfg.Index.Workers = 2
	return cfg, dir
}

func TestAppIndexesTree(t *testing.T) {
	cfg, dir := testConfig(t)
	hydra := filepath.Join(dir, "hydra.txt")
	require.NoError(t, os.WriteFile(hydra, []byte("Hail Hydra"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	shield := filepath.Join(dir, "nested", "shield.txt")
	require.NoError(t, os.WriteFile(shield, []byte("Hail Shield"), 0o644))

	ctx := context.Background()
	a, err := New(ctx, cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	assert.Nil(t, a.Cache)
	assert.Nil(t, a.Journal)

	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() { _ = a.Close() })

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, a.WaitSynced(waitCtx))

	got, err := a.Search.FindWord(ctx, "Hail")
	require.NoError(t, err)
	assert.Equal(t, []string{hydra, shield}, got)

	report := a.Checker.Run(ctx)
	assert.Equal(t, health.StatusUp, report.Status)
	assert.Contains(t, report.Components, "watcher")
	assert.Contains(t, report.Components, "index")
}

func TestAppRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	_, err := New(context.Background(), cfg, prometheus.NewRegistry())
	assert.ErrorContains(t, err, "watcher.roots")
}

func TestAppSkipsUnreachableStores(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"

	a, err := New(context.Background(), cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	assert.Nil(t, a.Cache, "unreachable redis disables caching")
}

func TestAppCloseStopsWatcher(t *testing.T) {
	cfg, _ := testConfig(t)
	a, err := New(context.Background(), cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Close())

	assert.False(t, a.Watcher.Running())
	assert.Equal(t, health.StatusDown, a.Checker.Run(context.Background()).Status)
}
