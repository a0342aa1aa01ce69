package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dfsportal/internal/config"
	"dfsportal/internal/metrics"
	"dfsportal/internal/scheduler"
)

func localConfig() *config.Config {
	cfg := &config.Config{Environment: "local", Service: "dfs-portal"}
	cfg.Storage.Backend = "memory"
	cfg.Storage.Origin = "test"
	cfg.Drafts.WarningThreshold = 90 * time.Minute
	cfg.Stats.Interval = 30 * time.Second
	cfg.Janitor.Interval = 15 * time.Minute
	return cfg
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestBootstrap_LocalMemory(t *testing.T) {
	ctx := context.Background()
	d, err := Bootstrap(ctx, localConfig(), discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	assert.Nil(t, d.Pool)
	assert.Nil(t, d.Audit())
	assert.Nil(t, d.SettingsRepository())
	assert.Nil(t, d.ProfileRepository())

	cur, err := d.Settings.Current()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, cur.ExpiryWarningThreshold)
	assert.Equal(t, 90*time.Minute, d.Store.Policy().WarningThreshold)

	require.NoError(t, d.Store.Save(ctx, "GN-01", "2026-10-17", map[string]any{"managerName": "Kim"}))
	_, ok := d.Store.Load(ctx, "GN-01", "2026-10-17")
	assert.True(t, ok)
}

func TestBootstrap_UnknownBackend(t *testing.T) {
	cfg := localConfig()
	cfg.Storage.Backend = "redis"
	_, err := Bootstrap(context.Background(), cfg, discard())
	assert.ErrorContains(t, err, "redis")
}

func TestRunner_WithoutDatabaseOrQueue(t *testing.T) {
	ctx := context.Background()
	d, err := Bootstrap(ctx, localConfig(), discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	r, err := d.Runner(ctx, metrics.Noop{}, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, r.Notices)
	assert.Nil(t, r.JobLock)
	assert.Nil(t, r.Permissions)
	assert.Equal(t, []scheduler.TaskType{scheduler.TaskCleanupExpiredDrafts}, ScheduledTasks(r))

	out, err := r.Handle(ctx, scheduler.MaintenancePayload{Task: scheduler.TaskCleanupExpiredDrafts})
	require.NoError(t, err)
	assert.Contains(t, out, "0 items")
}

func TestLocation(t *testing.T) {
	d := &Deps{Config: localConfig(), Logger: discard()}
	assert.Equal(t, time.UTC, d.Location())

	d.Config.Stats.Timezone = "Asia/Seoul"
	assert.Equal(t, "Asia/Seoul", d.Location().String())

	d.Config.Stats.Timezone = "Mars/Olympus"
	assert.Equal(t, time.UTC, d.Location())
}
