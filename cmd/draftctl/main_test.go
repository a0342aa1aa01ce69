package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dfsportal/internal/auth"
	"dfsportal/internal/drafts"
	"dfsportal/internal/expiry"
	"dfsportal/internal/scheduler"
	"dfsportal/internal/storage"
	"dfsportal/internal/types"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeProfiles struct{ created []*types.Profile }

func (f *fakeProfiles) Create(_ context.Context, p *types.Profile) error {
	f.created = append(f.created, p)
	return nil
}

type fakeMigrator struct {
	n   int
	err error
}

func (f fakeMigrator) MigratePermissions(context.Context) (int, error) { return f.n, f.err }

type harness struct {
	cli   *cli
	store *drafts.Store
	clock *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &fakeClock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
	store := drafts.NewStore(storage.NewMemoryKV(0), clock, expiry.DefaultPolicy(), logger)
	c := &cli{
		open: func(context.Context, bool) (*env, error) { return nil, errors.New("open must not be called") },
		env: &env{
			Store:   store,
			Cleaner: scheduler.NewDraftCleanupService(store, nil, nil, logger),
			Logger:  logger,
		},
	}
	return &harness{cli: c, store: store, clock: clock}
}

func (h *harness) run(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(h.cli)
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(io.Discard)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Save(ctx, "GN-01", "2026-10-17", nil))
	h.clock.now = h.clock.now.Add(11 * time.Hour)
	require.NoError(t, h.store.Save(ctx, "SC-02", "2026-10-17", nil))
	h.clock.now = h.clock.now.Add(90 * time.Minute)

	out, err := h.run(t, nil, "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "STATION")
	assert.Contains(t, lines[1], "SC-02")
	assert.Contains(t, lines[1], "ok")
	assert.Contains(t, lines[2], "GN-01")
	assert.Contains(t, lines[2], "expired")

	out, err = h.run(t, nil, "list", "--station", "GN-01", "--json")
	require.NoError(t, err)
	var rows []types.DraftSummary
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Expired)
}

func TestGetDeleteCleanupUsage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Save(ctx, "GN-01", "2026-10-16", nil))
	require.NoError(t, h.store.Save(ctx, "GN-01", "2026-10-17", map[string]any{"managerName": "Kim"}))

	out, err := h.run(t, nil, "get", "GN-01", "2026-10-17")
	require.NoError(t, err)
	assert.Contains(t, out, `"managerName": "Kim"`)

	out, err = h.run(t, nil, "delete", "GN-01", "2026-10-17")
	require.NoError(t, err)
	assert.Equal(t, "deleted GN-01 2026-10-17\n", out)

	_, err = h.run(t, nil, "get", "GN-01", "2026-10-17")
	assert.Error(t, err)

	h.clock.now = h.clock.now.Add(12 * time.Hour)
	out, err = h.run(t, nil, "cleanup")
	require.NoError(t, err)
	assert.Equal(t, "removed 1 expired drafts\n", out)

	out, err = h.run(t, nil, "usage")
	require.NoError(t, err)
	assert.Equal(t, "0 drafts, 0 bytes\n", out)
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newHarness(t)
	require.NoError(t, src.store.Save(context.Background(), "GN-01", "2026-10-17", map[string]any{"notes": "pump 3 leaking"}))

	stream, err := src.run(t, nil, "export")
	require.NoError(t, err)

	dst := newHarness(t)
	out, err := dst.run(t, strings.NewReader(stream), "import")
	require.NoError(t, err)
	assert.Equal(t, "imported 1 drafts\n", out)

	payload, ok := dst.store.Load(context.Background(), "GN-01", "2026-10-17")
	require.True(t, ok)
	assert.Equal(t, "pump 3 leaking", payload["notes"])
}

func TestDatabaseCommandsNeedDatabase(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, nil, "migrate-permissions")
	assert.ErrorIs(t, err, errNoDatabase)
	_, err = h.run(t, nil, "issue-token", "--id", "prof_1", "--name", "Kim")
	assert.ErrorIs(t, err, errNoDatabase)
}

func TestMigratePermissions(t *testing.T) {
	h := newHarness(t)
	h.cli.env.Migrator = fakeMigrator{n: 3}
	out, err := h.run(t, nil, "migrate-permissions")
	require.NoError(t, err)
	assert.Equal(t, "migrated 3 profiles\n", out)
}

func TestIssueToken(t *testing.T) {
	h := newHarness(t)
	profiles := &fakeProfiles{}
	h.cli.env.Profiles = profiles

	out, err := h.run(t, nil, "issue-token", "--id", "prof_gn", "--name", "Gangnam manager",
		"--station", "GN-01", "--grant", "drafts=write", "--grant", "stats=read")
	require.NoError(t, err)

	require.Len(t, profiles.created, 1)
	p := profiles.created[0]
	assert.Equal(t, "prof_gn", p.ID)
	assert.Equal(t, []string{"GN-01"}, p.Permissions.Stations)
	assert.Equal(t, types.AccessWrite, p.Permissions.Level(types.ModuleDrafts))
	assert.Equal(t, types.AccessRead, p.Permissions.Level(types.ModuleStats))

	raw := strings.TrimPrefix(strings.Split(strings.TrimSpace(out), "\n")[1], "token: ")
	prefix, secret, ok := auth.SplitToken(raw)
	require.True(t, ok)
	assert.Equal(t, p.TokenPrefix, prefix)
	assert.NotEqual(t, secret, p.TokenHash)
}

func TestParseGrants(t *testing.T) {
	_, err := parseGrants(nil, []string{"drafts"})
	assert.Error(t, err)
	_, err = parseGrants(nil, []string{"payroll=read"})
	assert.Error(t, err)
	_, err = parseGrants(nil, []string{"drafts=owner"})
	assert.Error(t, err)

	p, err := parseGrants(nil, []string{" drafts = admin "})
	require.NoError(t, err)
	assert.True(t, p.Allows(types.ModuleDrafts, types.AccessWrite))
	assert.True(t, p.CanAccessStation("any"))
}
