package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"dfsportal/internal/app"
	"dfsportal/internal/config"
	"dfsportal/internal/metrics"
)

func testConfig() *config.Config {
	cfg := &config.Config{Environment: "local", Service: "dfs-portal"}
	cfg.Storage.Backend = "memory"
	cfg.Storage.Origin = "test"
	cfg.Drafts.WarningThreshold = 2 * time.Hour
	cfg.Stats.Source = "none"
	cfg.Stats.Interval = 20 * time.Second
	cfg.Janitor.Interval = 15 * time.Minute
	return cfg
}

func bootstrap(t *testing.T, cfg *config.Config) *app.Deps {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps, err := app.Bootstrap(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	t.Cleanup(func() { _ = deps.Close() })
	return deps
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	return rec
}

func TestBuildServer_LocalWithoutDatabase(t *testing.T) {
	deps := bootstrap(t, testConfig())

	srv, poller, err := buildServer(deps, metrics.Noop{})
	if err != nil {
		t.Fatalf("buildServer: %v", err)
	}
	if poller != nil {
		t.Error("expected no stats poller for STATS_SOURCE=none")
	}
	if srv.Authenticator != nil {
		t.Error("expected authentication to be disabled in local mode without a database")
	}
	h := srv.Handler()

	rec := serve(h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var health struct {
		Status     string                    `json:"status"`
		Components map[string]map[string]any `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decoding health: %v", err)
	}
	if _, ok := health.Components["storage"]; !ok {
		t.Errorf("expected a storage component, got %v", health.Components)
	}

	rec = serve(h, http.MethodPut, "/v1/drafts/GN-01/2026-10-17", `{"payload":{"managerName":"Kim"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = serve(h, http.MethodGet, "/v1/drafts", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"GN-01"`) {
		t.Fatalf("list: got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(h, http.MethodGet, "/v1/forms/sales-report", "")
	if rec.Code != http.StatusOK {
		t.Errorf("forms: expected 200, got %d", rec.Code)
	}
	rec = serve(h, http.MethodGet, "/v1/stats", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("stats: expected 404 without a stats source, got %d", rec.Code)
	}
	rec = serve(h, http.MethodPut, "/v1/settings/sms_daily_limit", `{"value":"10"}`)
	if rec.Code == http.StatusOK {
		t.Error("settings must be read-only without a database")
	}
}

func TestBuildServer_RequiresDatabaseOutsideLocal(t *testing.T) {
	deps := bootstrap(t, testConfig())
	deps.Config.Environment = "prod"

	if _, _, err := buildServer(deps, metrics.Noop{}); err == nil {
		t.Fatal("expected an error when authentication cannot be wired")
	}
}

func TestBuildServer_BackendStatsSource(t *testing.T) {
	cfg := testConfig()
	cfg.Stats.Source = "backend"
	cfg.Backend.URL = "http://backend.invalid"
	cfg.Backend.Timeout = time.Second
	deps := bootstrap(t, cfg)

	srv, poller, err := buildServer(deps, metrics.Noop{})
	if err != nil {
		t.Fatalf("buildServer: %v", err)
	}
	if poller == nil {
		t.Fatal("expected a stats poller")
	}
	if got := poller.Interval(); got != 20*time.Second {
		t.Errorf("expected interval from settings, got %s", got)
	}

	rec := serve(srv.Handler(), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200 while only stats is missing", rec.Code)
	}
	var health struct {
		Status     string                    `json:"status"`
		Components map[string]map[string]any `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "degraded" || health.Components["stats"]["status"] != "unhealthy" {
		t.Errorf("health = %+v", health)
	}
}

func TestBuildServer_DatabaseStatsWithoutPool(t *testing.T) {
	cfg := testConfig()
	cfg.Stats.Source = "database"
	deps := bootstrap(t, cfg)

	if _, _, err := buildServer(deps, metrics.Noop{}); err == nil {
		t.Fatal("expected an error for STATS_SOURCE=database without a pool")
	}
}

func TestRunService_ClosesDependenciesAfterWorkersStop(t *testing.T) {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(event string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, event)
	}

	listenErr := errors.New("listen tcp :8080: address already in use")
	worker := func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		record("worker stopped")
	}
	serve := func(context.Context) error { return listenErr }
	closeDeps := func() error {
		record("deps closed")
		return nil
	}

	err := runService(ctx, stop, []func(context.Context){worker, worker}, serve, closeDeps)
	if !errors.Is(err, listenErr) {
		t.Fatalf("runService error = %v, want %v", err, listenErr)
	}

	want := []string{"worker stopped", "worker stopped", "deps closed"}
	if len(order) != len(want) {
		t.Fatalf("events = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestRunService_JoinsCloseError(t *testing.T) {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	closeErr := errors.New("pool busy")
	err := runService(ctx, stop, nil,
		func(context.Context) error { return nil },
		func() error { return closeErr })
	if !errors.Is(err, closeErr) {
		t.Fatalf("runService error = %v, want it to wrap %v", err, closeErr)
	}
}
