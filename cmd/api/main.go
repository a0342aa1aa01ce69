// Package main is the entry point for the DFS portal API server.
//
// It loads configuration, wires the draft store, runtime settings, the
// dashboard stats poller and the authenticator, mounts every handler on the
// core chassis and serves HTTP until SIGINT or SIGTERM. Background workers
// (stats poller, settings refresh, metric flushing) share the server's
// lifetime and are drained before the process exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"dfsportal/internal/api/handlers"
	"dfsportal/internal/app"
	"dfsportal/internal/auth"
	"dfsportal/internal/config"
	"dfsportal/internal/core"
	"dfsportal/internal/db"
	"dfsportal/internal/external"
	"dfsportal/internal/forms"
	"dfsportal/internal/logging"
	"dfsportal/internal/scheduler"
	"dfsportal/internal/settings"
)

// settingsRefreshInterval is how often app_settings is re-read so operator
// changes reach every instance.
const settingsRefreshInterval = time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := logging.New(cfg)
	logger.Info("DFS portal API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}

	rec, cw, err := deps.Metrics(ctx)
	if err != nil {
		_ = deps.Close()
		return err
	}

	srv, poller, err := buildServer(deps, rec)
	if err != nil {
		_ = deps.Close()
		return err
	}

	var workers []func(context.Context)
	if poller != nil {
		workers = append(workers, poller.Run)
	}
	if cw != nil {
		workers = append(workers, func(ctx context.Context) { cw.Run(ctx, app.MetricsFlushInterval) })
	}
	if deps.Pool != nil {
		workers = append(workers, func(ctx context.Context) { deps.Settings.Watch(ctx, settingsRefreshInterval) })
	}

	return runService(ctx, stop, workers, func(ctx context.Context) error {
		return runHTTPServer(ctx, srv.Handler(), cfg, logger)
	}, deps.Close)
}

// runService starts the background workers, blocks in serve and then stops
// the workers. closeDeps runs only once every worker has returned, so no
// worker can reach a released pool, whichever way serve ended.
func runService(ctx context.Context, stop context.CancelFunc, workers []func(context.Context),
	serve func(context.Context) error, closeDeps func() error) error {
	var wg sync.WaitGroup
	for _, fn := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	err := serve(ctx)
	stop()
	wg.Wait()

	if cerr := closeDeps(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("releasing dependencies: %w", cerr))
	}
	return err
}

// buildServer assembles the chassis and registers every route. The returned
// poller is nil when STATS_SOURCE is "none".
func buildServer(deps *app.Deps, rec app.Recorder) (*core.Server, *scheduler.StatsPoller, error) {
	cfg, logger := deps.Config, deps.Logger

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = rec

	if profiles := deps.ProfileRepository(); profiles != nil {
		srv.Authenticator = auth.NewTokenAuthenticator(auth.TokenAuthenticatorConfig{
			Profiles: profiles,
			Logger:   logger,
		})
	} else if !cfg.IsLocal() {
		return nil, nil, errors.New("authentication requires DATABASE_URL outside local mode")
	} else {
		logger.Warn("no database configured; API authentication is disabled")
	}

	if p, ok := deps.KV.(core.Pinger); ok {
		srv.HealthProbes = append(srv.HealthProbes, core.NewPingProbe("storage", p))
	}
	if deps.Pool != nil {
		srv.HealthProbes = append(srv.HealthProbes, core.NewPingProbe("database", deps.Pool))
	}

	salesReport := forms.SalesReport()
	draftHandler := handlers.NewDraftHandler(handlers.DraftHandlerConfig{
		Store:      deps.Store,
		Cleaner:    scheduler.NewDraftCleanupService(deps.Store, rec, deps.Audit(), logger),
		Normalizer: salesReport,
		Audit:      deps.Audit(),
		Validator:  srv.Validator,
		Clock:      deps.Clock,
		Logger:     logger,
	})
	formsHandler := handlers.NewFormsHandler(salesReport)

	var settingsWriter handlers.SettingsWriter
	if repo := deps.SettingsRepository(); repo != nil {
		settingsWriter = repo
	}
	settingsHandler := handlers.NewSettingsHandler(deps.Settings, settingsWriter, logger)

	poller, err := newStatsPoller(deps, rec)
	if err != nil {
		return nil, nil, err
	}

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		func(r chi.Router) { draftHandler.RegisterRoutes(r, srv.RequireModule) },
		formsHandler.RegisterRoutes,
		func(r chi.Router) { settingsHandler.RegisterRoutes(r, srv.RequireModule) },
	)
	if poller != nil {
		srv.HealthProbes = append(srv.HealthProbes, statsProbe(poller))
		statsHandler := handlers.NewStatsHandler(poller, deps.Clock, logger)
		srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
			func(r chi.Router) { statsHandler.RegisterRoutes(r, srv.RequireModule) })
	}

	srv.MountRoutes()
	return srv, poller, nil
}

// statsProbe reports the dashboard stats as degraded until the poller has a
// snapshot. The panel is not critical, so it never fails /health.
func statsProbe(poller *scheduler.StatsPoller) core.HealthProbe {
	return core.HealthProbe{Name: "stats", Check: func(context.Context) error {
		if _, ok := poller.Latest(); ok {
			return nil
		}
		if err := poller.LastError(); err != nil {
			return err
		}
		return errors.New("no statistics snapshot yet")
	}}
}

// newStatsPoller builds the poller for the configured stats source and keeps
// its interval in step with the runtime settings.
func newStatsPoller(deps *app.Deps, rec app.Recorder) (*scheduler.StatsPoller, error) {
	cfg := deps.Config

	var source scheduler.StatsSource
	switch cfg.Stats.Source {
	case "database":
		if deps.Pool == nil {
			return nil, errors.New("STATS_SOURCE=database requires DATABASE_URL")
		}
		source = db.NewStatsRepository(deps.Pool, deps.Clock, deps.Location())
	case "backend":
		source = external.NewBackendClient(&http.Client{Timeout: cfg.Backend.Timeout}, external.BackendClientConfig{
			BaseURL:   cfg.Backend.URL,
			APIKey:    cfg.Backend.APIKey.Unmask(),
			UserAgent: cfg.Build.UserAgent(),
			Location:  deps.Location(),
			Clock:     deps.Clock,
			Logger:    deps.Logger,
		})
	default:
		return nil, nil
	}

	poller := scheduler.NewStatsPoller(scheduler.StatsPollerConfig{
		Source:   source,
		Interval: cfg.Stats.Interval,
		Metrics:  rec,
		Logger:   deps.Logger,
	})
	deps.Settings.Subscribe(func(s settings.Settings) {
		poller.SetInterval(s.StatsRefreshInterval)
	})
	return poller, nil
}

// runHTTPServer serves until ctx is cancelled or the listener fails, then
// shuts down gracefully.
func runHTTPServer(ctx context.Context, handler http.Handler, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
