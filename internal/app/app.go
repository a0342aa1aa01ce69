// Package app assembles the dependencies shared by the portal binaries:
// database pool, draft storage, runtime settings, audit, metrics and the
// AWS clients. Each binary takes what it needs from Deps and closes it on
// exit.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	_ "time/tzdata"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"dfsportal/internal/config"
	"dfsportal/internal/db"
	"dfsportal/internal/drafts"
	"dfsportal/internal/expiry"
	"dfsportal/internal/metrics"
	"dfsportal/internal/queue"
	"dfsportal/internal/scheduler"
	"dfsportal/internal/settings"
	"dfsportal/internal/storage"
	"dfsportal/internal/types"
)

// Deps holds the wired dependencies. Pool is nil when no database is
// configured.
type Deps struct {
	Config   *config.Config
	Logger   *slog.Logger
	Clock    types.Clock
	Pool     *pgxpool.Pool
	KV       storage.KV
	Store    *drafts.Store
	Settings *settings.Service

	closers []func() error
}

// Bootstrap opens the database (when configured) and the draft storage
// backend, builds the draft store and loads the runtime settings. The
// settings service is initialized before Bootstrap returns and the store
// follows its warning threshold from then on.
func Bootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Deps, error) {
	d := &Deps{Config: cfg, Logger: logger, Clock: types.SystemClock{}}

	var pg db.DBTX
	if cfg.Database.Enabled() {
		pool, err := db.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		d.Pool = pool
		pg = pool
		d.closers = append(d.closers, func() error { pool.Close(); return nil })
	}

	kv, closeKV, err := storage.Open(ctx, cfg.Storage, pg)
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Storage.Backend, err)
	}
	d.KV = kv
	d.closers = append(d.closers, closeKV)

	policy := expiry.Policy{TTL: expiry.DefaultTTL, WarningThreshold: cfg.Drafts.WarningThreshold}
	d.Store = drafts.NewStore(kv, d.Clock, policy, logger)

	d.Settings = settings.NewService(d.settingsSource(), logger)
	if err := d.Settings.Initialize(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	d.Settings.Subscribe(func(s settings.Settings) {
		d.Store.SetWarningThreshold(s.ExpiryWarningThreshold)
	})

	logger.InfoContext(ctx, "dependencies ready",
		"storage_backend", cfg.Storage.Backend,
		"storage_origin", cfg.Storage.Origin,
		"database", d.Pool != nil,
	)
	return d, nil
}

// settingsSource reads app_settings when a database is available and falls
// back to environment values otherwise.
func (d *Deps) settingsSource() settings.Source {
	fallback := settings.FromConfig(d.Config)
	if d.Pool == nil {
		return fallback
	}
	return settings.NewRepositorySource(db.NewSettingsRepository(d.Pool), fallback.Settings)
}

// SettingsRepository returns the writable settings table, or nil without a
// database.
func (d *Deps) SettingsRepository() *db.SettingsRepository {
	if d.Pool == nil {
		return nil
	}
	return db.NewSettingsRepository(d.Pool)
}

// Audit returns the audit log writer. Without a database it returns a nil
// interface, which every consumer treats as "auditing disabled".
func (d *Deps) Audit() scheduler.AuditLogger {
	if d.Pool == nil {
		return nil
	}
	return db.NewAuditRepository(d.Pool)
}

// ProfileRepository returns the profile table, or nil without a database.
func (d *Deps) ProfileRepository() *db.ProfileRepository {
	if d.Pool == nil {
		return nil
	}
	return db.NewProfileRepository(d.Pool)
}

// Location returns the stats time zone, falling back to UTC.
func (d *Deps) Location() *time.Location {
	if d.Config.Stats.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(d.Config.Stats.Timezone)
	if err != nil {
		d.Logger.Warn("unknown stats timezone; using UTC", "timezone", d.Config.Stats.Timezone, "error", err)
		return time.UTC
	}
	return loc
}

// AWSConfig loads the SDK configuration for the configured region. A custom
// endpoint (LocalStack) overrides every service endpoint.
func (d *Deps) AWSConfig(ctx context.Context) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(d.Config.AWS.Region),
	}
	if d.Config.AWS.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(d.Config.AWS.EndpointURL))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}

// MetricsFlushInterval is how often long-running processes send buffered
// metrics.
const MetricsFlushInterval = time.Minute

// Recorder is the metrics sink the binaries share.
type Recorder interface {
	RecordRequest(method, route, status string, duration time.Duration)
	StatsResponseDropped()
	StatsPollFailed()
	DraftsCleaned(ctx context.Context, n int)
	NoticesSent(ctx context.Context, n int)
}

// Metrics returns a CloudWatch recorder when metrics are enabled and a no-op
// sink otherwise. The second value is non-nil only for CloudWatch and must
// be run or flushed by the caller.
func (d *Deps) Metrics(ctx context.Context) (Recorder, *metrics.Recorder, error) {
	if !d.Config.Observability.EnableMetrics {
		return metrics.Noop{}, nil, nil
	}
	awsCfg, err := d.AWSConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	rec := metrics.NewRecorder(cloudwatch.NewFromConfig(awsCfg), d.Config.Observability.MetricNamespace, d.Logger)
	return rec, rec, nil
}

// NoticePublisher returns the SQS publisher for expiry notices, or nil when
// no queue is configured.
func (d *Deps) NoticePublisher(ctx context.Context) (*queue.NoticePublisher, error) {
	if d.Config.AWS.NoticeQueueURL == "" {
		return nil, nil
	}
	awsCfg, err := d.AWSConfig(ctx)
	if err != nil {
		return nil, err
	}
	return queue.NewNoticePublisher(sqs.NewFromConfig(awsCfg), d.Config.AWS, d.Logger), nil
}

// Close releases everything in reverse order of acquisition.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
