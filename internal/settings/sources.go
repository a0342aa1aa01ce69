package settings

import (
	"context"

	"dfsportal/internal/config"
)

// StaticSource always returns the same settings. It backs local mode where
// there is no settings table.
type StaticSource struct {
	Settings Settings
}

func (s StaticSource) Load(context.Context) (Settings, error) {
	return s.Settings, nil
}

// FromConfig seeds a StaticSource from environment configuration.
func FromConfig(cfg *config.Config) StaticSource {
	return StaticSource{Settings: Settings{
		ExpiryWarningThreshold: cfg.Drafts.WarningThreshold,
		StatsRefreshInterval:   cfg.Stats.Interval,
	}.WithDefaults()}
}

// KeyValueReader is the read side of the app_settings table.
type KeyValueReader interface {
	All(ctx context.Context) (map[string]string, error)
}

// RepositorySource reads settings from the database, overlaying fallback for
// keys that are absent.
type RepositorySource struct {
	repo     KeyValueReader
	fallback Settings
}

// NewRepositorySource creates a RepositorySource.
func NewRepositorySource(repo KeyValueReader, fallback Settings) *RepositorySource {
	return &RepositorySource{repo: repo, fallback: fallback}
}

func (r *RepositorySource) Load(ctx context.Context) (Settings, error) {
	kv, err := r.repo.All(ctx)
	if err != nil {
		return Settings{}, err
	}
	s, err := FromMap(kv)
	if err != nil {
		return Settings{}, err
	}
	if _, ok := kv[KeyExpiryWarningThreshold]; !ok && r.fallback.ExpiryWarningThreshold > 0 {
		s.ExpiryWarningThreshold = r.fallback.ExpiryWarningThreshold
	}
	if _, ok := kv[KeySMSDailyLimit]; !ok && r.fallback.SMSDailyLimit > 0 {
		s.SMSDailyLimit = r.fallback.SMSDailyLimit
	}
	if _, ok := kv[KeyStatsRefreshInterval]; !ok && r.fallback.StatsRefreshInterval > 0 {
		s.StatsRefreshInterval = r.fallback.StatsRefreshInterval
	}
	if _, ok := kv[KeySMSSenderName]; !ok && r.fallback.SMSSenderName != "" {
		s.SMSSenderName = r.fallback.SMSSenderName
	}
	return s, nil
}
