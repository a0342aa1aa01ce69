// Package settings holds the runtime settings that operators can change
// without a deploy. A Service is constructed explicitly, loaded once with
// Initialize and reloaded with Refresh; there is no package-level state.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"dfsportal/internal/types"
)

// Setting keys as stored in app_settings.
const (
	KeyExpiryWarningThreshold = "draft_warning_threshold"
	KeySMSDailyLimit          = "sms_daily_limit"
	KeyStatsRefreshInterval   = "stats_refresh_interval"
	KeySMSSenderName          = "sms_sender_name"
)

// KnownKeys lists every key FromMap understands.
var KnownKeys = []string{
	KeyExpiryWarningThreshold,
	KeySMSDailyLimit,
	KeyStatsRefreshInterval,
	KeySMSSenderName,
}

// IsKnownKey reports whether key is one of KnownKeys.
func IsKnownKey(key string) bool {
	return slices.Contains(KnownKeys, key)
}

// Defaults applied to zero values.
const (
	DefaultExpiryWarningThreshold = 2 * time.Hour
	DefaultSMSDailyLimit          = 500
	DefaultStatsRefreshInterval   = 20 * time.Second
	DefaultSMSSenderName          = "DFS Portal"
)

// ErrNotInitialized is returned by Current before Initialize has succeeded.
var ErrNotInitialized = errors.New("settings: not initialized")

// Settings is one consistent snapshot of the runtime settings.
type Settings struct {
	ExpiryWarningThreshold time.Duration `json:"expiry_warning_threshold"`
	SMSDailyLimit          int           `json:"sms_daily_limit"`
	StatsRefreshInterval   time.Duration `json:"stats_refresh_interval"`
	SMSSenderName          string        `json:"sms_sender_name"`
}

// WithDefaults fills zero fields.
func (s Settings) WithDefaults() Settings {
	if s.ExpiryWarningThreshold <= 0 {
		s.ExpiryWarningThreshold = DefaultExpiryWarningThreshold
	}
	if s.SMSDailyLimit <= 0 {
		s.SMSDailyLimit = DefaultSMSDailyLimit
	}
	if s.StatsRefreshInterval <= 0 {
		s.StatsRefreshInterval = DefaultStatsRefreshInterval
	}
	if strings.TrimSpace(s.SMSSenderName) == "" {
		s.SMSSenderName = DefaultSMSSenderName
	}
	return s
}

// ToMap renders s in the stored string form, the inverse of FromMap.
func (s Settings) ToMap() map[string]string {
	return map[string]string{
		KeyExpiryWarningThreshold: s.ExpiryWarningThreshold.String(),
		KeySMSDailyLimit:          strconv.Itoa(s.SMSDailyLimit),
		KeyStatsRefreshInterval:   s.StatsRefreshInterval.String(),
		KeySMSSenderName:          s.SMSSenderName,
	}
}

// FromMap parses stored key/value pairs. Unknown keys are ignored. Every
// malformed value is reported in a single validation_invalid_field error.
func FromMap(kv map[string]string) (Settings, error) {
	var (
		s   Settings
		bad = map[string]string{}
	)
	for key, raw := range kv {
		raw = strings.TrimSpace(raw)
		switch key {
		case KeyExpiryWarningThreshold:
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				bad[key] = "must be a positive duration"
				continue
			}
			s.ExpiryWarningThreshold = d
		case KeyStatsRefreshInterval:
			d, err := time.ParseDuration(raw)
			if err != nil || d < time.Second {
				bad[key] = "must be a duration of at least 1s"
				continue
			}
			s.StatsRefreshInterval = d
		case KeySMSDailyLimit:
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				bad[key] = "must be a positive integer"
				continue
			}
			s.SMSDailyLimit = n
		case KeySMSSenderName:
			s.SMSSenderName = raw
		}
	}
	if len(bad) > 0 {
		return Settings{}, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
			"invalid runtime settings", nil, map[string]any{"fields": bad})
	}
	return s.WithDefaults(), nil
}

// Source loads a settings snapshot.
type Source interface {
	Load(ctx context.Context) (Settings, error)
}

// Service owns the current settings snapshot.
type Service struct {
	source Source
	logger *slog.Logger

	mu          sync.RWMutex
	current     *Settings
	loadedAt    time.Time
	subscribers []func(Settings)
}

// NewService creates a Service. Nothing is loaded until Initialize.
func NewService(source Source, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, logger: logger.With("component", "settings")}
}

// Initialize performs the first load. Calling it again behaves like Refresh.
func (s *Service) Initialize(ctx context.Context) error {
	if err := s.load(ctx); err != nil {
		return fmt.Errorf("initializing settings: %w", err)
	}
	return nil
}

// Refresh reloads from the source. On failure the previous snapshot stays in
// effect and the error is returned.
func (s *Service) Refresh(ctx context.Context) error {
	s.mu.RLock()
	initialized := s.current != nil
	s.mu.RUnlock()
	if !initialized {
		return ErrNotInitialized
	}
	if err := s.load(ctx); err != nil {
		s.logger.WarnContext(ctx, "settings refresh failed; keeping previous values", "error", err)
		return fmt.Errorf("refreshing settings: %w", err)
	}
	return nil
}

func (s *Service) load(ctx context.Context) error {
	loaded, err := s.source.Load(ctx)
	if err != nil {
		return err
	}
	loaded = loaded.WithDefaults()

	s.mu.Lock()
	changed := s.current == nil || *s.current != loaded
	s.current = &loaded
	s.loadedAt = time.Now().UTC()
	subs := append([]func(Settings){}, s.subscribers...)
	s.mu.Unlock()

	if changed {
		s.logger.InfoContext(ctx, "settings loaded",
			"expiry_warning_threshold", loaded.ExpiryWarningThreshold,
			"sms_daily_limit", loaded.SMSDailyLimit,
			"stats_refresh_interval", loaded.StatsRefreshInterval,
		)
		for _, fn := range subs {
			fn(loaded)
		}
	}
	return nil
}

// Current returns the snapshot in effect.
func (s *Service) Current() (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Settings{}, ErrNotInitialized
	}
	return *s.current, nil
}

// LoadedAt reports when the current snapshot was loaded.
func (s *Service) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// Subscribe registers fn to be called with every snapshot that differs from
// the previous one. If settings are already loaded fn is called immediately.
func (s *Service) Subscribe(fn func(Settings)) {
	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	cur := s.current
	s.mu.Unlock()
	if cur != nil {
		fn(*cur)
	}
}

// Watch calls Refresh every interval until ctx is done.
func (s *Service) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Refresh(ctx)
		}
	}
}
