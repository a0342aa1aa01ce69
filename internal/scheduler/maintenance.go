package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dfsportal/internal/drafts"
	"dfsportal/internal/storage"
	"dfsportal/internal/types"
)

// JobMetrics receives maintenance outcomes.
type JobMetrics interface {
	DraftsCleaned(ctx context.Context, n int)
	NoticesSent(ctx context.Context, n int)
}

type noopJobMetrics struct{}

func (noopJobMetrics) DraftsCleaned(context.Context, int) {}
func (noopJobMetrics) NoticesSent(context.Context, int)   {}

// AuditLogger records maintenance actions. Failures are logged, not returned.
type AuditLogger interface {
	Log(ctx context.Context, e *types.AuditEvent) error
}

// -----------------------------------------------------------------------------
// Draft Cleanup
// -----------------------------------------------------------------------------

// DraftSweeper is the store operation the cleanup service drives.
type DraftSweeper interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// DraftCleanupService removes expired drafts.
type DraftCleanupService struct {
	store   DraftSweeper
	metrics JobMetrics
	audit   AuditLogger
	logger  *slog.Logger
}

// NewDraftCleanupService creates a DraftCleanupService. metrics and audit
// may be nil.
func NewDraftCleanupService(store DraftSweeper, metrics JobMetrics, audit AuditLogger, logger *slog.Logger) *DraftCleanupService {
	if metrics == nil {
		metrics = noopJobMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DraftCleanupService{store: store, metrics: metrics, audit: audit, logger: logger}
}

// CleanupExpired runs one sweep and returns how many drafts were removed.
// A partial failure still reports and audits what was removed.
func (s *DraftCleanupService) CleanupExpired(ctx context.Context) (int, error) {
	removed, err := s.store.CleanupExpired(ctx)
	s.metrics.DraftsCleaned(ctx, removed)

	if removed > 0 && s.audit != nil {
		meta, _ := json.Marshal(map[string]int{"removed": removed})
		actor := types.SystemActor("janitor")
		if a, ok := types.GetActor(ctx); ok {
			actor = a
		}
		e := &types.AuditEvent{
			ActorID:      actor.ID,
			ActorType:    actor.Type,
			Action:       types.AuditActionDraftCleanup,
			ResourceType: types.AuditResourceDraft,
			ResourceID:   "*",
			Metadata:     meta,
		}
		if auditErr := s.audit.Log(ctx, e); auditErr != nil {
			s.logger.WarnContext(ctx, "failed to audit draft cleanup", "error", auditErr)
		}
	}

	if err != nil {
		return removed, fmt.Errorf("cleaning up expired drafts: %w", err)
	}
	s.logger.InfoContext(ctx, "draft cleanup complete", "removed", removed)
	return removed, nil
}

// -----------------------------------------------------------------------------
// Expiry Notices
// -----------------------------------------------------------------------------

// ExpiringLister is the store query the notice service drives.
type ExpiringLister interface {
	ExpiringSoon(ctx context.Context) ([]types.DraftSummary, error)
}

// NoticePublisher delivers one expiry notice.
type NoticePublisher interface {
	Publish(ctx context.Context, n types.DraftExpiryNotice) error
}

// SenderNameFunc returns the SMS sender name in effect.
type SenderNameFunc func() string

// noticeKeyPrefix namespaces the notice ledger next to the drafts it tracks.
const noticeKeyPrefix = "dfs-notice:"

// ExpiryNoticeService publishes one notice per draft entering its warning
// window. A ledger in the same KV store remembers which draft version
// (identified by savedAt) was already notified, so repeated runs inside the
// window do not send duplicates and a re-saved draft is notified again.
type ExpiryNoticeService struct {
	drafts    ExpiringLister
	publisher NoticePublisher
	ledger    storage.KV
	sender    SenderNameFunc
	metrics   JobMetrics
	logger    *slog.Logger
}

// ExpiryNoticeConfig holds the configuration for creating an ExpiryNoticeService.
type ExpiryNoticeConfig struct {
	Drafts    ExpiringLister
	Publisher NoticePublisher
	Ledger    storage.KV
	Sender    SenderNameFunc
	Metrics   JobMetrics
	Logger    *slog.Logger
}

// NewExpiryNoticeService creates an ExpiryNoticeService.
func NewExpiryNoticeService(cfg ExpiryNoticeConfig) *ExpiryNoticeService {
	s := &ExpiryNoticeService{
		drafts:    cfg.Drafts,
		publisher: cfg.Publisher,
		ledger:    cfg.Ledger,
		sender:    cfg.Sender,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
	if s.sender == nil {
		s.sender = func() string { return "" }
	}
	if s.metrics == nil {
		s.metrics = noopJobMetrics{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func noticeKey(station, date string) string {
	return noticeKeyPrefix + strings.TrimPrefix(drafts.Key(station, date), drafts.KeyPrefix)
}

// NotifyExpiring publishes notices for drafts that are expiring soon and
// have not been notified in their current version. It returns how many
// notices were sent. Ledger entries for drafts no longer in the window are
// pruned.
func (s *ExpiryNoticeService) NotifyExpiring(ctx context.Context) (int, error) {
	expiring, err := s.drafts.ExpiringSoon(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing expiring drafts: %w", err)
	}

	live := make(map[string]struct{}, len(expiring))
	sent := 0
	var firstErr error
	for _, d := range expiring {
		key := noticeKey(d.Station, d.Date)
		live[key] = struct{}{}
		version := d.SavedAt.UTC().Format(time.RFC3339Nano)

		prev, found, err := s.ledger.Get(ctx, key)
		if err != nil {
			s.logger.WarnContext(ctx, "notice ledger read failed", "key", key, "error", err)
		} else if found && prev == version {
			continue
		}

		notice := types.DraftExpiryNotice{
			Station:        d.Station,
			Date:           d.Date,
			ExpiresAt:      d.ExpiresAt,
			RemainingHours: d.TimeRemainingHours,
			SenderName:     s.sender(),
		}
		if err := s.publisher.Publish(ctx, notice); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish expiry notice",
				"station", d.Station, "date", d.Date, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent++
		if err := s.ledger.Set(ctx, key, version); err != nil {
			s.logger.WarnContext(ctx, "notice ledger write failed", "key", key, "error", err)
		}
	}

	s.prune(ctx, live)
	s.metrics.NoticesSent(ctx, sent)

	if firstErr != nil {
		return sent, fmt.Errorf("publishing expiry notices: %w", firstErr)
	}
	s.logger.InfoContext(ctx, "expiry notices published", "sent", sent, "expiring", len(expiring))
	return sent, nil
}

func (s *ExpiryNoticeService) prune(ctx context.Context, live map[string]struct{}) {
	keys, err := s.ledger.Keys(ctx, noticeKeyPrefix)
	if err != nil {
		s.logger.WarnContext(ctx, "notice ledger scan failed", "error", err)
		return
	}
	for _, k := range keys {
		if _, ok := live[k]; ok {
			continue
		}
		if _, err := s.ledger.Delete(ctx, k); err != nil {
			s.logger.WarnContext(ctx, "notice ledger prune failed", "key", k, "error", err)
		}
	}
}

// -----------------------------------------------------------------------------
// Permission Migration
// -----------------------------------------------------------------------------

// PermissionMigrator rewrites stored permission documents to the current
// layout.
type PermissionMigrator interface {
	MigratePermissions(ctx context.Context) (int, error)
}
