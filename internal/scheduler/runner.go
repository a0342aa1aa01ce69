package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dfsportal/internal/db"
	"dfsportal/internal/types"
)

// DefaultLockWindow matches the default janitor interval so each scheduled
// tick is processed once across instances.
const DefaultLockWindow = 15 * time.Minute

// JobLocker abstracts the distributed lock acquisition.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID string, workerID string) error
}

// JobHistorian abstracts the job history recording.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// Runner routes a MaintenancePayload to its service. When a JobLocker is
// configured the run is guarded by a lock per task and window; when a
// JobHistorian is configured the run is recorded. Both are optional so the
// janitor also works against a single local SQLite store.
type Runner struct {
	Cleanup     *DraftCleanupService
	Notices     *ExpiryNoticeService
	Permissions PermissionMigrator

	JobLock    JobLocker
	JobHistory JobHistorian
	WorkerID   string
	LockWindow time.Duration
	Logger     *slog.Logger
}

// ErrUnknownTask is returned for a task the runner cannot route.
var ErrUnknownTask = errors.New("unknown maintenance task")

// Handle executes payload and returns a human-readable result line. A run
// skipped because another worker holds the lock is not an error.
func (r *Runner) Handle(ctx context.Context, payload MaintenancePayload) (string, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in maintenance payload")
	}

	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}
	window := r.LockWindow
	if window <= 0 {
		window = DefaultLockWindow
	}
	task := string(payload.Task)
	ctx = types.WithActor(ctx, types.SystemActor("janitor"))

	var lockID string
	if r.JobLock != nil {
		lockID = fmt.Sprintf("%s:%s", task, now.Truncate(window).Format(time.RFC3339))
		acquired, err := r.JobLock.Acquire(ctx, lockID, r.WorkerID, window)
		if err != nil {
			return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
		}
		if !acquired {
			logger.InfoContext(ctx, "job lock held by another worker", "lock_id", lockID)
			return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
		}
	}

	var jobID int64
	if r.JobHistory != nil {
		id, err := r.JobHistory.Start(ctx, task)
		if err != nil {
			// History is best effort; the task still runs.
			logger.ErrorContext(ctx, "failed to start job history", "task", task, "error", err)
		} else {
			jobID = id
		}
	}

	items, execErr := r.dispatch(ctx, payload.Task)

	if jobID != 0 {
		status := db.JobStatusSuccess
		if execErr != nil {
			status = db.JobStatusFailed
		}
		if err := r.JobHistory.Finish(ctx, jobID, status, items, execErr); err != nil {
			logger.ErrorContext(ctx, "failed to finish job history", "job_id", jobID, "error", err)
		}
	}

	if execErr != nil {
		// Let a retry inside the same window run again.
		if lockID != "" {
			if err := r.JobLock.Release(ctx, lockID, r.WorkerID); err != nil {
				logger.WarnContext(ctx, "failed to release job lock", "lock_id", lockID, "error", err)
			}
		}
		logger.ErrorContext(ctx, "maintenance task failed", "task", task, "items", items, "error", execErr)
		return "", fmt.Errorf("task %s failed: %w", task, execErr)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", task, items)
	logger.InfoContext(ctx, "maintenance task complete", "task", task, "items", items)
	return result, nil
}

func (r *Runner) dispatch(ctx context.Context, task TaskType) (int, error) {
	switch task {
	case TaskCleanupExpiredDrafts:
		if r.Cleanup == nil {
			return 0, fmt.Errorf("%s: cleanup service not configured", task)
		}
		return r.Cleanup.CleanupExpired(ctx)
	case TaskNotifyExpiringDrafts:
		if r.Notices == nil {
			return 0, fmt.Errorf("%s: notice service not configured", task)
		}
		return r.Notices.NotifyExpiring(ctx)
	case TaskMigratePermissions:
		if r.Permissions == nil {
			return 0, fmt.Errorf("%s: permission migrator not configured", task)
		}
		return r.Permissions.MigratePermissions(ctx)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownTask, task)
	}
}
