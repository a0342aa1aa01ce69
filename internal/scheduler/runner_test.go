package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dfsportal/internal/db"
	"dfsportal/internal/types"
)

type fakeLocker struct {
	held       map[string]string
	acquired   []string
	released   []string
	acquireErr error
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]string)}
}

func (l *fakeLocker) Acquire(_ context.Context, lockID, workerID string, _ time.Duration) (bool, error) {
	if l.acquireErr != nil {
		return false, l.acquireErr
	}
	if _, ok := l.held[lockID]; ok {
		return false, nil
	}
	l.held[lockID] = workerID
	l.acquired = append(l.acquired, lockID)
	return true, nil
}

func (l *fakeLocker) Release(_ context.Context, lockID, workerID string) error {
	if l.held[lockID] == workerID {
		delete(l.held, lockID)
	}
	l.released = append(l.released, lockID)
	return nil
}

type historyEntry struct {
	jobType string
	status  string
	items   int
	err     error
}

type fakeHistorian struct {
	entries []*historyEntry
}

func (h *fakeHistorian) Start(_ context.Context, jobType string) (int64, error) {
	h.entries = append(h.entries, &historyEntry{jobType: jobType, status: db.JobStatusRunning})
	return int64(len(h.entries)), nil
}

func (h *fakeHistorian) Finish(_ context.Context, id int64, status string, items int, err error) error {
	e := h.entries[id-1]
	e.status, e.items, e.err = status, items, err
	return nil
}

type sweeperFunc func(ctx context.Context) (int, error)

func (f sweeperFunc) CleanupExpired(ctx context.Context) (int, error) { return f(ctx) }

type migratorFunc func(ctx context.Context) (int, error)

func (f migratorFunc) MigratePermissions(ctx context.Context) (int, error) { return f(ctx) }

func refTime() *time.Time {
	t := time.Date(2026, 10, 18, 6, 7, 0, 0, time.UTC)
	return &t
}

func TestRunner_CleanupRecordsHistoryAndRunsAsJanitor(t *testing.T) {
	var seen types.Actor
	sweeper := sweeperFunc(func(ctx context.Context) (int, error) {
		seen, _ = types.GetActor(ctx)
		return 3, nil
	})
	locker := newFakeLocker()
	history := &fakeHistorian{}
	r := &Runner{
		Cleanup:    NewDraftCleanupService(sweeper, nil, nil, nil),
		JobLock:    locker,
		JobHistory: history,
		WorkerID:   "worker-1",
	}

	out, err := r.Handle(context.Background(), MaintenancePayload{Task: TaskCleanupExpiredDrafts, ReferenceTime: refTime()})
	require.NoError(t, err)
	assert.Contains(t, out, "3 items")

	assert.Equal(t, "system:janitor", seen.ID)
	assert.Equal(t, []string{"cleanup_expired_drafts:2026-10-18T06:00:00Z"}, locker.acquired)
	assert.Empty(t, locker.released)

	require.Len(t, history.entries, 1)
	assert.Equal(t, db.JobStatusSuccess, history.entries[0].status)
	assert.Equal(t, 3, history.entries[0].items)
}

func TestRunner_SkipsWhenLockHeld(t *testing.T) {
	calls := 0
	sweeper := sweeperFunc(func(context.Context) (int, error) {
		calls++
		return 0, nil
	})
	locker := newFakeLocker()
	r := &Runner{Cleanup: NewDraftCleanupService(sweeper, nil, nil, nil), JobLock: locker, WorkerID: "a"}

	payload := MaintenancePayload{Task: TaskCleanupExpiredDrafts, ReferenceTime: refTime()}
	_, err := r.Handle(context.Background(), payload)
	require.NoError(t, err)

	r.WorkerID = "b"
	out, err := r.Handle(context.Background(), payload)
	require.NoError(t, err)
	assert.Contains(t, out, "skipped")
	assert.Equal(t, 1, calls)
}

func TestRunner_ReleasesLockOnFailure(t *testing.T) {
	sweeper := sweeperFunc(func(context.Context) (int, error) {
		return 0, errors.New("storage offline")
	})
	locker := newFakeLocker()
	history := &fakeHistorian{}
	r := &Runner{Cleanup: NewDraftCleanupService(sweeper, nil, nil, nil), JobLock: locker, JobHistory: history, WorkerID: "a"}

	_, err := r.Handle(context.Background(), MaintenancePayload{Task: TaskCleanupExpiredDrafts, ReferenceTime: refTime()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage offline")

	assert.Len(t, locker.released, 1)
	assert.Empty(t, locker.held)
	require.Len(t, history.entries, 1)
	assert.Equal(t, db.JobStatusFailed, history.entries[0].status)
}

func TestRunner_LockErrorAborts(t *testing.T) {
	calls := 0
	sweeper := sweeperFunc(func(context.Context) (int, error) {
		calls++
		return 0, nil
	})
	locker := newFakeLocker()
	locker.acquireErr = errors.New("connection refused")
	r := &Runner{Cleanup: NewDraftCleanupService(sweeper, nil, nil, nil), JobLock: locker}

	_, err := r.Handle(context.Background(), MaintenancePayload{Task: TaskCleanupExpiredDrafts})
	require.Error(t, err)
	assert.Zero(t, calls)
}

func TestRunner_WithoutLockOrHistory(t *testing.T) {
	r := &Runner{
		Permissions: migratorFunc(func(context.Context) (int, error) { return 4, nil }),
	}
	out, err := r.Handle(context.Background(), MaintenancePayload{Task: TaskMigratePermissions})
	require.NoError(t, err)
	assert.Contains(t, out, "4 items")
}

func TestRunner_UnknownAndUnconfiguredTasks(t *testing.T) {
	r := &Runner{}

	_, err := r.Handle(context.Background(), MaintenancePayload{Task: "rebuild_everything"})
	require.ErrorIs(t, err, ErrUnknownTask)

	_, err = r.Handle(context.Background(), MaintenancePayload{Task: TaskNotifyExpiringDrafts})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")

	_, err = r.Handle(context.Background(), MaintenancePayload{})
	require.Error(t, err)
}
