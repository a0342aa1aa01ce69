package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"dfsportal/internal/drafts"
	"dfsportal/internal/expiry"
	"dfsportal/internal/scheduler"
	"dfsportal/internal/storage"
	"dfsportal/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func newRunner(t *testing.T) (*scheduler.Runner, *drafts.Store, *fixedClock) {
	t.Helper()
	clock := &fixedClock{now: time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC)}
	store := drafts.NewStore(storage.NewMemoryKV(0), clock, expiry.DefaultPolicy(), discardLogger())
	return &scheduler.Runner{
		Cleanup: scheduler.NewDraftCleanupService(store, nil, nil, discardLogger()),
		Logger:  discardLogger(),
	}, store, clock
}

func TestParseTasks(t *testing.T) {
	defaults := []scheduler.TaskType{scheduler.TaskCleanupExpiredDrafts}

	got, err := parseTasks("", defaults)
	if err != nil || len(got) != 1 || got[0] != scheduler.TaskCleanupExpiredDrafts {
		t.Fatalf("empty list: got %v, %v", got, err)
	}

	got, err = parseTasks(" notify_expiring_drafts, migrate_permissions ,", defaults)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []scheduler.TaskType{scheduler.TaskNotifyExpiringDrafts, scheduler.TaskMigratePermissions}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %v, want %v", got, want)
	}

	if _, err := parseTasks("vacuum", defaults); !errors.Is(err, scheduler.ErrUnknownTask) {
		t.Errorf("expected ErrUnknownTask, got %v", err)
	}
}

func TestRunTasks_ContinuesAfterFailure(t *testing.T) {
	runner, store, clock := newRunner(t)
	ctx := context.Background()
	if err := store.Save(ctx, "GN-01", "2026-10-17", nil); err != nil {
		t.Fatal(err)
	}
	clock.now = clock.now.Add(13 * time.Hour)

	err := runTasks(ctx, runner, []scheduler.TaskType{
		scheduler.TaskNotifyExpiringDrafts, // no notice service configured
		scheduler.TaskCleanupExpiredDrafts,
	}, discardLogger())
	if err == nil {
		t.Fatal("expected the unconfigured task to fail")
	}

	usage, uerr := store.TotalUsage(ctx)
	if uerr != nil {
		t.Fatal(uerr)
	}
	if usage.Count != 0 {
		t.Errorf("cleanup should still have run, %d drafts left", usage.Count)
	}
}

func TestLambdaHandler(t *testing.T) {
	runner, _, _ := newRunner(t)
	h := lambdaHandler(runner, nil, discardLogger())

	out, err := h(context.Background(), scheduler.MaintenancePayload{Task: scheduler.TaskCleanupExpiredDrafts})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "task cleanup_expired_drafts complete: 0 items processed" {
		t.Errorf("unexpected result %q", out)
	}

	if _, err := h(context.Background(), scheduler.MaintenancePayload{}); err == nil {
		t.Error("expected an error for an empty task")
	}
}

func TestLoop_StopsOnCancel(t *testing.T) {
	runner, _, _ := newRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop(ctx, runner, []scheduler.TaskType{scheduler.TaskCleanupExpiredDrafts}, time.Hour, nil, discardLogger())
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
}

func TestIsLambdaEnvironment(t *testing.T) {
	t.Setenv("AWS_LAMBDA_RUNTIME_API", "127.0.0.1:9001")
	if !isLambdaEnvironment() {
		t.Error("expected Lambda mode when AWS_LAMBDA_RUNTIME_API is set")
	}
}

var _ types.Clock = (*fixedClock)(nil)
