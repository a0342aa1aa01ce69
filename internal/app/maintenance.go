package app

import (
	"context"

	"dfsportal/internal/db"
	"dfsportal/internal/scheduler"
)

// Runner wires the maintenance runner. Expiry notices are only enabled when
// a notice queue is configured; locking, job history and permission
// migration need the database.
func (d *Deps) Runner(ctx context.Context, rec Recorder, workerID string) (*scheduler.Runner, error) {
	r := &scheduler.Runner{
		Cleanup:    scheduler.NewDraftCleanupService(d.Store, rec, d.Audit(), d.Logger),
		WorkerID:   workerID,
		LockWindow: d.Config.Janitor.Interval,
		Logger:     d.Logger,
	}

	publisher, err := d.NoticePublisher(ctx)
	if err != nil {
		return nil, err
	}
	if publisher != nil {
		r.Notices = scheduler.NewExpiryNoticeService(scheduler.ExpiryNoticeConfig{
			Drafts:    d.Store,
			Publisher: publisher,
			Ledger:    d.KV,
			Sender:    d.senderName,
			Metrics:   rec,
			Logger:    d.Logger,
		})
	}

	if d.Pool != nil {
		r.JobLock = db.NewJobLockRepository(d.Pool)
		r.JobHistory = db.NewJobHistoryRepository(d.Pool)
		r.Permissions = db.NewProfileRepository(d.Pool)
	}
	return r, nil
}

// ScheduledTasks lists the tasks r can run on every janitor tick.
func ScheduledTasks(r *scheduler.Runner) []scheduler.TaskType {
	tasks := make([]scheduler.TaskType, 0, len(scheduler.AllTasks))
	for _, t := range scheduler.AllTasks {
		if t == scheduler.TaskNotifyExpiringDrafts && r.Notices == nil {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks
}

func (d *Deps) senderName() string {
	cur, err := d.Settings.Current()
	if err != nil {
		return ""
	}
	return cur.SMSSenderName
}
