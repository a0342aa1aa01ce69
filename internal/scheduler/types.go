// Package scheduler runs the portal's background work: the dashboard stats
// poller and the maintenance tasks executed by the janitor.
package scheduler

import "time"

// TaskType identifies a maintenance task.
type TaskType string

const (
	TaskCleanupExpiredDrafts TaskType = "cleanup_expired_drafts"
	TaskNotifyExpiringDrafts TaskType = "notify_expiring_drafts"
	TaskMigratePermissions   TaskType = "migrate_permissions"
)

// AllTasks lists the tasks the janitor runs on each tick, in order.
var AllTasks = []TaskType{TaskCleanupExpiredDrafts, TaskNotifyExpiringDrafts}

// MaintenancePayload is the event that triggers a maintenance run, either
// from an EventBridge schedule or from the janitor's own loop.
//
//	{"task": "cleanup_expired_drafts", "reference_time": "2026-10-18T03:00:00Z"}
type MaintenancePayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now" for the lock window. Expiry decisions
	// always use the store's clock.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
