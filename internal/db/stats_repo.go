package db

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"dfsportal/internal/types"
)

// LicenseWarningWindow is how far ahead a license expiry counts toward the
// dashboard's expiring-licenses figure.
const LicenseWarningWindow = 30 * 24 * time.Hour

// StatsRepository computes the dashboard counters directly from the portal
// tables. Each counter is an independent COUNT query; they run concurrently.
type StatsRepository struct {
	db    DBTX
	clock types.Clock
	loc   *time.Location
}

// NewStatsRepository creates a StatsRepository. "Today" is evaluated in loc;
// a nil loc means UTC.
func NewStatsRepository(db DBTX, clock types.Clock, loc *time.Location) *StatsRepository {
	if clock == nil {
		clock = types.SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &StatsRepository{db: db, clock: clock, loc: loc}
}

// FetchStats returns a fresh snapshot. RequestID is left zero; the poller
// stamps it. Any failing counter fails the whole snapshot.
func (r *StatsRepository) FetchStats(ctx context.Context) (types.StatsSnapshot, error) {
	now := r.clock.Now()
	local := now.In(r.loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var snap types.StatsSnapshot
	queries := []struct {
		name string
		dest *int
		sql  string
		args []any
	}{
		{"employees", &snap.Employees,
			`SELECT COUNT(*) FROM employees WHERE active`, nil},
		{"sales_reports_today", &snap.SalesReportsToday,
			`SELECT COUNT(*) FROM sales_reports WHERE report_date = $1::date`,
			[]any{dayStart.Format(time.DateOnly)}},
		{"pending_deliveries", &snap.PendingDeliveries,
			`SELECT COUNT(*) FROM deliveries WHERE status = 'pending'`, nil},
		{"licenses_expiring", &snap.LicensesExpiring,
			`SELECT COUNT(*) FROM licenses WHERE expires_at >= $1 AND expires_at < $2`,
			[]any{now, now.Add(LicenseWarningWindow)}},
		{"sms_sent_today", &snap.SMSSentToday,
			`SELECT COUNT(*) FROM sms_messages WHERE sent_at >= $1 AND sent_at < $2`,
			[]any{dayStart, dayEnd}},
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, q := range queries {
		g.Go(func() error {
			var n int64
			if err := r.db.QueryRow(gCtx, q.sql, q.args...).Scan(&n); err != nil {
				return fmt.Errorf("%s: %w", q.name, err)
			}
			*q.dest = int(n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return types.StatsSnapshot{}, types.NewAppError(types.ErrCodeInternalDB, "failed to compute dashboard stats", err)
	}

	snap.FetchedAt = now
	return snap, nil
}
