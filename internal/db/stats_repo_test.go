package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dfsportal/internal/types"
)

func sqlMentions(table string) any {
	return mock.MatchedBy(func(sql string) bool { return strings.Contains(sql, "FROM "+table+" ") })
}

func TestStatsRepository_FetchStats(t *testing.T) {
	db := new(mockDBTX)
	now := time.Date(2026, 10, 18, 14, 30, 0, 0, time.UTC)
	seoul := time.FixedZone("KST", 9*60*60)
	repo := NewStatsRepository(db, types.ClockFunc(func() time.Time { return now }), seoul)

	db.On("QueryRow", mock.Anything, sqlMentions("employees"), mock.Anything).Return(rowOf(int64(12)))
	db.On("QueryRow", mock.Anything, sqlMentions("sales_reports"), mock.MatchedBy(func(args []any) bool {
		// 14:30 UTC is already the 19th in Seoul.
		return len(args) == 1 && args[0] == "2026-10-19"
	})).Return(rowOf(int64(3)))
	db.On("QueryRow", mock.Anything, sqlMentions("deliveries"), mock.Anything).Return(rowOf(int64(2)))
	db.On("QueryRow", mock.Anything, sqlMentions("licenses"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 2 && args[0] == now && args[1] == now.Add(LicenseWarningWindow)
	})).Return(rowOf(int64(1)))
	db.On("QueryRow", mock.Anything, sqlMentions("sms_messages"), mock.MatchedBy(func(args []any) bool {
		start, ok := args[0].(time.Time)
		return ok && start.Equal(time.Date(2026, 10, 19, 0, 0, 0, 0, seoul))
	})).Return(rowOf(int64(40)))

	snap, err := repo.FetchStats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.StatsSnapshot{
		Employees:         12,
		SalesReportsToday: 3,
		PendingDeliveries: 2,
		LicensesExpiring:  1,
		SMSSentToday:      40,
		FetchedAt:         now,
	}, snap)
	db.AssertExpectations(t)
}

func TestStatsRepository_FetchStats_OneCounterFails(t *testing.T) {
	db := new(mockDBTX)
	repo := NewStatsRepository(db, nil, nil)

	db.On("QueryRow", mock.Anything, sqlMentions("deliveries"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("relation does not exist")})
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(rowOf(int64(1)))

	snap, err := repo.FetchStats(context.Background())
	require.Error(t, err)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	assert.Contains(t, appErr.Err.Error(), "pending_deliveries")
	assert.Zero(t, snap)
}
