package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dfsportal/internal/types"
)

func TestSettingsRepository_All(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSettingsRepository(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows([][]any{
			{"draft_warning_threshold", "90m"},
			{"stats_poll_interval", "30s"},
		}), nil)

	got, err := repo.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"draft_warning_threshold": "90m",
		"stats_poll_interval":     "30s",
	}, got)
}

func TestSettingsRepository_All_Empty(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSettingsRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows(nil), nil)

	got, err := repo.All(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSettingsRepository_All_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSettingsRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("timeout"))

	_, err := repo.All(context.Background())
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestSettingsRepository_Get_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSettingsRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"missing"}).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.Get(context.Background(), "missing")
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundSetting, appErr.Code)
	assert.Equal(t, "missing", appErr.Details["key"])
}

func TestSettingsRepository_Get(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSettingsRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"k"}).
		Return(rowOf("v"))

	v, err := repo.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestSettingsRepository_Set(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSettingsRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{"k", "v"}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, repo.Set(context.Background(), "k", "v"))
	db.AssertExpectations(t)
}
