package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dfsportal/internal/types"
)

func TestProfileRepository_GetByTokenPrefix_MigratesLegacyPermissions(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	created := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"dfs_ab12cd34"}).
		Return(rowOf(
			"usr_1", "Station Manager", "dfs_ab12cd34", "$2a$10$hash",
			[]byte(`{"drafts":true,"stats":"view","stations":["S2","S1"]}`),
			created, nil, nil,
		))

	p, err := repo.GetByTokenPrefix(ctx, "dfs_ab12cd34")
	require.NoError(t, err)

	assert.Equal(t, "usr_1", p.ID)
	assert.Equal(t, created, p.CreatedAt)
	assert.Nil(t, p.RevokedAt)
	assert.Equal(t, types.PermissionsVersion, p.Permissions.Version)
	assert.Equal(t, types.AccessWrite, p.Permissions.Level(types.ModuleDrafts))
	assert.Equal(t, types.AccessRead, p.Permissions.Level(types.ModuleStats))
	assert.Equal(t, []string{"S1", "S2"}, p.Permissions.Stations)
	db.AssertExpectations(t)
}

func TestProfileRepository_GetByTokenPrefix_Revoked(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	revoked := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(rowOf("usr_2", "Former", "dfs_zz", "h", []byte(`null`), revoked, nil, revoked))

	p, err := repo.GetByTokenPrefix(ctx, "dfs_zz")
	require.NoError(t, err)
	require.NotNil(t, p.RevokedAt)
	assert.Equal(t, revoked, *p.RevokedAt)
	assert.Empty(t, p.Permissions.Modules)
}

func TestProfileRepository_GetByTokenPrefix_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByTokenPrefix(ctx, "dfs_missing")
	assert.Equal(t, types.ErrCodeNotFoundProfile, types.CodeOf(err))
}

func TestProfileRepository_GetByTokenPrefix_BadPermissions(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(rowOf("usr_3", "Broken", "dfs_b", "h", []byte(`{"version":9}`), time.Now(), nil, nil))

	_, err := repo.GetByTokenPrefix(ctx, "dfs_b")
	assert.Equal(t, types.ErrCodeValidationPermissions, types.CodeOf(err))
}

func TestProfileRepository_GetByTokenPrefix_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection refused")})

	_, err := repo.GetByTokenPrefix(ctx, "dfs_x")
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestProfileRepository_Create_WritesCurrentLayout(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		doc, ok := args[4].([]byte)
		if !ok {
			return false
		}
		var decoded map[string]any
		if err := json.Unmarshal(doc, &decoded); err != nil {
			return false
		}
		return decoded["version"] == float64(types.PermissionsVersion)
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	p := &types.Profile{
		ID:          "usr_9",
		DisplayName: "New Clerk",
		TokenPrefix: "dfs_new",
		TokenHash:   "h",
		Permissions: types.Permissions{Modules: map[types.Module]types.Access{types.ModuleDrafts: types.AccessWrite}},
	}
	require.NoError(t, repo.Create(ctx, p))
	assert.False(t, p.CreatedAt.IsZero())
	db.AssertExpectations(t)
}

func TestProfileRepository_MigratePermissions(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	rows := newMockRows([][]any{
		{"usr_current", []byte(`{"version":2,"modules":{"drafts":"read"}}`)},
		{"usr_v0", []byte(`{"drafts":true}`)},
		{"usr_v1", []byte(`{"version":1,"modules":{"sms":["view","edit"]}}`)},
		{"usr_broken", []byte(`[1,2]`)},
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	var updated []string
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			params := args.Get(2).([]any)
			updated = append(updated, params[0].(string))
		}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	n, err := repo.MigratePermissions(ctx)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"usr_v0", "usr_v1"}, updated)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usr_broken")
	assert.True(t, rows.closed)
}
