package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"dfsportal/internal/types"
)

// SettingsRepository provides data access for the app_settings key/value
// table that backs the runtime settings service.
type SettingsRepository struct {
	db DBTX
}

// NewSettingsRepository creates a new SettingsRepository backed by the given
// database connection (pool or transaction).
func NewSettingsRepository(db DBTX) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// All returns every stored setting. Returns an empty map (not nil) when the
// table is empty.
func (r *SettingsRepository) All(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.Query(ctx, `SELECT key, value FROM app_settings`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load settings", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan setting", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate settings", err)
	}
	return out, nil
}

// Get returns a single setting or not_found_setting.
func (r *SettingsRepository) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := r.db.QueryRow(ctx, `SELECT value FROM app_settings WHERE key = $1`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.NewAppErrorWithDetails(types.ErrCodeNotFoundSetting, "setting not found", nil,
				map[string]any{"key": key})
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to load setting", err)
	}
	return v, nil
}

// Set upserts a setting.
func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO app_settings (key, value, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save setting", err)
	}
	return nil
}
