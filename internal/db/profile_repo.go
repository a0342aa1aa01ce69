package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dfsportal/internal/permissions"
	"dfsportal/internal/types"
)

// ProfileRepository provides data access for the user_profiles table.
// Permission documents are stored as JSONB in whatever layout they were
// written with and are migrated to the current layout as they are read.
type ProfileRepository struct {
	db DBTX
}

// NewProfileRepository creates a new ProfileRepository backed by the given
// database connection (pool or transaction).
func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

const profileColumns = `id, display_name, token_prefix, token_hash, permissions, created_at, last_used_at, revoked_at`

func scanProfile(row pgx.Row) (*types.Profile, error) {
	var (
		p   types.Profile
		raw []byte
	)
	if err := row.Scan(
		&p.ID,
		&p.DisplayName,
		&p.TokenPrefix,
		&p.TokenHash,
		&raw,
		&p.CreatedAt,
		&p.LastUsedAt,
		&p.RevokedAt,
	); err != nil {
		return nil, err
	}

	perms, err := permissions.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", p.ID, err)
	}
	p.Permissions = perms
	return &p, nil
}

// GetByTokenPrefix returns the profile owning the token with the given
// lookup prefix. Revoked profiles are returned too; the caller decides what
// revocation means. Returns not_found_profile when no row matches.
func (r *ProfileRepository) GetByTokenPrefix(ctx context.Context, prefix string) (*types.Profile, error) {
	p, err := scanProfile(r.db.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE token_prefix = $1`,
		prefix,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundProfile, "profile not found", nil)
		}
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load profile", err)
	}
	return p, nil
}

// Create inserts a new profile. Permissions are always written in the
// current layout.
func (r *ProfileRepository) Create(ctx context.Context, p *types.Profile) error {
	doc, err := permissions.Encode(p.Permissions)
	if err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO user_profiles (id, display_name, token_prefix, token_hash, permissions, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID,
		p.DisplayName,
		p.TokenPrefix,
		p.TokenHash,
		doc,
		p.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create profile", err)
	}
	return nil
}

// TouchLastUsed records that the profile's token was just used.
func (r *ProfileRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE user_profiles SET last_used_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update profile last use", err)
	}
	return nil
}

// MigratePermissions rewrites every stored permission document that is not
// yet in the current layout and returns how many rows were rewritten.
// Documents that fail to parse are left untouched and reported in the
// returned error.
func (r *ProfileRepository) MigratePermissions(ctx context.Context) (int, error) {
	rows, err := r.db.Query(ctx, `SELECT id, permissions FROM user_profiles`)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to list profiles", err)
	}

	type pending struct {
		id  string
		doc []byte
	}
	var (
		todo []pending
		errs []error
	)
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to scan profile", err)
		}
		if storedVersion(raw) == permissions.CurrentVersion {
			continue
		}
		perms, err := permissions.Parse(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("profile %s: %w", id, err))
			continue
		}
		doc, err := permissions.Encode(perms)
		if err != nil {
			errs = append(errs, fmt.Errorf("profile %s: %w", id, err))
			continue
		}
		todo = append(todo, pending{id: id, doc: doc})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate profiles", err)
	}

	migrated := 0
	for _, p := range todo {
		if _, err := r.db.Exec(ctx,
			`UPDATE user_profiles SET permissions = $2 WHERE id = $1`,
			p.id, p.doc,
		); err != nil {
			errs = append(errs, fmt.Errorf("profile %s: %w", p.id, err))
			continue
		}
		migrated++
	}
	return migrated, errors.Join(errs...)
}

// storedVersion peeks at the version field without a full parse. Anything
// unreadable reports -1 so that Parse gets to produce the real error.
func storedVersion(raw []byte) int {
	var env struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || env.Version == nil {
		return -1
	}
	return *env.Version
}
