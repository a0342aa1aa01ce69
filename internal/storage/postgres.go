package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dfsportal/internal/db"
)

// PostgresSchema creates the hosted key/value table. Deployments normally
// apply it through migrations; EnsureSchema runs it for local setups and tests.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS draft_kv (
  origin     TEXT        NOT NULL,
  key        TEXT        NOT NULL,
  value      TEXT        NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (origin, key)
);
`

// PostgresKV is the hosted backend. The quota check and the upsert run as a
// single statement so concurrent writers cannot jointly overshoot the quota
// by more than one entry.
type PostgresKV struct {
	db         db.DBTX
	origin     string
	quotaBytes int64
}

// NewPostgresKV creates a backend for one origin over any DBTX.
func NewPostgresKV(conn db.DBTX, origin string, quotaBytes int64) *PostgresKV {
	return &PostgresKV{db: conn, origin: origin, quotaBytes: quotaBytes}
}

// EnsureSchema creates the draft_kv table if it does not exist.
func (p *PostgresKV) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}
	return nil
}

const upsertWithQuotaSQL = `
INSERT INTO draft_kv (origin, key, value, updated_at)
SELECT $1, $2::text, $3::text, now()
WHERE $4::bigint <= 0
   OR (SELECT COALESCE(SUM(octet_length(key) + octet_length(value)), 0)
         FROM draft_kv
        WHERE origin = $1 AND key <> $2::text)
      + octet_length($2::text) + octet_length($3::text) <= $4::bigint
ON CONFLICT (origin, key) DO UPDATE
   SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

func (p *PostgresKV) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	tag, err := p.db.Exec(ctx, upsertWithQuotaSQL, p.origin, key, value, p.quotaBytes)
	if err != nil {
		return fmt.Errorf("postgres set: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrQuotaExceeded
	}
	return nil
}

func (p *PostgresKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.db.QueryRow(ctx,
		`SELECT value FROM draft_kv WHERE origin = $1 AND key = $2`, p.origin, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres get: %w", err)
	}
	return value, true, nil
}

func (p *PostgresKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.db.Query(ctx,
		`SELECT key FROM draft_kv
		  WHERE origin = $1 AND left(key, char_length($2::text)) = $2::text
		  ORDER BY key`,
		p.origin, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("postgres scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres keys: %w", err)
	}
	return keys, nil
}

func (p *PostgresKV) Delete(ctx context.Context, key string) (bool, error) {
	tag, err := p.db.Exec(ctx,
		`DELETE FROM draft_kv WHERE origin = $1 AND key = $2`, p.origin, key,
	)
	if err != nil {
		return false, fmt.Errorf("postgres delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *PostgresKV) Ping(ctx context.Context) error {
	var one int
	if err := p.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}
