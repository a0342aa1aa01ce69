// Package storage provides the origin-scoped key/value capability drafts are
// persisted in. Every backend behaves like browser local storage: string
// keys, string values, a per-origin namespace and an optional byte quota.
package storage

import (
	"context"
	"errors"
)

// ErrQuotaExceeded is returned by Set when the write would push the origin
// past its configured capacity. The previous value, if any, is left intact.
var ErrQuotaExceeded = errors.New("storage: quota exceeded")

// ErrEmptyKey is returned when an operation is given an empty key.
var ErrEmptyKey = errors.New("storage: empty key")

// KV is the key/value capability. Implementations are safe for concurrent use
// and never observe keys belonging to another origin.
type KV interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) (existed bool, err error)
}

// Pinger is implemented by backends that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// entrySize is the number of bytes an entry is charged against the quota.
func entrySize(key, value string) int64 {
	return int64(len(key) + len(value))
}
