package config

import "context"

// SecretProvider resolves secret references named by _SECRET_REF variables.
type SecretProvider interface {
	// GetParametersBatch resolves every reference it can and returns a map of
	// reference -> plaintext value. Unknown references are omitted.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
