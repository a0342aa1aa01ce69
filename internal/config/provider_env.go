package config

import (
	"context"
	"os"
)

// EnvVarProvider implements SecretProvider by treating each reference as the
// name of another environment variable. Deployments inject secrets under
// platform-managed names and point the service at them, e.g.
// DATABASE_URL_SECRET_REF=DFS_PROD_DATABASE_URL.
type EnvVarProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvVarProvider creates a new EnvVarProvider.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{lookup: os.LookupEnv}
}

// GetParametersBatch resolves each key with os.LookupEnv. Missing keys are
// omitted from the result.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := p.lookup(key); ok {
			result[key] = val
		}
	}
	return result, nil
}
