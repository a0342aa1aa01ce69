// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone so expiry arithmetic never depends on the host zone.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Scan environment for _SECRET_REF suffix variables.
//  4. If APP_ENV != "local", resolve the references via the SecretProvider
//     and inject the resolved values back into the environment.
//  5. Use envconfig to process struct tags and populate the Config struct.
//  6. Populate BuildInfo from linker-injected variables.
//  7. Validate the struct using go-playground/validator, then the
//     cross-group requirements.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
// It wraps a ConfigErrorType and an underlying error message.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// secretRefSuffix identifies pointer variables. DATABASE_URL_SECRET_REF names
// the secret that DATABASE_URL should be resolved from.
const secretRefSuffix = "_SECRET_REF"

// localEnv is the APP_ENV value that bypasses secret resolution.
const localEnv = "local"

type envLookup func(key string) (string, bool)

type envSet func(key, value string) error

type environ func() []string

// loaderDeps holds the injectable dependencies for the loader, enabling
// testing without mutating global state.
type loaderDeps struct {
	lookupEnv envLookup
	setEnv    envSet
	environ   environ
	dotenv    func() error
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
		dotenv:    func() error { return godotenv.Load() },
	}
}

// LoadConfig loads and validates the portal configuration.
//
// The provider resolves _SECRET_REF variables. For local development the
// provider may be nil; elsewhere it is required as soon as any reference is
// present.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// godotenv does not override variables that are already set.
	if deps.dotenv != nil {
		_ = deps.dotenv()
	}

	appEnv, _ := deps.lookupEnv("APP_ENV")
	if appEnv != localEnv {
		if err := resolveSecretRefs(provider, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	if err := cfg.checkDependencies(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// checkDependencies enforces requirements that span config groups.
func (c *Config) checkDependencies() error {
	var missing []string
	if c.Storage.Backend == "postgres" && !c.Database.Enabled() {
		missing = append(missing, "DATABASE_URL (STORAGE_BACKEND=postgres)")
	}
	if c.Stats.Source == "database" && !c.Database.Enabled() {
		missing = append(missing, "DATABASE_URL (STATS_SOURCE=database)")
	}
	if c.Stats.Source == "backend" && c.Backend.URL == "" {
		missing = append(missing, "BACKEND_URL (STATS_SOURCE=backend)")
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrMissingEnv,
			Message: "missing required configuration: " + strings.Join(missing, ", "),
		}
	}
	return nil
}

// ResolveSecrets performs the secret resolution step in isolation, for entry
// points that read a handful of variables directly. It is a no-op when
// APP_ENV is "local" or no references are present.
func ResolveSecrets(provider SecretProvider) error {
	appEnv, _ := os.LookupEnv("APP_ENV")
	if appEnv == localEnv {
		return nil
	}
	return resolveSecretRefs(provider, defaultDeps())
}

// resolveSecretRefs scans the environment for variables ending in
// _SECRET_REF, fetches the referenced values via the SecretProvider and
// injects them under the target name. A target already present in the
// environment wins over its reference.
func resolveSecretRefs(provider SecretProvider, deps loaderDeps) error {
	refToTarget := make(map[string]string)
	var refs []string
	var targets []string

	for _, envEntry := range deps.environ() {
		key, ref, ok := strings.Cut(envEntry, "=")
		if !ok || !strings.HasSuffix(key, secretRefSuffix) {
			continue
		}
		target := strings.TrimSuffix(key, secretRefSuffix)
		if _, exists := deps.lookupEnv(target); exists {
			continue
		}
		if ref == "" {
			continue
		}
		refToTarget[ref] = target
		refs = append(refs, ref)
		targets = append(targets, target)
	}

	if len(refs) == 0 {
		return nil
	}

	if provider == nil {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("SecretProvider is required for non-local environments (need to resolve: %s)", strings.Join(targets, ", ")),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, refs)
	if err != nil {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("failed to resolve %d secret references", len(refs)),
			Err:     err,
		}
	}

	for ref, value := range resolved {
		target, ok := refToTarget[ref]
		if !ok {
			continue
		}
		if err := deps.setEnv(target, value); err != nil {
			return &ConfigError{
				Type:    ErrSecretResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", target),
				Err:     err,
			}
		}
	}

	var missing []string
	for _, ref := range refs {
		if _, ok := resolved[ref]; !ok {
			missing = append(missing, refToTarget[ref])
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("secret references not found for: %s", strings.Join(missing, ", ")),
		}
	}

	return nil
}
