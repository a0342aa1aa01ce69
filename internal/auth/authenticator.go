package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"dfsportal/internal/types"
)

// ProfileRepo is the data access the authenticator needs.
type ProfileRepo interface {
	GetByTokenPrefix(ctx context.Context, prefix string) (*types.Profile, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// SecretComparer abstracts bcrypt verification for testability.
type SecretComparer interface {
	Compare(hash, secret string) error
}

type bcryptComparer struct{}

func (bcryptComparer) Compare(hash, secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}

// TokenAuthenticator verifies bearer tokens against stored profiles.
type TokenAuthenticator struct {
	profiles ProfileRepo
	comparer SecretComparer
	clock    types.Clock
	logger   *slog.Logger
}

// TokenAuthenticatorConfig holds the dependencies for a TokenAuthenticator.
type TokenAuthenticatorConfig struct {
	Profiles ProfileRepo
	Comparer SecretComparer
	Clock    types.Clock
	Logger   *slog.Logger
}

// NewTokenAuthenticator creates a TokenAuthenticator. Comparer defaults to
// bcrypt, Clock to the system clock and Logger to slog.Default().
func NewTokenAuthenticator(cfg TokenAuthenticatorConfig) *TokenAuthenticator {
	a := &TokenAuthenticator{
		profiles: cfg.Profiles,
		comparer: cfg.Comparer,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}
	if a.comparer == nil {
		a.comparer = bcryptComparer{}
	}
	if a.clock == nil {
		a.clock = types.SystemClock{}
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

func invalidToken() error {
	return types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid or revoked access token", nil)
}

// ResolveToken returns the actor owning token. Malformed, unknown, revoked
// and mismatching tokens all produce the same auth_token_invalid error.
// A permission document that cannot be parsed is reported as such so the
// operator can repair the profile.
func (a *TokenAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	prefix, secret, ok := SplitToken(token)
	if !ok {
		return nil, invalidToken()
	}

	profile, err := a.profiles.GetByTokenPrefix(ctx, prefix)
	if err != nil {
		switch types.CodeOf(err) {
		case types.ErrCodeNotFoundProfile:
			return nil, invalidToken()
		case types.ErrCodeValidationPermissions:
			a.logger.ErrorContext(ctx, "profile has unreadable permissions", "token_prefix", prefix, "error", err)
			return nil, err
		default:
			return nil, err
		}
	}

	if profile.RevokedAt != nil {
		a.logger.InfoContext(ctx, "revoked token presented", "profile_id", profile.ID)
		return nil, invalidToken()
	}

	if err := a.comparer.Compare(profile.TokenHash, secret); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			a.logger.WarnContext(ctx, "token hash comparison failed", "profile_id", profile.ID, "error", err)
		}
		return nil, invalidToken()
	}

	if err := a.profiles.TouchLastUsed(ctx, profile.ID, a.clock.Now()); err != nil {
		// Last-used tracking must not lock users out.
		a.logger.WarnContext(ctx, "failed to record token use", "profile_id", profile.ID, "error", err)
	}

	actor := profile.Actor()
	return &actor, nil
}
