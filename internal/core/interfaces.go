package core

import (
	"context"

	"dfsportal/internal/types"
)

// Authenticator decouples the HTTP layer from specific auth mechanisms
// (DB lookups), allowing for easy mocking in tests.
type Authenticator interface {
	// ResolveToken returns the Actor owning a bearer token.
	//
	// Return ErrAuthTokenInvalid if the token is malformed, unknown or
	// revoked. Other errors are treated as backend failures.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}
