package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"dfsportal/internal/types"
)

// authPublicPaths lists URL paths that are exempt from authentication.
var authPublicPaths = map[string]bool{
	"/health": true,
}

// AuthMiddleware wraps handlers requiring authentication.
//
//  1. Extracts the Bearer token from the Authorization header.
//  2. Calls Authenticator.ResolveToken to resolve the token to an Actor.
//  3. Injects the Actor into the request context via types.WithActor.
//  4. Returns 401 with auth_token_missing or auth_token_invalid on failure.
//     Backend failures during resolution are reported with their own code
//     so an outage is not mistaken for a bad token.
//
// If the Authenticator field on Server is nil the middleware passes through.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil || authPublicPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authorization header is required")
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
			return
		}

		actor, err := s.Authenticator.ResolveToken(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}
		if actor == nil {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), *actor)))
	})
}

// extractBearerToken parses the Authorization header value and returns
// the token string. It expects the format "Bearer <token>" (case-insensitive
// scheme per RFC 7235). Returns empty string if the format is invalid.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

// handleAuthError inspects the error from Authenticator.ResolveToken and
// writes the matching response.
func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeAuthTokenInvalid, types.ErrCodeAuthTokenRevoked, types.ErrCodeAuthTokenExpired:
			s.Logger.WarnContext(r.Context(), "authentication failed: token invalid",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("error_code", string(appErr.Code)),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		case types.ErrCodeValidationPermissions, types.ErrCodeInternalDB:
			s.Logger.ErrorContext(r.Context(), "authentication failed: profile unavailable",
				slog.String("path", r.URL.Path),
				slog.String("error_code", string(appErr.Code)),
				slog.Any("error", appErr.Err),
			)
			Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected, "authentication is temporarily unavailable", nil))
			return
		}
	}

	s.Logger.ErrorContext(r.Context(), "authentication failed: unexpected error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Authentication failed")
}

// writeAuthError writes a 401 Unauthorized JSON response with the given error code.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	JSON(w, r, http.StatusUnauthorized, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}

// RequireModule returns middleware that checks the Actor's permission
// document grants at least want on module.
//
// If no Actor is in context, returns 401. When authentication is disabled
// (no Authenticator) the check is skipped. System actors always pass.
func (s *Server) RequireModule(module types.Module, want types.Access) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.Authenticator == nil {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := types.GetActor(r.Context())
			if !ok {
				s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authentication required")
				return
			}
			if actor.Type == types.ActorTypeSystem || actor.Permissions.Allows(module, want) {
				next.ServeHTTP(w, r)
				return
			}

			s.Logger.InfoContext(r.Context(), "permission denied",
				slog.String("actor_id", actor.ID),
				slog.String("module", string(module)),
				slog.String("required", want.String()),
				slog.String("granted", actor.Permissions.Level(module).String()),
			)
			Error(w, r, types.NewAppErrorWithDetails(types.ErrCodePermissionModule,
				"Insufficient permission for this operation", nil,
				map[string]any{"module": module, "required": want.String()}))
		})
	}
}

// StationScope returns a predicate accepting the stations the actor in r may
// act on, or nil when the actor is unrestricted (no actor, a system actor or
// a document without a station list).
func StationScope(r *http.Request) func(station string) bool {
	actor, ok := types.GetActor(r.Context())
	if !ok || actor.Type == types.ActorTypeSystem || len(actor.Permissions.Stations) == 0 {
		return nil
	}
	return actor.Permissions.CanAccessStation
}

// AuthorizeStation reports a permission_station_denied error when the actor
// in ctx may not act on station. Requests without an actor (authentication
// disabled) are allowed.
func AuthorizeStation(r *http.Request, station string) error {
	actor, ok := types.GetActor(r.Context())
	if !ok || actor.Type == types.ActorTypeSystem || actor.Permissions.CanAccessStation(station) {
		return nil
	}
	return types.NewAppErrorWithDetails(types.ErrCodePermissionStation,
		"station is outside your permission scope", nil, map[string]any{"station": station})
}
