package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"dfsportal/internal/config"
	"dfsportal/internal/core"
	"dfsportal/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{Environment: "local"}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 10, 18, 0, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingAudit struct {
	mu     sync.Mutex
	events []types.AuditEvent
}

func (a *recordingAudit) Log(_ context.Context, e *types.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, *e)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Action)
	}
	return out
}

// newGuardedServer mounts register behind the real chassis with a mock
// authenticator mapping bearer tokens to actors.
func newGuardedServer(t *testing.T, actors map[string]*types.Actor, register func(*core.Server, chi.Router)) http.Handler {
	t.Helper()
	srv, err := core.NewServer(testConfig(), discardLogger())
	require.NoError(t, err)
	srv.Authenticator = &core.MockAuthenticator{
		ResolveTokenFunc: func(_ context.Context, token string) (*types.Actor, error) {
			if a, ok := actors[token]; ok {
				return a, nil
			}
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unknown", nil)
		},
	}
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) { register(srv, r) })
	srv.MountRoutes()
	return srv.Handler()
}

func actorWith(id string, stations []string, mods map[types.Module]types.Access) *types.Actor {
	return &types.Actor{
		ID:   id,
		Type: types.ActorTypeUser,
		Permissions: types.Permissions{
			Version:  types.PermissionsVersion,
			Stations: stations,
			Modules:  mods,
		},
	}
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Data T                   `json:"data"`
		Meta *types.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error.Code
}
