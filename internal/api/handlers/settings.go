package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dfsportal/internal/core"
	"dfsportal/internal/settings"
	"dfsportal/internal/types"
)

// SettingsService is the runtime settings service.
type SettingsService interface {
	Current() (settings.Settings, error)
	Refresh(ctx context.Context) error
	LoadedAt() time.Time
}

// SettingsWriter persists one setting.
type SettingsWriter interface {
	Set(ctx context.Context, key, value string) error
}

// SettingsHandler serves /v1/settings.
type SettingsHandler struct {
	service SettingsService
	writer  SettingsWriter
	logger  *slog.Logger
}

// NewSettingsHandler creates a SettingsHandler. A nil writer makes the
// settings read-only (PUT answers 404).
func NewSettingsHandler(service SettingsService, writer SettingsWriter, logger *slog.Logger) *SettingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsHandler{service: service, writer: writer, logger: logger}
}

// RegisterRoutes mounts the settings routes.
func (h *SettingsHandler) RegisterRoutes(r chi.Router, requireModule func(types.Module, types.Access) func(http.Handler) http.Handler) {
	guard := func(a types.Access) func(http.Handler) http.Handler {
		if requireModule == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return requireModule(types.ModuleSettings, a)
	}

	r.Route("/settings", func(r chi.Router) {
		r.With(guard(types.AccessRead)).Get("/", h.Get)
		r.With(guard(types.AccessAdmin)).Post("/refresh", h.Refresh)
		if h.writer != nil {
			r.With(guard(types.AccessAdmin)).Put("/{key}", h.Put)
		}
	})
}

type settingsView struct {
	Values   map[string]string `json:"values"`
	LoadedAt time.Time         `json:"loaded_at"`
}

func (h *SettingsHandler) view() (settingsView, error) {
	cur, err := h.service.Current()
	if err != nil {
		return settingsView{}, types.NewAppError(types.ErrCodeInternalUnexpected, "settings are not loaded", err)
	}
	return settingsView{Values: cur.ToMap(), LoadedAt: h.service.LoadedAt()}, nil
}

// Get handles GET /v1/settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.view()
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, v)
}

// Refresh handles POST /v1/settings/refresh. A failed reload keeps the
// previous settings in effect.
func (h *SettingsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Refresh(r.Context()); err != nil {
		core.Error(w, r, err)
		return
	}
	h.Get(w, r)
}

// PutSettingRequest is the body of PUT /v1/settings/{key}.
type PutSettingRequest struct {
	Value string `json:"value"`
}

// Put handles PUT /v1/settings/{key}: the value is validated, stored and
// the service refreshed so it takes effect in this process immediately.
func (h *SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !settings.IsKnownKey(key) {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeNotFoundSetting,
			"unknown setting", nil, map[string]any{"key": key}))
		return
	}

	var req PutSettingRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if _, err := settings.FromMap(map[string]string{key: req.Value}); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.writer.Set(r.Context(), key, req.Value); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.service.Refresh(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "setting stored but refresh failed", "key", key, "error", err)
		core.Error(w, r, err)
		return
	}
	h.Get(w, r)
}
