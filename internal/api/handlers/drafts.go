// Package handlers contains the HTTP handler implementations for the DFS
// portal API. Handlers depend on narrow interfaces declared next to them and
// are mounted by the entry point through core.Server.V1RouteRegistrars.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dfsportal/internal/core"
	"dfsportal/internal/drafts"
	"dfsportal/internal/expiry"
	"dfsportal/internal/types"
)

// maxImportSize bounds an uploaded draft export.
const maxImportSize = 32 << 20

// DraftStore is the draft persistence the handler drives.
type DraftStore interface {
	Save(ctx context.Context, station, date string, payload map[string]any) error
	Get(ctx context.Context, station, date string) (*types.Draft, bool)
	ListAll(ctx context.Context) ([]types.DraftSummary, error)
	Delete(ctx context.Context, station, date string) (bool, error)
	UsageFor(ctx context.Context, allow drafts.StationFilter) (types.StorageUsage, error)
	ExportStations(ctx context.Context, w io.Writer, allow drafts.StationFilter) (int, error)
	ImportStations(ctx context.Context, r io.Reader, allow drafts.StationFilter) (int, error)
	Policy() expiry.Policy
}

// DraftCleaner removes expired drafts. The maintenance service is used so
// manual cleanups are measured and audited like scheduled ones.
type DraftCleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// PayloadNormalizer coerces a draft payload against the form schema.
type PayloadNormalizer interface {
	Normalize(payload map[string]any, partial bool) (map[string]any, error)
}

// AuditLogger records business events.
type AuditLogger interface {
	Log(ctx context.Context, e *types.AuditEvent) error
}

// DraftHandler serves /v1/drafts.
type DraftHandler struct {
	store      DraftStore
	cleaner    DraftCleaner
	normalizer PayloadNormalizer
	audit      AuditLogger
	validator  *core.Validator
	clock      types.Clock
	logger     *slog.Logger
}

// DraftHandlerConfig holds the dependencies of a DraftHandler. Audit and
// Clock are optional.
type DraftHandlerConfig struct {
	Store      DraftStore
	Cleaner    DraftCleaner
	Normalizer PayloadNormalizer
	Audit      AuditLogger
	Validator  *core.Validator
	Clock      types.Clock
	Logger     *slog.Logger
}

// NewDraftHandler creates a DraftHandler.
func NewDraftHandler(cfg DraftHandlerConfig) *DraftHandler {
	h := &DraftHandler{
		store:      cfg.Store,
		cleaner:    cfg.Cleaner,
		normalizer: cfg.Normalizer,
		audit:      cfg.Audit,
		validator:  cfg.Validator,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.validator == nil {
		h.validator = core.NewValidator(h.logger)
	}
	if h.clock == nil {
		h.clock = types.SystemClock{}
	}
	return h
}

// RegisterRoutes mounts the draft routes. requireModule is usually
// core.Server.RequireModule; passing nil leaves the routes unguarded.
func (h *DraftHandler) RegisterRoutes(r chi.Router, requireModule func(types.Module, types.Access) func(http.Handler) http.Handler) {
	guard := func(a types.Access) func(http.Handler) http.Handler {
		if requireModule == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return requireModule(types.ModuleDrafts, a)
	}

	r.Route("/drafts", func(r chi.Router) {
		r.With(guard(types.AccessRead)).Get("/", h.List)
		r.With(guard(types.AccessRead)).Get("/usage", h.Usage)
		r.With(guard(types.AccessWrite)).Post("/cleanup", h.Cleanup)
		r.With(guard(types.AccessAdmin)).Get("/export", h.Export)
		r.With(guard(types.AccessAdmin)).Post("/import", h.Import)

		r.Route("/{station}/{date}", func(r chi.Router) {
			r.With(guard(types.AccessRead)).Get("/", h.Get)
			r.With(guard(types.AccessWrite)).Put("/", h.Save)
			r.With(guard(types.AccessWrite)).Delete("/", h.Delete)
		})
	})
}

// draftPath carries the validated {station}/{date} URL parameters.
type draftPath struct {
	Station string `json:"station" validate:"required,station"`
	Date    string `json:"date" validate:"required,isodate"`
}

// parsePath reads and validates the draft URL parameters and checks the
// actor's station scope.
func (h *DraftHandler) parsePath(r *http.Request) (draftPath, error) {
	p := draftPath{
		Station: chi.URLParam(r, "station"),
		Date:    chi.URLParam(r, "date"),
	}
	if err := h.validator.ValidateStruct(p); err != nil {
		return p, err
	}
	if err := core.AuthorizeStation(r, p.Station); err != nil {
		return p, err
	}
	return p, nil
}

// SaveDraftRequest is the body of PUT /v1/drafts/{station}/{date}.
type SaveDraftRequest struct {
	Payload map[string]any `json:"payload"`
}

// DraftDetail is a draft together with its derived expiry state.
type DraftDetail struct {
	types.Draft
	ExpiresAt          time.Time `json:"expires_at"`
	TimeRemainingHours float64   `json:"time_remaining_hours"`
	ExpiringSoon       bool      `json:"expiring_soon"`
}

func (h *DraftHandler) detail(d *types.Draft) DraftDetail {
	st := h.store.Policy().Summarize(d.SavedAt, h.clock.Now())
	return DraftDetail{
		Draft:              *d,
		ExpiresAt:          st.ExpiresAt,
		TimeRemainingHours: st.RemainingHours,
		ExpiringSoon:       st.ExpiringSoon,
	}
}

// List handles GET /v1/drafts. Drafts outside the actor's station scope
// are left out; ?station= narrows the list further.
func (h *DraftHandler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.store.ListAll(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	scope := drafts.StationFilter(core.StationScope(r))
	station := r.URL.Query().Get("station")

	out := make([]types.DraftSummary, 0, len(all))
	for _, d := range all {
		if station != "" && d.Station != station {
			continue
		}
		if !scope.Allows(d.Station) {
			continue
		}
		out = append(out, d)
	}
	core.List(w, r, out)
}

// Usage handles GET /v1/drafts/usage. Station-scoped actors see the
// footprint of their own stations only.
func (h *DraftHandler) Usage(w http.ResponseWriter, r *http.Request) {
	u, err := h.store.UsageFor(r.Context(), core.StationScope(r))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, u)
}

// Get handles GET /v1/drafts/{station}/{date}. Missing and expired drafts
// are both reported as not_found_draft.
func (h *DraftHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.parsePath(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	d, ok := h.store.Get(r.Context(), p.Station, p.Date)
	if !ok {
		core.Error(w, r, notFound(p))
		return
	}
	core.Data(w, r, http.StatusOK, h.detail(d))
}

// Save handles PUT /v1/drafts/{station}/{date}.
//
//  1. Validate the path and station scope.
//  2. Normalize the payload against the sales report schema; required
//     fields may still be missing in a draft.
//  3. Save, overwriting any previous draft and restarting its TTL.
//  4. Audit and return the stored draft.
func (h *DraftHandler) Save(w http.ResponseWriter, r *http.Request) {
	p, err := h.parsePath(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req SaveDraftRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}

	payload := req.Payload
	if h.normalizer != nil {
		payload, err = h.normalizer.Normalize(req.Payload, true)
		if err != nil {
			core.Error(w, r, err)
			return
		}
	}

	if err := h.store.Save(r.Context(), p.Station, p.Date, payload); err != nil {
		core.Error(w, r, err)
		return
	}
	h.emitAuditEvent(r.Context(), types.AuditActionDraftSaved, p.Station+"/"+p.Date, nil)

	d, ok := h.store.Get(r.Context(), p.Station, p.Date)
	if !ok {
		// Read-after-write can only miss if the backend dropped the entry.
		h.logger.WarnContext(r.Context(), "saved draft not readable", "station", p.Station, "date", p.Date)
		d = &types.Draft{Station: p.Station, Date: p.Date, Payload: payload, SavedAt: h.clock.Now()}
	}
	core.Data(w, r, http.StatusOK, h.detail(d))
}

// Delete handles DELETE /v1/drafts/{station}/{date}.
func (h *DraftHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, err := h.parsePath(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	existed, err := h.store.Delete(r.Context(), p.Station, p.Date)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !existed {
		core.Error(w, r, notFound(p))
		return
	}
	h.emitAuditEvent(r.Context(), types.AuditActionDraftDeleted, p.Station+"/"+p.Date, nil)
	w.WriteHeader(http.StatusNoContent)
}

// Cleanup handles POST /v1/drafts/cleanup.
func (h *DraftHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.cleaner.CleanupExpired(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, map[string]int{"removed": removed})
}

// Export handles GET /v1/drafts/export. The stream is buffered so a
// failure can still be reported with a proper status. Station-scoped
// actors export their own stations only.
func (h *DraftHandler) Export(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	n, err := h.store.ExportStations(r.Context(), &buf, core.StationScope(r))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	name := fmt.Sprintf("drafts-%s.jsonl.zst", h.clock.Now().UTC().Format("20060102T150405Z"))
	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("X-Draft-Count", fmt.Sprint(n))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.WarnContext(r.Context(), "draft export interrupted", "error", err)
	}
}

// Import handles POST /v1/drafts/import with a body produced by Export. A
// line for a station outside the actor's scope stops the import with 403.
func (h *DraftHandler) Import(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxImportSize)
	n, err := h.store.ImportStations(r.Context(), body, core.StationScope(r))
	if n > 0 {
		h.emitAuditEvent(r.Context(), types.AuditActionDraftImport, "*", map[string]any{"imported": n})
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, map[string]int{"imported": n})
}

func notFound(p draftPath) error {
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundDraft, "draft not found or expired", nil,
		map[string]any{"station": p.Station, "date": p.Date})
}

// emitAuditEvent records an audit entry. Failures are logged, never
// surfaced to the client.
func (h *DraftHandler) emitAuditEvent(ctx context.Context, action, resourceID string, meta map[string]any) {
	if h.audit == nil {
		return
	}
	actor, ok := types.GetActor(ctx)
	if !ok {
		actor = types.SystemActor("anonymous")
	}

	event := types.AuditEvent{
		ActorID:      actor.ID,
		ActorType:    actor.Type,
		Action:       action,
		ResourceID:   resourceID,
		ResourceType: types.AuditResourceDraft,
		Timestamp:    h.clock.Now().UTC(),
	}
	if meta != nil {
		event.Metadata, _ = json.Marshal(meta)
	}

	if err := h.audit.Log(ctx, &event); err != nil {
		h.logger.WarnContext(ctx, "failed to log audit event",
			"action", action,
			"resource_id", resourceID,
			"error", err,
		)
	}
}
