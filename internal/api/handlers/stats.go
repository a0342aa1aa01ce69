package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dfsportal/internal/core"
	"dfsportal/internal/types"
)

// StatsProvider exposes the poller's latest applied snapshot.
type StatsProvider interface {
	Latest() (types.StatsSnapshot, bool)
	LastError() error
	Interval() time.Duration
}

// StatsHandler serves GET /v1/stats.
type StatsHandler struct {
	stats  StatsProvider
	clock  types.Clock
	logger *slog.Logger
}

// NewStatsHandler creates a StatsHandler. A nil clock uses the system clock.
func NewStatsHandler(stats StatsProvider, clock types.Clock, logger *slog.Logger) *StatsHandler {
	if clock == nil {
		clock = types.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsHandler{stats: stats, clock: clock, logger: logger}
}

// RegisterRoutes mounts GET /stats behind the stats read permission.
func (h *StatsHandler) RegisterRoutes(r chi.Router, requireModule func(types.Module, types.Access) func(http.Handler) http.Handler) {
	if requireModule == nil {
		r.Get("/stats", h.Get)
		return
	}
	r.With(requireModule(types.ModuleStats, types.AccessRead)).Get("/stats", h.Get)
}

// Get returns the latest snapshot. Until the first poll succeeds it answers
// 503 unavailable_stats_not_ready. A snapshot older than two poll intervals
// is still served, with a warning in meta.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.stats.Latest()
	if !ok {
		details := map[string]any{core.RetryAfterDetail: int(h.stats.Interval().Seconds())}
		if err := h.stats.LastError(); err != nil {
			details["last_error_code"] = string(types.CodeOf(err))
		}
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeStatsNotReady,
			"dashboard statistics are not available yet", nil, details))
		return
	}

	var warnings []string
	if age := h.clock.Now().Sub(snap.FetchedAt); age > 2*h.stats.Interval() {
		warnings = append(warnings, "statistics are stale; last refreshed "+age.Truncate(time.Second).String()+" ago")
	}
	core.DataWithWarnings(w, r, http.StatusOK, snap, warnings...)
}
