package handlers

import (
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dfsportal/internal/core"
	"dfsportal/internal/forms"
	"dfsportal/internal/types"
)

func TestForms_SalesReportSchema(t *testing.T) {
	h := NewFormsHandler(forms.SalesReport())
	srv := newGuardedServer(t, map[string]*types.Actor{"any": actorWith("prof_x", nil, nil)},
		func(_ *core.Server, r chi.Router) { h.RegisterRoutes(r) })

	rec := do(t, srv, http.MethodGet, "/v1/forms/sales-report", "any", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "private, max-age=300", rec.Header().Get("Cache-Control"))

	got := decodeData[forms.Schema](t, rec)
	assert.Equal(t, "sales_report", got.Name)
	assert.NotEmpty(t, got.Fields)

	rec = do(t, srv, http.MethodGet, "/v1/forms/sales-report", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
