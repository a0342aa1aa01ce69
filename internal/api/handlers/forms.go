package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"dfsportal/internal/core"
	"dfsportal/internal/forms"
)

// FormsHandler serves the form schemas used by the client renderer.
type FormsHandler struct {
	salesReport *forms.Schema
}

// NewFormsHandler creates a FormsHandler for the sales report schema.
func NewFormsHandler(salesReport *forms.Schema) *FormsHandler {
	return &FormsHandler{salesReport: salesReport}
}

// RegisterRoutes mounts GET /forms/sales-report. Every authenticated
// actor may read the schema.
func (h *FormsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/forms/sales-report", h.GetSalesReport)
}

// GetSalesReport returns the schema. It changes only with a deploy, so
// clients may cache it briefly.
func (h *FormsHandler) GetSalesReport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "private, max-age=300")
	core.Data(w, r, http.StatusOK, h.salesReport)
}
