package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all calendar routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/calendar", func(r chi.Router) {
		r.Get("/status", h.HandleGetStatus)
		r.Get("/{year}/{month}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetMonth(w, r, chi.URLParam(r, "year"), chi.URLParam(r, "month"))
		})
	})
}
