package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all fund, price, config and snapshot routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/funds", func(r chi.Router) {
		r.Get("/", h.HandleListFunds)
		r.Post("/", h.HandleAddFund)
		r.Post("/refresh-all", h.HandleRefreshAll)

		r.Route("/{code}", func(r chi.Router) {
			r.Delete("/", withCode(h.HandleRemoveFund))
			r.Post("/refresh", withCode(h.HandleRefreshFund))
			r.Put("/equity-ratio", withCode(h.HandleSetEquityRatio))
			r.Get("/history", withCode(h.HandleGetHistory))
		})
	})

	r.Post("/prices/refresh", h.HandleRefreshPrices)

	r.Get("/config", h.HandleGetConfig)
	r.Put("/config", h.HandleUpdateConfig)

	r.Get("/export", h.HandleExport)
	r.Post("/import", h.HandleImport)
}

func withCode(fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(w, r, chi.URLParam(r, "code"))
	}
}
