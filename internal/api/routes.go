package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cardiag/internal/middleware"
)

// NewRouter builds the full route tree with logging and recovery
// middleware applied.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)

	r.Post("/ingest", h.Ingest)

	r.Route("/vehicle", func(r chi.Router) {
		r.Get("/all", h.Snapshot)
		r.Get("/speed", h.Speed)
		r.Get("/battery", h.Battery)
		r.Get("/tire-pressure", h.TirePressure)
		r.Get("/alerts", h.ListAlerts)
		r.Post("/alerts/{id}/acknowledge", h.AcknowledgeAlert)

		r.Route("/simulate", func(r chi.Router) {
			r.Post("/start", h.SimStart)
			r.Post("/stop", h.SimStop)
			r.Get("/status", h.SimStatus)
		})
	})

	r.Route("/config", func(r chi.Router) {
		r.Get("/signals", h.GetConfig)
		r.Put("/signals", h.ReloadConfig)
	})

	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
