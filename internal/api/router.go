package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"traffic-router/internal/observability"
)

func Router(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"Authorization", "Accept", "Content-Type"},
	}))

	r.Post("/route", h.Route)
	r.Post("/api/targets", h.AddTarget)
	r.Get("/api/targets", h.ListTargets)
	r.Get("/api/target/{id}", h.GetTarget)
	r.Post("/api/target/{id}", h.UpdateTarget)
	r.Get("/health", h.Health)
	r.Handle("/metrics", observability.MetricsHandler())
	return r
}
