package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the health, relay and admin endpoints.
func NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", HealthCheck)
	if Relay != nil {
		r.Method(http.MethodGet, "/ws", Relay)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/audit", GetAuditLogs)
		r.Get("/server-logs", GetServerLogs)
		r.Delete("/server-logs", ClearServerLogs)
	})
	return r
}
