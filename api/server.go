/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/projects/*   Project budget records
  /api/jobs/*       Job budget lines
  /api/periods/*    Periods, inclusions, calculation, snapshot listing
  /api/snapshots/*  Snapshot lifecycle and day-level distribution

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Ledger routes
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.ListProjects)
			r.Put("/{id}", h.UpsertProject)
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", h.ListJobs)
			r.Put("/{code}", h.UpsertJob)
		})

		// Period routes
		r.Route("/periods", func(r chi.Router) {
			r.Get("/", h.ListPeriods)
			r.Post("/", h.CreatePeriod)
			r.Route("/{key}", func(r chi.Router) {
				r.Get("/", h.GetPeriod)
				r.Post("/sync", h.SyncPeriod)
				r.Get("/inclusions", h.ListInclusions)
				r.Post("/inclusions", h.ToggleInclusions)
				r.Post("/lock", h.LockPeriod)
				r.Post("/unlock", h.UnlockPeriod)
				r.Get("/calculate", h.CalculateAllocation)
				r.Get("/snapshots", h.ListSnapshots)
				r.Post("/snapshots", h.CreateSnapshot)
			})
		})

		// Snapshot routes
		r.Route("/snapshots/{id}", func(r chi.Router) {
			r.Get("/", h.GetSnapshot)
			r.Post("/activate", h.ActivateSnapshot)
			r.Post("/commit", h.CommitSnapshot)
			r.Post("/uncommit", h.UncommitSnapshot)
			r.Get("/distribution", h.GetDistribution)
		})

		// Health check
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	})

	return r
}
