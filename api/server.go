/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/assignments/*  Versioned assignment management
  /api/series/*       Version history reads
  /api/resolve        Assignment resolution
  /api/data           Datum reads and writes
  /api/compute/*      Computed-field derivation
  /api/fields/*       Field definitions
  /api/companies/*    Fiscal-year configuration

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
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
		// Assignment routes
		r.Route("/assignments", func(r chi.Router) {
			r.Post("/", h.CreateAssignment)
			r.Get("/{id}", h.GetAssignment)
			r.Post("/{id}/versions", h.CreateVersion)
			r.Post("/{id}/validate", h.ValidateChange)
			r.Post("/{id}/supersede", h.Supersede)
			r.Get("/{id}/reporting-dates", h.GetReportingDates)
		})

		// Series history
		r.Get("/series/{id}", h.GetSeries)

		// Resolution
		r.Get("/resolve", h.Resolve)

		// Data routes
		r.Route("/data", func(r chi.Router) {
			r.Post("/", h.WriteDatum)
			r.Get("/", h.GetDatum)
		})

		// Computation routes
		r.Route("/compute", func(r chi.Router) {
			r.Post("/", h.Compute)
			r.Post("/check", h.ShouldCompute)
		})

		// Field routes
		r.Route("/fields", func(r chi.Router) {
			r.Post("/", h.SaveField)
			r.Get("/{id}", h.GetField)
		})

		// Fiscal configuration
		r.Route("/companies/{id}/fiscal-config", func(r chi.Router) {
			r.Get("/", h.GetFiscalConfig)
			r.Put("/", h.SetFiscalConfig)
		})
	})

	return r
}
