/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin UI

ROUTE GROUPS:
  /api/jobs/*       Job triggers and run records
  /api/archives/*   Archive table read-back
  /api/health       Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/archiver/serve.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/runs", h.ListJobRuns)
			r.Post("/{kind}/run", h.RunJob)
		})

		r.Route("/archives", func(r chi.Router) {
			r.Get("/registers", h.ListRegisterArchives)
			r.Get("/bank-accounts", h.ListBankAccountArchives)
			r.Get("/transactions", h.ListTransactionArchives)
			r.Get("/invoices", h.ListInvoiceArchives)
		})
	})

	return r
}
