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
  4. CORS:       Cross-origin requests for ops tooling

ROUTE GROUPS:
  /api/claimants/*   Aggregate read side
  /api/periods/*     Compliance archive
  /api/events/*      Dev event injection
  /api/scenarios/*   Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.
  Front this with a gateway before exposing it anywhere real.

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
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Aggregate read side
		r.Route("/claimants", func(r chi.Router) {
			r.Get("/", h.ListClaimants)
			r.Route("/{claimant}/{employer}", func(r chi.Router) {
				r.Get("/", h.GetStatus)
				r.Get("/timeline", h.GetTimeline)
				r.Get("/periods", h.ListPeriods)
				r.Get("/periods/{periodID}", h.GetPeriod)
				r.Get("/payment-lines", h.GetPaymentLines)
				r.Get("/needs", h.GetNeeds)
				r.Get("/ledger", h.GetLedger)
			})
		})

		// Compliance archive
		r.Get("/periods/{periodID}/traces", h.GetTraces)

		// Dev event injection
		r.Route("/events", func(r chi.Router) {
			r.Post("/source-reports", h.InjectSourceReport)
			r.Post("/facts", h.InjectFact)
			r.Post("/reevaluate", h.Reevaluate)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
