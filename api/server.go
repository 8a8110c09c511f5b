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
  /api/applications/*   Application intake
  /api/contracts/*      Contract offers and transitions
  /api/payments/*       Platform-fee reporting and confirmation
  /api/penalties/*      Penalty resolution sub-machine
  /api/admin/*          Sweep trigger, sweep history, directory seeding

SECURITY NOTE:
  No authentication middleware currently. Actor identity travels in the
  request body (pharmacist_id / pharmacy_id) and admin routes are trusted.
  An auth layer in front of this service is a deployment concern.

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

	r.Route("/api", func(r chi.Router) {
		// Application intake
		r.Route("/applications", func(r chi.Router) {
			r.Post("/", h.CreateApplication)
			r.Get("/{id}", h.GetApplication)
		})

		// Contract offers and lifecycle transitions
		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", h.ListContracts)
			r.Post("/", h.CreateContract)
			r.Get("/{id}", h.GetContract)
			r.Get("/{id}/payment", h.GetContractPayment)
			r.Post("/{id}/approve", h.ApproveContract)
			r.Post("/{id}/reject", h.RejectContract)
			r.Post("/{id}/complete", h.CompleteContract)
		})

		// Platform-fee payments
		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Get("/{id}", h.GetPayment)
			r.Post("/{id}/report", h.ReportPayment)
			r.Post("/{id}/confirm", h.ConfirmPayment)
		})

		// Penalties
		r.Route("/penalties", func(r chi.Router) {
			r.Get("/", h.ListPenalties)
			r.Get("/{id}", h.GetPenalty)
			r.Post("/{id}/request-resolution", h.RequestPenaltyResolution)
			r.Post("/{id}/resolve", h.ResolvePenalty)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.RunSweep)
			r.Get("/sweep/runs", h.ListSweepRuns)
			r.Post("/pharmacies", h.CreatePharmacy)
			r.Get("/pharmacies/{id}", h.GetPharmacy)
			r.Post("/pharmacists", h.CreatePharmacist)
			r.Get("/pharmacists/{id}", h.GetPharmacist)
			r.Post("/job-postings", h.CreateJobPosting)
			r.Get("/job-postings/{id}", h.GetJobPosting)
		})
	})

	return r
}
