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
  /api/loans/*       Loan accounts and their transactions
  /api/products/*    Loan product catalog
  /api/arrears       Latest overdue-loan snapshot
  /api/reset         Database reset (dev only)

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
		// Loan routes
		r.Route("/loans", func(r chi.Router) {
			r.Get("/", h.ListLoans)
			r.Post("/", h.CreateLoan)
			r.Get("/{id}", h.GetLoan)
			r.Get("/{id}/schedule", h.GetSchedule)
			r.Get("/{id}/transactions", h.GetTransactions)
			r.Post("/{id}/repayments", h.SubmitRepayment)
			r.Post("/{id}/interest-waivers", h.SubmitInterestWaiver)
			r.Post("/{id}/charges-waivers", h.SubmitChargesWaiver)
			r.Post("/{id}/charge-payments", h.SubmitChargePayment)
			r.Post("/{id}/refunds", h.SubmitRefund)
			r.Post("/{id}/write-off", h.SubmitWriteOff)
		})

		// Product routes
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
			r.Post("/defaults", h.AddDefaultProducts)
			r.Get("/{code}", h.GetProduct)
			r.Delete("/{code}", h.DeleteProduct)
		})

		// Collections
		r.Get("/arrears", h.ListArrears)

		// Dev only
		r.Post("/reset", h.ResetDatabase)
	})

	return r
}
