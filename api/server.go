/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     slog request logging (middleware.go)
  4. Metrics:    Request latency histogram (metrics.go)
  5. Recoverer:  Panic recovery (500 instead of crash)
  6. CORS:       Cross-origin requests for the bursar UI

ROUTE GROUPS:
  /healthz                  Liveness
  /metrics                  Prometheus scrape
  /api/periods/*            Billing periods and their ledgers
  /api/students/*           Per-student reads
  /api/fee-configurations/* Fee templates
  /api/payments/*           Payment records
  /api/admin/*              Admin operations
  /api/scenarios/*          Demo scenarios (dev only)

AUTHENTICATION:
  When a TokenManager is supplied every /api route requires a JWT. Without
  one, the actor is taken from the request body or the X-Actor header.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the router's optional settings.
type RouterConfig struct {
	CORSOrigins []string
	Tokens      *TokenManager // nil disables authentication

	// Ping backs /healthz; nil always reports ok.
	Ping func(context.Context) error
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(h.metrics.Middleware)
	r.Use(middleware.Recoverer)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if cfg.Ping != nil {
			if err := cfg.Ping(req.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "database unavailable", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", h.metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		if cfg.Tokens != nil {
			r.Use(cfg.Tokens.Authenticate)
		}

		// Period routes
		r.Route("/periods", func(r chi.Router) {
			r.Post("/", h.CreatePeriod)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetPeriod)
				r.Patch("/", h.UpdateDetails)
				r.Delete("/", h.DeletePeriod)
				r.Post("/charges", h.AddCharge)
				r.Post("/charges/{chargeID}/reverse", h.ReverseCharge)
				r.Post("/payments", h.LinkPayments)
				r.Post("/carry-forward", h.CarryForward)
				r.Post("/lock", h.SetLock)
				r.Post("/refresh", h.RefreshTotals)
				r.Get("/audit", h.GetAuditTrail)
			})
		})

		// Student routes
		r.Route("/students/{studentID}", func(r chi.Router) {
			r.Get("/periods", h.ListStudentPeriods)
			r.Get("/balance", h.GetBalance)
		})

		// Fee configuration routes
		r.Route("/fee-configurations", func(r chi.Router) {
			r.Get("/", h.ListFeeConfigurations)
			r.Post("/", h.CreateFeeConfiguration)
			r.Get("/{id}", h.GetFeeConfiguration)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.RecordPayment)
			r.Get("/{id}", h.GetPayment)
			r.Post("/{id}/status", h.UpdatePaymentStatus)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/rollover", h.TriggerRollover)
		})

		// Scenario routes
		if h.resetter != nil {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}
	})

	return r
}
