/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Request count and latency by route pattern
  5. CORS:       Cross-origin requests for the depot dashboard

ROUTE GROUPS:
  /healthz              Liveness and database ping
  /metrics              Prometheus scrape endpoint
  /api/products/*       Catalogue and stock summaries
  /api/batches/*        Batch intake
  /api/trips/*          Trip lifecycle
  /api/movements        Batch movement history
  /api/intake/*         Parsed loading documents
  /api/admin/*          Consistency checks and audits
  /api/scenarios/*      Demo scenarios and reset (dev only)

SECURITY NOTE:
  No authentication middleware. All endpoints are public behind the gateway.

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
	"github.com/warp/fuel-ledger/metrics"
)

// RouterOptions carries the optional pieces of the router.
type RouterOptions struct {
	Metrics        *metrics.Metrics
	Auditor        *ConsistencyAuditor
	AllowedOrigins []string
	// EnableScenarios mounts the scenario loader and reset endpoints.
	EnableScenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware(routePattern))
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Get("/{product}/summary", h.GetStockSummary)
		})

		r.Route("/batches", func(r chi.Router) {
			r.Get("/", h.ListBatches)
			r.Post("/", h.CreateBatch)
			r.Get("/{id}", h.GetBatch)
			r.Delete("/{id}", h.DeleteBatch)
		})

		r.Route("/trips", func(r chi.Router) {
			r.Get("/", h.ListTrips)
			r.Post("/", h.CreateTrip)
			r.Get("/{id}", h.GetTrip)
			r.Put("/{id}/compartments", h.UpdateCompartments)
			r.Post("/{id}/status", h.TransitionTrip)
			r.Post("/{id}/approve", h.ApproveTrip)
			r.Post("/{id}/reject", h.RejectTrip)
			r.Post("/{id}/cancel", h.CancelTrip)
			r.Post("/{id}/actuals", h.RecordActuals)
			r.Get("/{id}/depletions", h.GetTripDepletions)
		})

		r.Get("/movements", h.ListMovements)
		r.Post("/intake/documents", h.ApplyDocument)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/consistency/{product}", h.CheckConsistency)
			if opts.Auditor != nil {
				r.Get("/audit", opts.Auditor.GetAudit)
				r.Post("/audit", opts.Auditor.TriggerAudit)
			}
		})

		if opts.EnableScenarios {
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

// routePattern labels metrics by chi pattern so IDs do not explode the
// label set. It is read after the request is routed.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
