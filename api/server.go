/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address for rate limiting and logs
  3. Logger:     zerolog request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /healthz              Liveness and store ping
  /metrics              Prometheus scrape endpoint
  /api/units/*          Unit management
  /api/tenancies/*      Tenancies, balances, statements
  /api/entries/*        Ledger entries and portfolio rent runs
  /api/late-fees/*      Late fee assessment
  /api/scenarios/*      Demo scenarios
  /*                    Static files (dashboard), when built

AUTH:
  Every /api route runs behind Authenticate. Writes additionally require a
  role that may manage the ledger and are rate limited per client IP.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Auth, RBAC, rate limiting, request logging
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions carries the transport settings that come from config.
type RouterOptions struct {
	// JWTSecret signs bearer tokens. Empty disables auth and every request
	// acts as the system session.
	JWTSecret string

	CORSOrigins []string

	// RateLimit is requests per second per client IP on write routes.
	// Zero disables limiting.
	RateLimit float64
	RateBurst int

	// Ready is called by /healthz. Nil means always ready.
	Ready func(ctx context.Context) error

	StaticDir string
}

// NewRouter creates a new router with all routes configured. ctx bounds the
// background goroutines owned by the middleware.
func NewRouter(ctx context.Context, h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", healthz(opts.Ready))
	r.Handle("/metrics", promhttp.Handler())

	writes := []func(http.Handler) http.Handler{RequireLedgerRole}
	if opts.RateLimit > 0 {
		writes = append([]func(http.Handler) http.Handler{RateLimitByIP(ctx, opts.RateLimit, opts.RateBurst)}, writes...)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(opts.JWTSecret))

		r.Get("/periods", h.ListPeriods)
		r.Get("/dashboard", h.Dashboard)

		r.Route("/units", func(r chi.Router) {
			r.Get("/", h.ListUnits)
			r.With(writes...).Post("/", h.CreateUnit)
		})

		r.Route("/tenancies", func(r chi.Router) {
			r.Get("/", h.ListTenancies)
			r.Get("/{id}", h.GetTenancy)
			r.Get("/{id}/entries", h.GetEntries)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/statement", h.GetStatement)

			r.Group(func(r chi.Router) {
				r.Use(writes...)
				r.Post("/", h.CreateTenancy)
				r.Post("/{id}/move-out", h.MoveOut)
				r.Post("/{id}/charge-rent", h.ChargeTenancyRent)
			})
		})

		r.Route("/entries", func(r chi.Router) {
			r.Use(writes...)
			r.Post("/", h.CreateEntry)
			r.Post("/charge-all-rent", h.ChargeAllRent)
		})

		r.Route("/late-fees", func(r chi.Router) {
			r.Use(writes...)
			r.Post("/apply", h.ApplyLateFees)
			r.Post("/reminders", h.SendReminders)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.With(writes...).Post("/load", h.LoadScenario)
		})
	})

	if opts.StaticDir != "" {
		if _, err := os.Stat(opts.StaticDir); err == nil {
			r.Get("/*", spa(opts.StaticDir))
		}
	}

	return r
}

func healthz(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "store unavailable", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// spa serves the built dashboard and falls back to index.html for
// client-side routing.
func spa(dir string) http.HandlerFunc {
	fileServer := http.FileServer(http.Dir(dir))
	return func(w http.ResponseWriter, r *http.Request) {
		fullPath := filepath.Join(dir, filepath.Clean(r.URL.Path))
		if _, err := os.Stat(fullPath); os.IsNotExist(err) {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		fileServer.ServeHTTP(w, r)
	}
}
