// Package api exposes wallets, balances and the portfolio over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/matrixise/portfolio-tracker/internal/chain"
	"github.com/matrixise/portfolio-tracker/internal/health"
	"github.com/matrixise/portfolio-tracker/internal/metrics"
	"github.com/matrixise/portfolio-tracker/internal/portfolio"
	"github.com/matrixise/portfolio-tracker/internal/syncer"
	"github.com/matrixise/portfolio-tracker/internal/wallets"
)

// Syncer runs a balance sync for one wallet.
type Syncer interface {
	Sync(ctx context.Context, walletID string, force bool) (*syncer.Result, error)
}

// Deps are the services the router dispatches to. Health may be nil.
type Deps struct {
	Wallets     *wallets.Service
	Syncer      Syncer
	Portfolio   *portfolio.Aggregator
	Health      *health.Checker
	CORSOrigins []string
}

type handlers struct {
	wallets   *wallets.Service
	syncer    Syncer
	portfolio *portfolio.Aggregator
	validate  *validator.Validate
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Deps) http.Handler {
	h := &handlers{
		wallets:   deps.Wallets,
		syncer:    deps.Syncer,
		portfolio: deps.Portfolio,
		validate:  NewValidator(),
	}

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, echoRequestID, recoverer, httpMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	if deps.Health != nil {
		r.Get("/health", deps.Health.Handler())
		r.Get("/ready", deps.Health.ReadyHandler())
		r.Get("/live", deps.Health.LiveHandler())
	}
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/wallets", func(r chi.Router) {
			r.Post("/", h.createWallet)
			r.Get("/", h.listWallets)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getWallet)
				r.Patch("/", h.updateWallet)
				r.Delete("/", h.deleteWallet)
				r.Post("/fetch", h.fetchBalances)
				r.Get("/balances", h.walletBalances)
			})
		})
		r.Get("/portfolio", h.summary)
		r.Get("/portfolio/history", h.history)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

// NewValidator returns a validator with the "chain" rule registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("chain", func(fl validator.FieldLevel) bool {
		_, err := chain.Parse(fl.Field().String())
		return err == nil
	})
	return v
}
