package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/vereinskasse/vereinskasse/internal/audit"
	"github.com/vereinskasse/vereinskasse/internal/ledger"
	"github.com/vereinskasse/vereinskasse/internal/obligations"
	"github.com/vereinskasse/vereinskasse/internal/observability"
	"github.com/vereinskasse/vereinskasse/internal/payments"
	"github.com/vereinskasse/vereinskasse/internal/review"
	"github.com/vereinskasse/vereinskasse/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger   *slog.Logger
	Config   *Config
	Sessions ActorResolver
	Metrics  *observability.Metrics

	ObligationsHandler *obligations.Handler
	LedgerHandler      *ledger.Handler
	PaymentsHandler    *payments.Handler
	ReviewHandler      *review.Handler
	AuditHandler       *audit.Handler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router serving the treasury API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:   params.Logger,
		Config:   params.Config,
		Sessions: params.Sessions,
		Metrics:  params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireActor(params.Sessions, params.Logger))
		if params.ObligationsHandler != nil {
			params.ObligationsHandler.MountRoutes(r)
		}
		if params.LedgerHandler != nil {
			params.LedgerHandler.MountRoutes(r)
		}
		if params.PaymentsHandler != nil {
			params.PaymentsHandler.MountRoutes(r)
		}
		if params.ReviewHandler != nil {
			params.ReviewHandler.MountRoutes(r)
		}
		if params.AuditHandler != nil {
			params.AuditHandler.MountRoutes(r)
		}
	})

	return r
}
