package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/venuecast/backend/api/controllers"
	"github.com/venuecast/backend/api/middleware"
	"github.com/venuecast/backend/internal/dispatch"
	"github.com/venuecast/backend/internal/requests"
	"github.com/venuecast/backend/pkg/config"
	"github.com/venuecast/backend/pkg/logger"
	pkgredis "github.com/venuecast/backend/pkg/redis"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams carry everything the HTTP surface needs.
type RouterParams struct {
	Config          *config.Config
	Logger          *logger.Logger
	DB              pinger
	Redis           *pkgredis.Client
	Dispatch        dispatch.Service
	Requests        requests.Repository
	MetricsGatherer prometheus.Gatherer
}

// NewRouter wires the venue broadcast API.
func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, params.DB, params.Redis, logg))
	})

	if params.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.MetricsGatherer, promhttp.HandlerOpts{}))
	}

	// Public organizer intake.
	r.Post("/api/v1/requests", controllers.CreateRequest(params.Requests, logg))

	// Operator console.
	r.Route("/api/v1/requests/{requestId}", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/", controllers.GetRequest(params.Requests, logg))
		r.With(middleware.RequireAdmin(logg)).Delete("/", controllers.DeleteRequest(params.Dispatch, logg))

		r.Post("/match", controllers.MatchRequest(params.Dispatch, logg))
		r.Get("/deliveries", controllers.ListDeliveries(params.Dispatch, logg))

		r.Route("/dispatch", func(r chi.Router) {
			r.Use(middleware.Idempotency(params.Redis, logg))

			r.Post("/send", controllers.SendVenue(params.Dispatch, logg))
			r.Post("/send-all", controllers.SendAll(params.Dispatch, logg))
			r.Post("/resend-failed", controllers.ResendFailed(params.Dispatch, logg))
			r.Get("/status", controllers.DispatchStatus(params.Dispatch, logg))
			r.Get("/type-counts", controllers.TypeCounts(params.Dispatch, logg))
		})
	})

	return r
}
