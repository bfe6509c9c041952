package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/packfinderz-stock/api/controllers"
	"github.com/angelmondragon/packfinderz-stock/api/middleware"
	"github.com/angelmondragon/packfinderz-stock/internal/movements"
	"github.com/angelmondragon/packfinderz-stock/internal/reservations"
	"github.com/angelmondragon/packfinderz-stock/internal/stock"
	"github.com/angelmondragon/packfinderz-stock/pkg/config"
	"github.com/angelmondragon/packfinderz-stock/pkg/db"
	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
	"github.com/angelmondragon/packfinderz-stock/pkg/metrics"
	"github.com/angelmondragon/packfinderz-stock/pkg/redis"
)

// Dependencies are the services the HTTP surface exposes. Idempotency,
// Gatherer and HTTPMetrics are optional.
type Dependencies struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           db.Pinger
	Redis        redis.Pinger
	Idempotency  redis.IdempotencyStore
	Gatherer     prometheus.Gatherer
	HTTPMetrics  *metrics.HTTPMetrics
	Stock        stock.Service
	Movements    movements.Service
	Reservations reservations.Manager
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, deps.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	readiness := []controllers.Dependency{}
	if deps.DB != nil {
		readiness = append(readiness, controllers.Dependency{Name: "database", Ping: deps.DB.Ping})
	}
	if deps.Redis != nil {
		readiness = append(readiness, controllers.Dependency{Name: "redis", Ping: deps.Redis.Ping})
	}
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness...))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Actor(logg))
		r.Use(middleware.Idempotency(deps.Idempotency, logg))

		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", controllers.Reserve(deps.Reservations, logg))
			r.Get("/orders/{orderId}", controllers.OrderReservations(deps.Reservations, logg))
			r.Post("/orders/{orderId}/confirm", controllers.ConfirmOrder(deps.Reservations, logg))
			r.Post("/orders/{orderId}/release", controllers.ReleaseOrder(deps.Reservations, logg))
			r.Post("/{reservationId}/release", controllers.ReleaseReservation(deps.Reservations, logg))
		})

		r.Route("/availability", func(r chi.Router) {
			r.Get("/{productId}", controllers.ProductAvailability(deps.Stock, logg))
			r.Post("/batch", controllers.BatchAvailability(deps.Stock, logg))
		})

		r.Route("/stock-items", func(r chi.Router) {
			r.Get("/", controllers.ListStockItems(deps.Stock, logg))
			r.Get("/low-stock", controllers.ListLowStock(deps.Stock, logg))
			r.Get("/{stockItemId}/movements", controllers.StockItemMovements(deps.Movements, logg))
			r.Get("/{stockItemId}/reconcile", controllers.ReconcileStockItem(deps.Stock, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireIdentifiedActor(logg, enums.ActorUser, enums.ActorService))
				r.Post("/{stockItemId}/adjust", controllers.AdjustStockItem(deps.Stock, logg))
				r.Post("/import", controllers.ImportStockItems(deps.Stock, logg))
			})
		})

		r.Get("/movements", controllers.MovementsByReference(deps.Movements, logg))
	})

	return r
}
