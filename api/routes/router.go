package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/retail-backoffice/api/controllers"
	inventorycontrollers "github.com/angelmondragon/retail-backoffice/api/controllers/inventory"
	ordercontrollers "github.com/angelmondragon/retail-backoffice/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/retail-backoffice/api/controllers/payments"
	reportcontrollers "github.com/angelmondragon/retail-backoffice/api/controllers/reports"
	"github.com/angelmondragon/retail-backoffice/api/middleware"
	"github.com/angelmondragon/retail-backoffice/internal/inventory"
	"github.com/angelmondragon/retail-backoffice/internal/orders"
	"github.com/angelmondragon/retail-backoffice/internal/payments"
	"github.com/angelmondragon/retail-backoffice/internal/reports"
	"github.com/angelmondragon/retail-backoffice/pkg/config"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
	"github.com/angelmondragon/retail-backoffice/pkg/redis"
)

// Deps carries everything the router wires. Redis, Metrics and the
// readiness pingers are optional.
type Deps struct {
	Config    *config.Config
	Logger    *logger.Logger
	Redis     *redis.Client
	Readiness map[string]controllers.Pinger
	Metrics   http.Handler

	Orders    orders.Service
	Payments  payments.Service
	Inventory inventory.Service
	Reports   reports.Service
}

func NewRouter(deps Deps) http.Handler {
	cfg, logg := deps.Config, deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness))
	})

	metricsHandler := deps.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Get("/api/public/ping", controllers.PublicPing())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Tenant(logg))
		var idempotencyStore redis.IdempotencyStore
		if deps.Redis != nil {
			r.Use(middleware.RateLimit(
				middleware.NewRateLimitPolicy("writes", cfg.RateLimit.Window, cfg.RateLimit.ShopLimit, cfg.RateLimit.IPLimit),
				deps.Redis,
				logg,
			))
			idempotencyStore = deps.Redis
		}
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Get("/ping", controllers.TenantPing())

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.CreateDraft(deps.Orders, logg))
			r.Get("/", ordercontrollers.List(deps.Orders, logg))
			r.Route("/{orderId}", func(r chi.Router) {
				r.Get("/", ordercontrollers.Detail(deps.Orders, logg))
				r.Post("/lines", ordercontrollers.AddLine(deps.Orders, logg))
				r.Delete("/lines/{lineId}", ordercontrollers.RemoveLine(deps.Orders, logg))
				r.Put("/charges", ordercontrollers.SetCharges(deps.Orders, logg))
				r.Post("/coupons", ordercontrollers.ApplyCoupon(deps.Orders, logg))
				r.Post("/confirm", ordercontrollers.Confirm(deps.Orders, logg))
				r.Post("/cancel", ordercontrollers.Cancel(deps.Orders, logg))
				r.Post("/fulfill", ordercontrollers.Fulfill(deps.Orders, logg))
				r.Post("/complete", ordercontrollers.Complete(deps.Orders, logg))
				r.Post("/payments", paymentcontrollers.Record(deps.Payments, logg))
				r.Get("/payments", paymentcontrollers.History(deps.Payments, logg))
			})
		})

		r.Get("/payment-methods", paymentcontrollers.Methods(deps.Payments, logg))

		r.Route("/inventory/{variantId}", func(r chi.Router) {
			r.Get("/", inventorycontrollers.Get(deps.Inventory, logg))
			r.Post("/receive", inventorycontrollers.Receive(deps.Inventory, logg))
			r.Post("/adjust", inventorycontrollers.Adjust(deps.Inventory, logg))
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/revenue-daily", reportcontrollers.RevenueDaily(deps.Reports, logg))
			r.Get("/personal-sales", reportcontrollers.PersonalSales(deps.Reports, logg))
			r.Get("/payments", reportcontrollers.Payments(deps.Reports, logg))
		})
	})

	return r
}
