// Package app holds the process bootstrap shared by the binaries under cmd/.
package app

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/retail-backoffice/internal/catalog"
	"github.com/angelmondragon/retail-backoffice/internal/coupons"
	"github.com/angelmondragon/retail-backoffice/internal/inventory"
	"github.com/angelmondragon/retail-backoffice/internal/ledger"
	"github.com/angelmondragon/retail-backoffice/internal/orders"
	"github.com/angelmondragon/retail-backoffice/internal/payments"
	"github.com/angelmondragon/retail-backoffice/internal/reports"
	"github.com/angelmondragon/retail-backoffice/pkg/config"
	"github.com/angelmondragon/retail-backoffice/pkg/db"
	"github.com/angelmondragon/retail-backoffice/pkg/instance"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
	"github.com/angelmondragon/retail-backoffice/pkg/metrics"
	"github.com/angelmondragon/retail-backoffice/pkg/migrate"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox"
	"github.com/angelmondragon/retail-backoffice/pkg/redis"
)

// Boot loads .env and the environment config, then returns a logger tuned
// to it. kind names the binary in every log line.
func Boot(kind string) (*config.Config, *logger.Logger, error) {
	logg := logger.New(logger.Options{ServiceName: kind})
	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), "no .env file, using process environment")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, logg, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = kind
	return cfg, logger.New(logger.Options{
		ServiceName: kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	}), nil
}

// RunContext decorates ctx with the fields every worker log line carries.
func RunContext(ctx context.Context, cfg *config.Config, logg *logger.Logger) context.Context {
	return logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
}

// Closer collects shutdown hooks and runs them in reverse order.
type Closer struct {
	logg  *logger.Logger
	hooks []closeHook
}

type closeHook struct {
	name string
	fn   func() error
}

func NewCloser(logg *logger.Logger) *Closer {
	return &Closer{logg: logg}
}

func (c *Closer) Add(name string, fn func() error) {
	c.hooks = append(c.hooks, closeHook{name: name, fn: fn})
}

func (c *Closer) Close() {
	for i := len(c.hooks) - 1; i >= 0; i-- {
		hook := c.hooks[i]
		if err := hook.fn(); err != nil {
			c.logg.Error(context.Background(), "close "+hook.name, err)
		}
	}
}

// OpenDB connects to the database and applies dev migrations when the
// feature flag allows it.
func OpenDB(ctx context.Context, cfg *config.Config, logg *logger.Logger, closer *Closer) (*db.Client, error) {
	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	closer.Add("database", client.Close)
	if err := migrate.MaybeRunDev(ctx, cfg, logg, client); err != nil {
		return nil, fmt.Errorf("dev migrations: %w", err)
	}
	return client, nil
}

// OpenRedis returns nil without error when Redis is not configured.
func OpenRedis(ctx context.Context, cfg *config.Config, logg *logger.Logger, closer *Closer) (*redis.Client, error) {
	if !cfg.Redis.Enabled() {
		return nil, nil
	}
	client, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	closer.Add("redis", client.Close)
	return client, nil
}

// Domain is the set of order fulfillment services built over one database.
type Domain struct {
	Outbox    *outbox.Service
	Ledger    ledger.Service
	Orders    orders.Service
	Payments  payments.Service
	Inventory inventory.Service
	Reports   reports.Service
}

// NewDomain wires the fulfillment services. A nil redis client disables
// distributed coupon locks.
func NewDomain(cfg *config.Config, logg *logger.Logger, client *db.Client, rdb *redis.Client, reg prometheus.Registerer) (*Domain, error) {
	conn := client.DB()
	locker := coupons.NoopLocker()
	if rdb != nil && cfg.FeatureFlags.CouponLocks {
		locker = coupons.NewRedisLocker(rdb.Raw(), rdb.Key, 0)
	}

	d := &Domain{Outbox: outbox.NewService(outbox.NewRepository(conn), logg)}
	orderMetrics := metrics.NewOrderMetrics(reg)
	ordersRepo := orders.NewRepository(conn)
	resolver := catalog.NewResolver(conn)

	var err error
	if d.Ledger, err = ledger.NewService(ledger.NewRepository(conn), client); err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}
	couponSvc, err := coupons.NewService(coupons.NewRepository(conn))
	if err != nil {
		return nil, fmt.Errorf("coupon service: %w", err)
	}
	d.Orders, err = orders.NewService(orders.ServiceParams{
		Repo:     ordersRepo,
		Catalog:  resolver,
		Ledger:   d.Ledger,
		Coupons:  couponSvc,
		Locker:   locker,
		Outbox:   d.Outbox,
		TxRunner: client,
		Logger:   logg,
		Metrics:  orderMetrics,
		Location: cfg.Orders.Location(),
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}
	d.Payments, err = payments.NewService(payments.ServiceParams{
		Repo:      payments.NewRepository(conn),
		Orders:    ordersRepo,
		Outbox:    d.Outbox,
		TxRunner:  client,
		Tolerance: cfg.Payments.Tolerance(),
		Logger:    logg,
		Metrics:   orderMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}
	d.Inventory, err = inventory.NewService(inventory.ServiceParams{
		Ledger:   d.Ledger,
		Catalog:  resolver,
		Branches: ordersRepo,
		Outbox:   d.Outbox,
		TxRunner: client,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("inventory service: %w", err)
	}
	if d.Reports, err = reports.NewService(reports.NewRepository(conn), nil); err != nil {
		return nil, fmt.Errorf("reports service: %w", err)
	}
	return d, nil
}
