package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/retail-backoffice/internal/analytics/router"
	"github.com/angelmondragon/retail-backoffice/internal/analytics/worker"
	"github.com/angelmondragon/retail-backoffice/internal/analytics/writer"
	"github.com/angelmondragon/retail-backoffice/internal/app"
	"github.com/angelmondragon/retail-backoffice/pkg/bigquery"
	"github.com/angelmondragon/retail-backoffice/pkg/config"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
	"github.com/angelmondragon/retail-backoffice/pkg/metrics"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox/idempotency"
	"github.com/angelmondragon/retail-backoffice/pkg/pubsub"
)

func main() {
	cfg, logg, err := app.Boot("analytics-worker")
	if err == nil {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err = run(app.RunContext(ctx, cfg, logg), cfg, logg)
		stop()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(context.Background(), "analytics worker exited", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	closer := app.NewCloser(logg)
	defer closer.Close()

	rdb, err := app.OpenRedis(ctx, cfg, logg, closer)
	if err != nil {
		return err
	}
	if rdb == nil {
		return errors.New("redis is required for event idempotency")
	}
	seen, err := idempotency.NewManager(rdb, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return fmt.Errorf("idempotency manager: %w", err)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, pubsub.RoleSubscriber, logg)
	if err != nil {
		return fmt.Errorf("connect pubsub: %w", err)
	}
	closer.Add("pubsub", pubsubClient.Close)
	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		return errors.New("analytics subscription not configured")
	}

	bq, err := openWarehouse(ctx, cfg, logg, closer)
	if err != nil {
		return err
	}
	sales, err := writer.New(bq, writer.Config{SalesTable: bq.SalesTable()})
	if err != nil {
		return fmt.Errorf("sales writer: %w", err)
	}
	handler, err := router.NewRouter(sales, logg, nil)
	if err != nil {
		return fmt.Errorf("analytics router: %w", err)
	}
	service, err := worker.NewService(worker.Params{
		Subscription:   subscription,
		Handler:        handler,
		Idempotency:    seen,
		Logger:         logg,
		Metrics:        metrics.NewConsumerMetrics(prometheus.DefaultRegisterer, worker.ConsumerName),
		MaxOutstanding: cfg.PubSub.MaxOutstanding,
	})
	if err != nil {
		return err
	}

	ctx = logg.WithField(ctx, "table", bq.SalesTable())
	metrics.Serve(ctx, cfg.App.MetricsAddr, logg)
	logg.Info(ctx, "analytics worker starting")
	runErr := service.Run(ctx)
	// Rows buffered below the batch size are written before exit.
	if err := sales.Flush(context.WithoutCancel(ctx)); err != nil {
		logg.Error(ctx, "flush buffered sales rows", err)
	}
	logg.Info(ctx, "analytics worker stopped")
	return runErr
}

func openWarehouse(ctx context.Context, cfg *config.Config, logg *logger.Logger, closer *app.Closer) (*bigquery.Client, error) {
	bq, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		return nil, fmt.Errorf("connect bigquery: %w", err)
	}
	closer.Add("bigquery", bq.Close)
	if cfg.BigQuery.CreateTables {
		if err := bq.EnsureSalesTable(ctx, writer.SalesSchema(), "occurred_at"); err != nil {
			return nil, fmt.Errorf("ensure sales table: %w", err)
		}
	}
	if err := bq.Ping(ctx); err != nil {
		return nil, fmt.Errorf("sales table unavailable: %w", err)
	}
	return bq, nil
}
