package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/retail-backoffice/internal/app"
	"github.com/angelmondragon/retail-backoffice/pkg/config"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
	"github.com/angelmondragon/retail-backoffice/pkg/metrics"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox/registry"
	"github.com/angelmondragon/retail-backoffice/pkg/pubsub"
)

func main() {
	cfg, logg, err := app.Boot("outbox-publisher")
	if err == nil {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err = run(app.RunContext(ctx, cfg, logg), cfg, logg)
		stop()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(context.Background(), "outbox publisher exited", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	closer := app.NewCloser(logg)
	defer closer.Close()

	dbClient, err := app.OpenDB(ctx, cfg, logg, closer)
	if err != nil {
		return err
	}
	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, pubsub.RolePublisher, logg)
	if err != nil {
		return fmt.Errorf("connect pubsub: %w", err)
	}
	closer.Add("pubsub", pubsubClient.Close)

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}
	conn := dbClient.DB()
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(conn),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(conn),
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}

	metrics.Serve(ctx, cfg.App.MetricsAddr, logg)
	logg.Info(ctx, "outbox publisher starting")
	err = service.Run(ctx)
	logg.Info(ctx, "outbox publisher stopped")
	return err
}
