package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/retail-backoffice/internal/app"
	"github.com/angelmondragon/retail-backoffice/internal/cron"
	"github.com/angelmondragon/retail-backoffice/pkg/config"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
	"github.com/angelmondragon/retail-backoffice/pkg/metrics"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox"
)

func main() {
	cfg, logg, err := app.Boot("cron-worker")
	if err == nil {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err = run(app.RunContext(ctx, cfg, logg), cfg, logg)
		stop()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(context.Background(), "cron worker exited", err)
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
	rdb, err := app.OpenRedis(ctx, cfg, logg, closer)
	if err != nil {
		return err
	}
	var lock cron.Lock = &cron.LocalLock{}
	if rdb != nil {
		if lock, err = cron.NewRedisLock(rdb.Raw(), lockKey(cfg), cfg.Cron.LockTTL); err != nil {
			return fmt.Errorf("cron lock: %w", err)
		}
	} else {
		logg.Warn(ctx, "redis not configured; cron lock is process-local")
	}

	domain, err := app.NewDomain(cfg, logg, dbClient, rdb, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	jobs, err := buildJobs(cfg, logg, domain, dbClient.DB())
	if err != nil {
		return err
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   jobs,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.LockTTL / 2,
	})
	if err != nil {
		return err
	}

	metrics.Serve(ctx, cfg.App.MetricsAddr, logg)
	logg.Info(ctx, "cron worker starting")
	err = service.Run(ctx)
	logg.Info(ctx, "cron worker stopped")
	return err
}

func buildJobs(cfg *config.Config, logg *logger.Logger, domain *app.Domain, conn *gorm.DB) (*cron.Registry, error) {
	draftJob, err := cron.NewDraftExpiryJob(cron.DraftExpiryJobParams{
		Logger: logg,
		Orders: domain.Orders,
		TTL:    cfg.Orders.DraftTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("draft expiry job: %w", err)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outbox.NewRepository(conn),
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}
	dlqJob, err := cron.NewDLQWatchJob(logg, outbox.NewDLQRepository(conn))
	if err != nil {
		return nil, fmt.Errorf("dlq watch job: %w", err)
	}
	return cron.NewRegistry(draftJob, retentionJob, dlqJob)
}

// lockKey scopes the cron lease to the redis namespace and environment.
func lockKey(cfg *config.Config) string {
	env := cfg.App.Env
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf("%s:cron-worker:lock:%s", cfg.Redis.Namespace, env)
}
