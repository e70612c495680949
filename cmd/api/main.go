package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/retail-backoffice/api/controllers"
	"github.com/angelmondragon/retail-backoffice/api/routes"
	"github.com/angelmondragon/retail-backoffice/internal/app"
	"github.com/angelmondragon/retail-backoffice/pkg/config"
	"github.com/angelmondragon/retail-backoffice/pkg/env"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, logg, err := app.Boot("api")
	if err == nil {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err = run(ctx, cfg, logg)
		stop()
	}
	if err != nil {
		logg.Error(context.Background(), "api exited", err)
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
	readiness := map[string]controllers.Pinger{"db": dbClient}
	if rdb != nil {
		readiness["redis"] = rdb
	} else {
		logg.Warn(ctx, "redis not configured; idempotency replay and rate limits disabled")
	}

	domain, err := app.NewDomain(cfg, logg, dbClient, rdb, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr: ":" + env.Get("PORT", cfg.App.Port),
		Handler: routes.NewRouter(routes.Deps{
			Config:    cfg,
			Logger:    logg,
			Redis:     rdb,
			Readiness: readiness,
			Orders:    domain.Orders,
			Payments:  domain.Payments,
			Inventory: domain.Inventory,
			Reports:   domain.Reports,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ctx = logg.WithField(app.RunContext(ctx, cfg, logg), "addr", server.Addr)
	return serve(ctx, server, logg)
}

// serve blocks until the listener fails or ctx is canceled, then drains
// in-flight requests for up to shutdownTimeout.
func serve(ctx context.Context, server *http.Server, logg *logger.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logg.Info(ctx, "api server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logg.Info(ctx, "api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
