package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/retail-backoffice/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

// Handler serves /metrics for the default gatherer.
func Handler() http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Serve exposes Handler on addr until ctx is done. An empty addr returns at
// once. Listener failures are logged, never fatal: a worker keeps running
// without its scrape endpoint.
func Serve(ctx context.Context, addr string, logg *logger.Logger) {
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logg.Info(logg.WithField(ctx, "addr", addr), "metrics listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics listener failed", err)
		}
	}()
}
