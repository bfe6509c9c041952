package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/packfinderz-stock/api/routes"
	"github.com/angelmondragon/packfinderz-stock/internal/bootstrap"
	"github.com/angelmondragon/packfinderz-stock/pkg/metrics"
)

const (
	serviceName     = "api"
	shutdownTimeout = 15 * time.Second
)

func main() {
	ctx := context.Background()
	rt, err := bootstrap.Start(ctx, serviceName)
	if err != nil {
		bootstrap.Fail(serviceName, err)
	}
	defer rt.Close()
	cfg := rt.Config

	redisClient, err := rt.OpenRedis(ctx)
	if err != nil {
		rt.Exit(ctx, "redis unavailable", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	domain, err := rt.Domain(bootstrap.DomainParams{
		Redis:   redisClient,
		Metrics: metrics.NewReservationMetrics(promRegistry),
	})
	if err != nil {
		rt.Exit(ctx, "failed to wire stock domain", err)
	}

	addr := ":" + listenPort(cfg.App.Port)
	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Dependencies{
			Config:       cfg,
			Logger:       rt.Logger,
			DB:           rt.DB,
			Redis:        redisClient,
			Idempotency:  redisClient,
			Gatherer:     promRegistry,
			HTTPMetrics:  metrics.NewHTTPMetrics(promRegistry),
			Stock:        domain.Stock,
			Movements:    domain.Movements,
			Reservations: domain.Reservations,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, stop := rt.SignalContext(map[string]any{"addr": addr})
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		rt.Logger.Info(runCtx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Exit(runCtx, "api server stopped unexpectedly", err)
		}
	case <-runCtx.Done():
		rt.Logger.Info(runCtx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			rt.Logger.Error(shutdownCtx, "api server shutdown failed", err)
		}
	}
}

// listenPort prefers the platform-injected PORT.
func listenPort(configured string) string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return configured
}
